// Package config loads lights-host settings from a TOML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"lightlink/host/device"
	"lightlink/host/serial"
)

const (
	EnvDevice   = "LIGHTS_DEVICE"
	EnvLogLevel = "LIGHTS_LOG_LEVEL"
)

// Config is the resolved host configuration
type Config struct {
	Serial   serial.Config
	Exchange Exchange
	Log      Log
	Metrics  Metrics
}

// Exchange controls the protocol client
type Exchange struct {
	Timeout time.Duration
	Retry   device.RetryPolicy
	// FrameRate caps outbound frames per second; zero disables pacing
	FrameRate float64
}

type Log struct {
	Level   string
	NoColor bool
}

// Metrics.Addr empty disables the metrics listener
type Metrics struct {
	Addr string
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Serial: *serial.DefaultConfig(""),
		Exchange: Exchange{
			Timeout: device.DefaultTimeout,
			Retry:   device.DefaultRetryPolicy(),
		},
		Log: Log{Level: "info"},
	}
}

type fileConfig struct {
	Serial struct {
		Device      string `toml:"device"`
		Baud        int    `toml:"baud"`
		ReadTimeout string `toml:"read_timeout"`
	} `toml:"serial"`
	Exchange struct {
		Timeout           string  `toml:"timeout"`
		MaxAttempts       int     `toml:"max_attempts"`
		BackoffInitial    string  `toml:"backoff_initial"`
		BackoffMultiplier float64 `toml:"backoff_multiplier"`
		BackoffMax        string  `toml:"backoff_max"`
		Jitter            bool    `toml:"jitter"`
		FrameRate         float64 `toml:"frame_rate"`
	} `toml:"exchange"`
	Log struct {
		Level   string `toml:"level"`
		NoColor bool   `toml:"no_color"`
	} `toml:"log"`
	Metrics struct {
		Addr string `toml:"addr"`
	} `toml:"metrics"`
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) decodeFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("serial", "device") {
		cfg.Serial.Device = strings.TrimSpace(raw.Serial.Device)
	}
	if meta.IsDefined("serial", "baud") {
		cfg.Serial.Baud = raw.Serial.Baud
	}
	if meta.IsDefined("serial", "read_timeout") {
		d, err := parseDuration("serial.read_timeout", raw.Serial.ReadTimeout)
		if err != nil {
			return err
		}
		cfg.Serial.ReadTimeout = d
	}

	ex := raw.Exchange
	if meta.IsDefined("exchange", "timeout") {
		d, err := parseDuration("exchange.timeout", ex.Timeout)
		if err != nil {
			return err
		}
		cfg.Exchange.Timeout = d
	}
	if meta.IsDefined("exchange", "max_attempts") {
		cfg.Exchange.Retry.MaxAttempts = ex.MaxAttempts
	}
	if meta.IsDefined("exchange", "backoff_initial") {
		d, err := parseDuration("exchange.backoff_initial", ex.BackoffInitial)
		if err != nil {
			return err
		}
		cfg.Exchange.Retry.Backoff.InitialDelay = d
	}
	if meta.IsDefined("exchange", "backoff_multiplier") {
		cfg.Exchange.Retry.Backoff.Multiplier = ex.BackoffMultiplier
	}
	if meta.IsDefined("exchange", "backoff_max") {
		d, err := parseDuration("exchange.backoff_max", ex.BackoffMax)
		if err != nil {
			return err
		}
		cfg.Exchange.Retry.Backoff.MaxDelay = d
	}
	if meta.IsDefined("exchange", "jitter") {
		cfg.Exchange.Retry.Backoff.Jitter = ex.Jitter
	}
	if meta.IsDefined("exchange", "frame_rate") {
		cfg.Exchange.FrameRate = ex.FrameRate
	}

	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "no_color") {
		cfg.Log.NoColor = raw.Log.NoColor
	}
	if meta.IsDefined("metrics", "addr") {
		cfg.Metrics.Addr = strings.TrimSpace(raw.Metrics.Addr)
	}
	return nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

// ApplyEnv overrides settings from the environment
func (cfg *Config) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvDevice)); v != "" {
		cfg.Serial.Device = v
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		cfg.Log.Level = v
	}
}

// Validate rejects settings the client cannot run with
func (cfg Config) Validate() error {
	var errs []error
	if cfg.Serial.Baud <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud must be positive, got %d", cfg.Serial.Baud))
	}
	if cfg.Serial.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("serial.read_timeout must be positive, got %v", cfg.Serial.ReadTimeout))
	}
	if cfg.Exchange.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("exchange.timeout must be positive, got %v", cfg.Exchange.Timeout))
	}
	if cfg.Exchange.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("exchange.max_attempts must be at least 1, got %d", cfg.Exchange.Retry.MaxAttempts))
	}
	if cfg.Exchange.Retry.Backoff.InitialDelay < 0 || cfg.Exchange.Retry.Backoff.MaxDelay < 0 {
		errs = append(errs, errors.New("exchange backoff delays must not be negative"))
	}
	if cfg.Exchange.FrameRate < 0 {
		errs = append(errs, fmt.Errorf("exchange.frame_rate must not be negative, got %v", cfg.Exchange.FrameRate))
	}
	return errors.Join(errs...)
}

// ClientOptions translates the exchange settings for device.New
func (cfg Config) ClientOptions() []device.Option {
	return []device.Option{
		device.WithTimeout(cfg.Exchange.Timeout),
		device.WithRetryPolicy(cfg.Exchange.Retry),
		device.WithFrameRate(cfg.Exchange.FrameRate),
	}
}
