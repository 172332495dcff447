package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"lightlink/host/config"
	"lightlink/host/device"
	"lightlink/host/serial"
	"lightlink/host/telemetry"
)

const appName = "lights-host"

// dialFunc opens the channel to the device
type dialFunc func(cfg serial.Config) (device.Channel, io.Closer, error)

func dialSerial(cfg serial.Config) (device.Channel, io.Closer, error) {
	port, err := serial.Open(&cfg)
	if err != nil {
		return nil, nil, err
	}
	ch := serial.NewLineChannel(port)
	// Drop whatever the firmware printed before we attached
	ch.Discard()
	return ch, ch, nil
}

// app carries state shared by every command of one invocation, including
// the commands run from the interactive shell
type app struct {
	configPath  string
	device      string
	baud        int
	timeout     time.Duration
	logLevel    string
	metricsAddr string

	dial  dialFunc
	ready bool

	cfg     config.Config
	log     zerolog.Logger
	metrics *telemetry.Metrics
	server  *http.Server

	client *device.Client
	closer io.Closer
}

func newApp(dial dialFunc) *app {
	return &app{dial: dial, log: zerolog.Nop()}
}

// setup resolves configuration: defaults, then file and environment, then flags
func (a *app) setup(stderr io.Writer) error {
	if a.ready {
		return nil
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.device != "" {
		cfg.Serial.Device = a.device
	}
	if a.baud > 0 {
		cfg.Serial.Baud = a.baud
	}
	if a.timeout > 0 {
		cfg.Exchange.Timeout = a.timeout
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.metricsAddr != "" {
		cfg.Metrics.Addr = a.metricsAddr
	}

	log, err := telemetry.NewLogger(stderr, appName, cfg.Log.Level, cfg.Log.NoColor)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	a.ready = true
	return nil
}

// connect opens the device on first use
func (a *app) connect() (*device.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	if a.cfg.Serial.Device == "" {
		return nil, fmt.Errorf("no serial device: set --device, %s or [serial] device", config.EnvDevice)
	}

	ch, closer, err := a.dial(a.cfg.Serial)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", a.cfg.Serial.Device, err)
	}
	a.closer = closer

	observers := device.Observers{telemetry.NewLogObserver(a.log)}
	if a.cfg.Metrics.Addr != "" {
		reg := telemetry.NewRegistry()
		a.metrics = telemetry.NewMetrics(reg)
		observers = append(observers, a.metrics)
		a.serveMetrics(reg)
	}

	opts := append(a.cfg.ClientOptions(), device.WithObserver(observers))
	a.client = device.New(ch, opts...)
	a.log.Debug().
		Str("device", a.cfg.Serial.Device).
		Int("baud", a.cfg.Serial.Baud).
		Dur("timeout", a.client.Timeout()).
		Msg("connected")
	return a.client, nil
}

func (a *app) serveMetrics(reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler(reg))
	a.server = &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Str("addr", a.cfg.Metrics.Addr).Msg("metrics server")
		}
	}()
	a.log.Info().Str("addr", a.cfg.Metrics.Addr).Msg("serving metrics")
}

func (a *app) close() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			a.log.Warn().Err(err).Msg("metrics server shutdown")
		}
	}
	if a.closer != nil {
		if err := a.closer.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close device")
		}
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "Drive a Lights-MCU LED controller over its serial protocol",
		Long: `lights-host talks to a Lights-MCU controller over a serial line.

It reads and writes configuration registers, sets individual pixels,
uploads run-length compacted frames into device files and starts or
stops playback.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.ErrOrStderr())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "TOML configuration file")
	flags.StringVarP(&a.device, "device", "d", "", "serial device path (e.g. /dev/ttyACM0)")
	flags.IntVar(&a.baud, "baud", 0, "baud rate (ignored for USB CDC)")
	flags.DurationVar(&a.timeout, "timeout", 0, "per-exchange reply timeout")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	root.AddCommand(deviceCommands(a)...)
	root.AddCommand(shellCmd(a))
	return root
}

func main() {
	a := newApp(dialSerial)
	root := newRootCmd(a)
	err := root.Execute()
	a.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		var devErr *device.DeviceError
		if errors.As(err, &devErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
