// Package telemetry reports device activity through zerolog and Prometheus
package telemetry

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"lightlink/host/device"
	"lightlink/protocol"
)

// ParseLevel maps a level name to zerolog. An empty name means info.
func ParseLevel(raw string) (zerolog.Level, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(raw)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("log level %q: %w", raw, err)
	}
	return lvl, nil
}

// NewLogger builds a console logger tagged with app. A nil out writes to
// stderr so command output on stdout stays clean.
func NewLogger(out io.Writer, app, level string, noColor bool) (zerolog.Logger, error) {
	if out == nil {
		out = os.Stderr
	}
	lvl, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    noColor,
	}
	return zerolog.New(output).Level(lvl).With().Timestamp().Str("app", app).Logger(), nil
}

// LogObserver writes protocol activity to a zerolog logger
type LogObserver struct {
	Log zerolog.Logger
}

// NewLogObserver returns an observer logging through log
func NewLogObserver(log zerolog.Logger) *LogObserver {
	return &LogObserver{Log: log}
}

func (o *LogObserver) FrameSent(cmd protocol.Command, frame []byte) {
	o.Log.Debug().
		Str("cmd", cmd.ID.String()).
		Int("words", len(cmd.Payload)).
		Str("frame", hex.EncodeToString(frame)).
		Msg("frame sent")
}

func (o *LogObserver) LineSkipped(line []byte, err error) {
	o.Log.Debug().Bytes("line", line).Err(err).Msg("line skipped")
}

func (o *LogObserver) DeviceFault(cmd protocol.Command, resp protocol.Response) {
	ev := o.Log.Warn().
		Str("cmd", cmd.ID.String()).
		Str("code", resp.Error.String()).
		Str("layer", resp.Error.Layer().String())
	if resp.HasValue {
		ev = ev.Uint32("value", resp.Value)
	}
	ev.Msg("device rejected command")
}

func (o *LogObserver) Retry(cmd protocol.Command, attempt int, delay time.Duration, err error) {
	o.Log.Warn().
		Str("cmd", cmd.ID.String()).
		Int("attempt", attempt).
		Dur("delay", delay).
		Err(err).
		Msg("retrying")
}

func (o *LogObserver) ExchangeDone(ev device.ExchangeEvent) {
	e := o.Log.Debug()
	if ev.Err != nil {
		e = o.Log.Info().Err(ev.Err)
	}
	e.Str("cmd", ev.Command.ID.String()).
		Int("attempt", ev.Attempt).
		Str("state", ev.State.String()).
		Dur("elapsed", ev.Elapsed).
		Int("skipped", ev.Skipped).
		Msg("exchange done")
}
