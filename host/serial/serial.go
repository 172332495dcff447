// Package serial provides the byte channel the protocol client talks through
package serial

import (
	"io"
	"time"
)

// Port represents a serial port
// This abstraction allows for different implementations:
// - Native serial (using github.com/tarm/serial)
// - In-memory ports for testing
type Port interface {
	io.ReadWriteCloser

	// Flush flushes any buffered data
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate (USB CDC ignores this)
	Baud int

	// ReadTimeout bounds a single port read. It is the granularity of
	// LineChannel.ReadLine deadlines.
	ReadTimeout time.Duration
}

// DefaultConfig returns the configuration the Lights-MCU firmware expects
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100 * time.Millisecond,
	}
}
