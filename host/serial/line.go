package serial

import (
	"errors"
	"fmt"
	"io"
	"time"

	"lightlink/protocol"
)

const (
	// LineBufferSize bounds one reply line; longer lines are dropped
	LineBufferSize = 512

	idlePoll = 5 * time.Millisecond
)

// LineChannel turns a Port into the line-oriented channel the device client
// reads replies from. It is owned by a single client and is not safe for
// concurrent use.
type LineChannel struct {
	port    Port
	lines   *protocol.LineBuffer
	scratch []byte

	dropped int
}

// NewLineChannel wraps port
func NewLineChannel(port Port) *LineChannel {
	return &LineChannel{
		port:    port,
		lines:   protocol.NewLineBuffer(LineBufferSize),
		scratch: make([]byte, 256),
	}
}

// Write sends raw bytes to the device
func (c *LineChannel) Write(b []byte) (int, error) {
	return c.port.Write(b)
}

// Flush flushes the underlying port
func (c *LineChannel) Flush() error {
	return c.port.Flush()
}

// ReadLine returns the next newline-terminated line with the delimiter
// stripped. If no full line arrives before timeout it returns nil, nil.
// The deadline may be overshot by one port read timeout.
func (c *LineChannel) ReadLine(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)

	for {
		if line, ok := c.lines.NextLine(); ok {
			return line, nil
		}

		// A full buffer without a delimiter can never produce a line
		if c.lines.Free() == 0 {
			c.lines.Reset()
			c.dropped++
		}

		want := len(c.scratch)
		if free := c.lines.Free(); free < want {
			want = free
		}
		n, err := c.port.Read(c.scratch[:want])
		if n > 0 {
			c.lines.Write(c.scratch[:n])
			if line, ok := c.lines.NextLine(); ok {
				return line, nil
			}
			// The deadline holds while bytes keep arriving
			if !time.Now().Before(deadline) {
				return nil, nil
			}
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read line: %w", err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		if remaining > idlePoll {
			remaining = idlePoll
		}
		time.Sleep(remaining)
	}
}

// Discard drops any partially received data
func (c *LineChannel) Discard() {
	c.lines.Reset()
}

// Dropped returns how many over-long lines have been thrown away
func (c *LineChannel) Dropped() int {
	return c.dropped
}

// Close closes the underlying port
func (c *LineChannel) Close() error {
	return c.port.Close()
}
