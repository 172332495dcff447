// Package device implements the host side of the Lights-MCU protocol:
// one command at a time, each answered by a reply line from the device.
package device

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"lightlink/protocol"
)

var (
	ErrTimeout          = errors.New("device: no response before timeout")
	ErrRetriesExhausted = errors.New("device: retries exhausted")
	ErrIncompleteWrite  = errors.New("device: incomplete write")
	ErrMissingValue     = errors.New("device: response carries no value")
)

// DefaultTimeout is how long one exchange waits for its reply
const DefaultTimeout = 500 * time.Millisecond

// Channel is the byte stream to the device. ReadLine returns nil, nil when
// no complete line arrives before timeout.
type Channel interface {
	Write(b []byte) (int, error)
	Flush() error
	ReadLine(timeout time.Duration) ([]byte, error)
}

// DeviceError is a command the device answered with a non-OK code
type DeviceError struct {
	Command  protocol.Command
	Response protocol.Response
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device rejected %s: %s", e.Command.ID, e.Response)
}

// Unwrap exposes the device's error code to errors.Is
func (e *DeviceError) Unwrap() error {
	return e.Response.Error
}

// Client drives a single device over a Channel it owns exclusively.
// The protocol has no request ids, so every public method holds the
// client lock for its whole duration and at most one command is in flight.
type Client struct {
	mu sync.Mutex

	ch       Channel
	timeout  time.Duration
	retry    RetryPolicy
	observer Observer
	limiter  *rate.Limiter

	rng   *rand.Rand
	sleep func(time.Duration)
}

// Option configures a Client
type Option func(*Client)

// WithTimeout sets the per-exchange reply timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetryPolicy sets how timed-out exchanges are retried
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithObserver reports exchanges, retries and faults to o
func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithFrameRate caps outbound frames per second so the device's UART
// parser is not overrun. Zero disables pacing.
func WithFrameRate(perSecond float64) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		} else {
			c.limiter = nil
		}
	}
}

// New creates a client on ch
func New(ch Channel, opts ...Option) *Client {
	c := &Client{
		ch:       ch,
		timeout:  DefaultTimeout,
		retry:    DefaultRetryPolicy(),
		observer: NopObserver{},
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout returns the per-exchange reply timeout
func (c *Client) Timeout() time.Duration {
	return c.timeout
}
