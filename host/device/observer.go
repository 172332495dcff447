package device

import (
	"time"

	"lightlink/protocol"
)

// State is a step of the exchange state machine
type State uint8

const (
	StateSent State = iota
	StateAwaiting
	StateMatched
	StateFaulted
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateSent:
		return "sent"
	case StateAwaiting:
		return "awaiting"
	case StateMatched:
		return "matched"
	case StateFaulted:
		return "faulted"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// ExchangeEvent describes one finished exchange attempt. A channel failure
// leaves State at the step where it happened and sets Err.
type ExchangeEvent struct {
	Command  protocol.Command
	Attempt  int
	State    State
	Response protocol.Response
	Err      error
	Elapsed  time.Duration
	Skipped  int
}

// Observer receives protocol activity. Implementations must not call back
// into the Client.
type Observer interface {
	FrameSent(cmd protocol.Command, frame []byte)
	LineSkipped(line []byte, err error)
	DeviceFault(cmd protocol.Command, resp protocol.Response)
	Retry(cmd protocol.Command, attempt int, delay time.Duration, err error)
	ExchangeDone(ev ExchangeEvent)
}

// NopObserver ignores everything
type NopObserver struct{}

func (NopObserver) FrameSent(protocol.Command, []byte)                {}
func (NopObserver) LineSkipped([]byte, error)                         {}
func (NopObserver) DeviceFault(protocol.Command, protocol.Response)   {}
func (NopObserver) Retry(protocol.Command, int, time.Duration, error) {}
func (NopObserver) ExchangeDone(ExchangeEvent)                        {}

// Observers fans out to several observers in order
type Observers []Observer

func (o Observers) FrameSent(cmd protocol.Command, frame []byte) {
	for _, obs := range o {
		obs.FrameSent(cmd, frame)
	}
}

func (o Observers) LineSkipped(line []byte, err error) {
	for _, obs := range o {
		obs.LineSkipped(line, err)
	}
}

func (o Observers) DeviceFault(cmd protocol.Command, resp protocol.Response) {
	for _, obs := range o {
		obs.DeviceFault(cmd, resp)
	}
}

func (o Observers) Retry(cmd protocol.Command, attempt int, delay time.Duration, err error) {
	for _, obs := range o {
		obs.Retry(cmd, attempt, delay, err)
	}
}

func (o Observers) ExchangeDone(ev ExchangeEvent) {
	for _, obs := range o {
		obs.ExchangeDone(ev)
	}
}
