package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lightlink/protocol"
)

var errUnexpectedValue = errors.New("device: reply value does not match request")

// Exchange sends cmd once and waits up to timeout for a reply. The first
// decodable reply completes the exchange.
func (c *Client) Exchange(cmd protocol.Command, timeout time.Duration) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exchange(cmd, nil, timeout, 1)
}

// ExchangeExpect sends cmd once and waits up to timeout for an OK reply
// carrying value. A reply with a non-OK code ends the wait regardless of
// its value.
func (c *Client) ExchangeExpect(cmd protocol.Command, value uint32, timeout time.Duration) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exchange(cmd, &value, timeout, 1)
}

// exchange runs one SENT -> AWAITING -> {MATCHED, FAULTED, TIMED_OUT} cycle.
// Lines that do not decode are skipped without extending the deadline.
func (c *Client) exchange(cmd protocol.Command, expect *uint32, timeout time.Duration, attempt int) (protocol.Response, error) {
	frame, err := protocol.EncodeFrame(cmd)
	if err != nil {
		return protocol.Response{}, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(context.Background()); err != nil {
			return protocol.Response{}, fmt.Errorf("pace %s: %w", cmd.ID, err)
		}
	}

	ev := ExchangeEvent{Command: cmd, Attempt: attempt, State: StateSent}
	start := time.Now()
	done := func(resp protocol.Response, err error) (protocol.Response, error) {
		ev.Response = resp
		ev.Err = err
		ev.Elapsed = time.Since(start)
		c.observer.ExchangeDone(ev)
		return resp, err
	}

	if err := c.writeFrame(frame); err != nil {
		return done(protocol.Response{}, fmt.Errorf("send %s: %w", cmd.ID, err))
	}
	c.observer.FrameSent(cmd, frame)
	ev.State = StateAwaiting

	deadline := start.Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			ev.State = StateTimedOut
			return done(protocol.Response{}, fmt.Errorf("%w: %s after %v", ErrTimeout, cmd.ID, timeout))
		}

		line, err := c.ch.ReadLine(remaining)
		if err != nil {
			return done(protocol.Response{}, fmt.Errorf("await %s: %w", cmd.ID, err))
		}
		if line == nil {
			continue
		}

		resp, err := protocol.DecodeResponse(line)
		if err != nil {
			ev.Skipped++
			c.observer.LineSkipped(line, err)
			continue
		}

		if !resp.OK() {
			ev.State = StateFaulted
			c.observer.DeviceFault(cmd, resp)
			return done(resp, nil)
		}

		if expect != nil && (!resp.HasValue || resp.Value != *expect) {
			ev.Skipped++
			c.observer.LineSkipped(line, errUnexpectedValue)
			continue
		}

		ev.State = StateMatched
		return done(resp, nil)
	}
}

func (c *Client) writeFrame(frame []byte) error {
	n, err := c.ch.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return fmt.Errorf("%w: %d/%d bytes", ErrIncompleteWrite, n, len(frame))
	}
	return c.ch.Flush()
}
