package device

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"lightlink/protocol"
)

// BackoffConfig defines the delay between retries
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// RetryPolicy bounds how often a timed-out exchange is re-sent
type RetryPolicy struct {
	// MaxAttempts counts the first send; values below 1 mean a single attempt
	MaxAttempts int
	Backoff     BackoffConfig
}

// DefaultRetryPolicy returns the policy used when none is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Backoff: BackoffConfig{
			InitialDelay: 50 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     time.Second,
		},
	}
}

// NextBackoffDelay returns the delay after failed attempt N (1-based)
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// exchangeWithRetry re-sends cmd while it times out. Any other outcome,
// including a device fault or a channel error, ends the loop.
func (c *Client) exchangeWithRetry(cmd protocol.Command, expect *uint32) (protocol.Response, error) {
	maxAttempts := c.retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		resp, err := c.exchange(cmd, expect, c.timeout, attempt)
		if err == nil || !errors.Is(err, ErrTimeout) {
			return resp, err
		}
		if attempt >= maxAttempts {
			return resp, fmt.Errorf("%w: %s after %d attempts: %w", ErrRetriesExhausted, cmd.ID, attempt, err)
		}

		delay := NextBackoffDelay(c.retry.Backoff, attempt, c.rng)
		c.observer.Retry(cmd, attempt, delay, err)
		if delay > 0 {
			c.sleep(delay)
		}
	}
}
