// Package retry provides the jittered exponential backoff and error
// classification shared by every retrying caller.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retried operation.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Jitter is the randomization factor applied to each delay.
	Jitter float64
	// MaxAttempts is the generic attempt bound used when the error
	// classifier has no tighter opinion. First try included.
	MaxAttempts int
}

// DefaultPolicy is tuned for a local metrics sink: quick first retry,
// capped at 30s between attempts.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
		Jitter:          0.15,
		MaxAttempts:     5,
	}
}

func (p Policy) newBackOff() backoff.BackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.InitialInterval),
		backoff.WithMaxInterval(p.MaxInterval),
		backoff.WithMultiplier(p.Multiplier),
		backoff.WithRandomizationFactor(p.Jitter),
		// Attempt bounds are enforced by Do, not by elapsed time.
		backoff.WithMaxElapsedTime(0),
	)
}

// Delay computes the nominal (pre-jitter) delay before the given retry
// attempt, counted from 1. Exposed for callers that schedule their own
// waits.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.InitialInterval
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d > p.MaxInterval {
			return p.MaxInterval
		}
	}
	return d
}

// Do runs op, retrying on failure under the policy's jittered exponential
// backoff. Each failure is classified first: fatal errors are returned
// immediately, and pattern-specific attempt bounds override the policy
// bound. The last error is returned once attempts are exhausted or ctx is
// done.
func Do(ctx context.Context, p Policy, name string, op func() error) error {
	bo := p.newBackOff()

	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}

		class := Classify(err)
		if class.Fatal {
			slog.Error("operation failed with non-retryable error", "op", name, "err", err)
			return err
		}

		bound := p.MaxAttempts
		if class.MaxAttempts > 0 {
			bound = class.MaxAttempts
		}
		if attempt >= bound {
			slog.Warn("operation failed, attempts exhausted", "op", name, "attempts", attempt, "err", err)
			return err
		}

		wait := bo.NextBackOff()
		slog.Warn("operation failed, retrying", "op", name, "attempt", attempt, "backoff", wait, "err", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
