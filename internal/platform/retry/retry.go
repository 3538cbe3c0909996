// Package retry provides exponential-backoff retries and a circuit breaker
// for the unreliable external fetch path
package retry

import (
	"context"
	"time"

	perr "calsieve/internal/platform/errors"

	"github.com/cenkalti/backoff/v4"
)

// Options controls the backoff schedule.
// Delay grows as base * 2^attempt with up to 10% random jitter, capped at MaxDelay
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 1 * time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 60 * time.Second
	}
	return o
}

func newBackOff(ctx context.Context, opts Options) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = opts.BaseDelay
	eb.Multiplier = 2.0
	eb.RandomizationFactor = 0.1
	eb.MaxInterval = opts.MaxDelay
	eb.MaxElapsedTime = 0 // bounded by attempt count, not wall clock
	eb.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(opts.MaxAttempts-1)), ctx)
}

// Do runs op with retries. Input/validation-class errors (perr.Permanent) are
// never retried; everything else is retried up to MaxAttempts total attempts.
// The backoff sleep honors ctx cancellation and must never be called while
// holding a lock guarding cache or breaker state
func Do(ctx context.Context, op func() error, opts Options) error {
	opts = opts.withDefaults()

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if perr.Permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(wrapped, newBackOff(ctx, opts))
}

// DoContended is the inverse gate of Do, for short database transactions:
// only errors that perr.Retryable classifies as server-side contention
// (serialization failures, deadlocks, lock timeouts) are retried; anything
// else fails on the first attempt
func DoContended(ctx context.Context, op func() error, opts Options) error {
	opts = opts.withDefaults()

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !perr.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(wrapped, newBackOff(ctx, opts))
}
