// Package retry provides the bounded exponential-backoff policy used at
// publish and write-through call sites. Retrying lives with the caller, not
// inside publishers or stores.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/user/newspulse/internal/types"
)

// Policy controls how failed calls are retried with exponential backoff.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultPolicy returns a Policy with sensible defaults:
// 3 attempts, 1s initial delay, 2x multiplier, 30s max delay.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
	}
}

// ShouldRetry returns true if the error is retryable under the pipeline's
// taxonomy and the attempt count has not exceeded MaxAttempts.
func (p *Policy) ShouldRetry(err error, attempt int) bool {
	if attempt > p.MaxAttempts {
		return false
	}
	return types.Retryable(err)
}

// NextDelay returns the backoff delay for the given attempt number
// (1-indexed): InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p *Policy) NextDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Execute runs fn up to MaxAttempts times, sleeping between retries with
// exponential backoff. Returns nil on success, the last error if all
// attempts fail, or early on non-retryable errors and context cancellation.
func (p *Policy) Execute(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !p.ShouldRetry(err, attempt) {
			return err
		}
		if attempt < p.MaxAttempts {
			select {
			case <-time.After(p.NextDelay(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}
