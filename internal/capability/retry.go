package capability

import (
	"context"
	"errors"
	"time"

	"github.com/ledgerline/patternd/pkg/schema"
)

// Default retry bounds: a handler runs at most 3 times, with exponential
// backoff delays of 1s, 2s, 4s between attempts.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// RetryPolicy configures retry behavior for capability invocations.
type RetryPolicy struct {
	MaxAttempts int           // total attempts, including the first
	BaseDelay   time.Duration // delay before the second attempt; doubles each retry
	MaxDelay    time.Duration // optional cap on a single delay (0 = uncapped)
}

// DefaultRetryPolicy returns the default bounds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
	}
}

// Backoff calculates the delay after the given failed attempt (1-based):
// base * 2^(attempt-1), capped at MaxDelay when set.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 || attempt < 1 {
		return 0
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// IsRetryable classifies whether a handler failure should be retried.
// Only failures a handler explicitly marks transient are retried; a plain
// error is treated as non-retryable and surfaces immediately. Context
// cancellation is never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var engErr *schema.EngineError
	if errors.As(err, &engErr) {
		return engErr.IsRetryable()
	}
	return false
}

// WaitForBackoff sleeps for the delay or returns early if the context is
// cancelled during the wait.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
