package usecase

import (
	"context"
	"time"
)

// RetryPolicy retries an operation a fixed number of times with a fixed
// delay between attempts. Remote calls against the broker deliberately
// use flat delays rather than exponential backoff: the retry budget is
// small and the caller needs predictable worst-case latency per record.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultCancelRetryPolicy bounds broker cancel attempts.
var DefaultCancelRetryPolicy = RetryPolicy{MaxAttempts: 3, Delay: 500 * time.Millisecond}

// Do invokes fn until it succeeds or the attempt budget is spent. It
// returns nil on the first success, the last error otherwise. Context
// cancellation is honored between attempts, not mid-call.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}
		if attempt < attempts && p.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Delay):
			}
		}
	}
	return err
}
