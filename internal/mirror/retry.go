package mirror

import (
	"context"
	"time"
)

const (
	resolveAttempts  = 5
	recordAttempts   = 4
	transferAttempts = 5
	retryPause       = 5 * time.Second
)

// RetryPolicy runs an operation a bounded number of times with a fixed
// pause between failures.  It replaces the half-dozen hand-rolled
// sleep loops the original tool carried.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration

	// IsRetryable decides whether an error is worth another attempt.
	// nil means every error is retryable.
	IsRetryable func(error) bool

	// Sleep is overridable for tests.  nil means time.Sleep.
	Sleep func(time.Duration)
}

// Do invokes fn until it succeeds, returns a non-retryable error, the
// attempt budget runs out, or ctx is canceled.  The last error seen is
// returned on exhaustion.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			sleep(p.Delay)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if p.IsRetryable != nil && !p.IsRetryable(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}
