package billing

import (
	"context"
	"time"
)

// backoffFunc returns the wait before the next attempt, given the 1-based
// number of the attempt that just failed.
type backoffFunc func(attempt int) time.Duration

// linearBackoff grows the wait linearly: attempt 1 waits unit, attempt 2
// waits 2*unit, and so on.
func linearBackoff(unit time.Duration) backoffFunc {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * unit
	}
}

// retryWithBackoff invokes fn up to maxAttempts times, sleeping between
// failed attempts according to backoff. The first successful result is
// returned; after the final attempt the last error is returned as-is.
//
// Cancellation of ctx is honored between attempts but does not interrupt an
// in-flight fn call or a sleep already begun.
func retryWithBackoff[T any](
	ctx context.Context,
	maxAttempts int,
	backoff backoffFunc,
	sleep func(time.Duration),
	fn func(ctx context.Context) (T, error),
) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt < maxAttempts {
			sleep(backoff(attempt))
		}
	}

	return zero, lastErr
}
