package service

import (
	"context"
	"errors"
	"net"
	"time"
)

// Default retry settings for page fetch and render steps.
const (
	DefaultRetries     = 2
	DefaultBackoffBase = 100 * time.Millisecond
)

// RetryPolicy bounds how an operation is retried.
// Retries is the number of additional attempts after the first.
type RetryPolicy struct {
	Retries int
	Delay   func(attempt int) time.Duration
}

// DefaultRetryPolicy returns 1 + DefaultRetries attempts with linear backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Retries: DefaultRetries,
		Delay:   LinearBackoff(DefaultBackoffBase),
	}
}

// LinearBackoff waits base × attempt before retry number attempt (1-based).
func LinearBackoff(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return base * time.Duration(attempt)
	}
}

// Retry runs fn until it succeeds or the policy is exhausted, returning the
// last error. An error with a Temporary method reporting false is returned
// at once. Context cancellation, before an attempt or during a backoff
// wait, stops retrying with an error matching ErrCancelled.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= max(policy.Retries, 0); attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, cancelled(err)
		}

		if attempt > 0 && policy.Delay != nil {
			if err := sleep(ctx, policy.Delay(attempt)); err != nil {
				return zero, err
			}
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if IsCancelled(err) || ctx.Err() != nil {
			return zero, cancelled(ctx.Err())
		}
		if permanent(err) {
			return zero, err
		}
		lastErr = err
	}

	return zero, lastErr
}

// permanent reports whether err says retrying cannot help. Network errors
// stay retryable whatever their Temporary method says.
func permanent(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return false
	}
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && !t.Temporary()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return cancelled(ctx.Err())
	case <-timer.C:
		return nil
	}
}
