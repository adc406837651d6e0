package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearBackoff(t *testing.T) {
	delay := LinearBackoff(100 * time.Millisecond)

	assert.Equal(t, 100*time.Millisecond, delay(1))
	assert.Equal(t, 200*time.Millisecond, delay(2))
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()

	assert.Equal(t, 2, p.Retries)
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	v, err := Retry(context.Background(), fastRetry(), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errFlaky
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestRetry_ReturnsLastErrorWhenExhausted(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastRetry(), func(context.Context) (string, error) {
		calls++
		return "", errFlaky
	})

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
}

func TestRetry_WaitsBetweenAttempts(t *testing.T) {
	var delays []int
	policy := RetryPolicy{
		Retries: 2,
		Delay: func(attempt int) time.Duration {
			delays = append(delays, attempt)
			return 0
		},
	}

	_, _ = Retry(context.Background(), policy, func(context.Context) (int, error) { return 0, errFlaky })

	assert.Equal(t, []int{1, 2}, delays)
}

func TestRetry_CancelledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Retry(ctx, fastRetry(), func(context.Context) (int, error) {
		calls++
		return 1, nil
	})

	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestRetry_CancelledDuringAttemptStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{Retries: 2, Delay: LinearBackoff(time.Hour)}

	_, err := Retry(ctx, policy, func(context.Context) (int, error) {
		cancel()
		return 0, errFlaky
	})

	assert.True(t, IsCancelled(err))
	assert.False(t, errors.Is(err, errFlaky))
}

type statusErr struct{ temporary bool }

func (e statusErr) Error() string   { return "unexpected status" }
func (e statusErr) Temporary() bool { return e.temporary }

func TestRetry_PermanentErrorIsNotRetried(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastRetry(), func(context.Context) (int, error) {
		calls++
		return 0, fmt.Errorf("fetch: %w", statusErr{temporary: false})
	})

	assert.ErrorAs(t, err, new(statusErr))
	assert.Equal(t, 1, calls)
}

func TestRetry_TemporaryErrorIsRetried(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastRetry(), func(context.Context) (int, error) {
		calls++
		return 0, statusErr{temporary: true}
	})

	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}
