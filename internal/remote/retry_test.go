package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffFactor: 2}

	assert.Equal(t, time.Second, policy.NextDelay(1))
	assert.Equal(t, 2*time.Second, policy.NextDelay(2))
	assert.Equal(t, 5*time.Second, policy.NextDelay(4))
	assert.Equal(t, time.Second, policy.NextDelay(0))
	assert.Equal(t, time.Second, RetryPolicy{}.NextDelay(1))
}

func newTestRetrying(next Provider, retries int) (*Retrying, *[]time.Duration) {
	r := NewRetrying(next, RetryPolicy{MaxRetries: retries, InitialDelay: time.Millisecond}, nil)
	var slept []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return r, &slept
}

func TestRetrying_RetriesUnavailable(t *testing.T) {
	m := NewMemoryProvider()
	m.FailWith(Unavailable("test", errors.New("down")))
	r, slept := newTestRetrying(m, 2)

	_, err := r.ListDays(context.Background(), alice)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int64(3), m.Calls())
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, *slept)
}

func TestRetrying_DoesNotRetryPlainErrors(t *testing.T) {
	m := NewMemoryProvider()
	m.FailWith(errors.New("bad request"))
	r, slept := newTestRetrying(m, 3)

	err := r.ReplaceTasks(context.Background(), alice, sampleTasks("2024-01-10", "a"), "2024-01-10")
	require.Error(t, err)
	assert.Equal(t, int64(1), m.Calls())
	assert.Empty(t, *slept)
}

func TestRetrying_RecoversAfterTransientFailure(t *testing.T) {
	m := NewMemoryProvider()
	m.FailWith(Unavailable("test", errors.New("down")))
	r, _ := newTestRetrying(m, 3)
	r.sleep = func(ctx context.Context, d time.Duration) error {
		m.FailWith(nil)
		return nil
	}

	require.NoError(t, r.ReplaceTasks(context.Background(), alice, sampleTasks("2024-01-10", "a"), "2024-01-10"))
	assert.Equal(t, "memory", r.Name())
	assert.Same(t, m, r.Unwrap())
}

func TestRetrying_StopsOnCancelledContext(t *testing.T) {
	m := NewMemoryProvider()
	m.FailWith(Unavailable("test", errors.New("down")))
	r, _ := newTestRetrying(m, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.ListDays(ctx, alice)
	assert.Error(t, err)
	assert.Equal(t, int64(1), m.Calls())
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(context.Canceled))
	assert.True(t, Retryable(context.DeadlineExceeded))
	assert.True(t, Retryable(Unavailable("x", errors.New("y"))))
	assert.False(t, Retryable(errors.New("plain")))
}
