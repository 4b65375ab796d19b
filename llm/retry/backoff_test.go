package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/council/types"
)

func fastPolicy(maxRetries int) *Policy {
	return &Policy{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetryer_SucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	r := NewBackoffRetryer(fastPolicy(3), zap.NewNop())
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryer_RetriesRetryableThenSucceeds(t *testing.T) {
	t.Parallel()

	r := NewBackoffRetryer(fastPolicy(3), zap.NewNop())
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return types.NewError(types.ErrUpstreamError, "boom").WithRetryable(true)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryer_DoesNotRetryPermanent(t *testing.T) {
	t.Parallel()

	r := NewBackoffRetryer(fastPolicy(3), zap.NewNop())
	calls := 0
	permanent := types.NewError(types.ErrInvalidRequest, "bad request")
	err := r.Do(context.Background(), func() error {
		calls++
		return permanent
	})
	assert.Equal(t, 1, calls)
	assert.Same(t, permanent, err.(*types.Error))
}

func TestRetryer_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	r := NewBackoffRetryer(fastPolicy(2), zap.NewNop())
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return types.NewError(types.ErrRateLimited, "429").WithRetryable(true)
	})
	assert.Equal(t, 3, calls) // initial + 2 retries
	assert.Equal(t, types.ErrRateLimited, types.GetErrorCode(err))
}

func TestRetryer_ContextCancelDuringBackoff(t *testing.T) {
	t.Parallel()

	policy := fastPolicy(5)
	policy.InitialDelay = time.Hour // force a long sleep
	r := NewBackoffRetryer(policy, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := r.Do(ctx, func() error {
		return types.NewError(types.ErrUpstreamError, "boom").WithRetryable(true)
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRetryer_CustomIsRetryableAndOnRetry(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("again")
	var retries int
	policy := fastPolicy(2)
	policy.IsRetryable = func(err error) bool { return errors.Is(err, sentinel) }
	policy.OnRetry = func(attempt int, err error, delay time.Duration) { retries++ }

	r := NewBackoffRetryer(policy, zap.NewNop())
	err := r.Do(context.Background(), func() error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 2, retries)
}
