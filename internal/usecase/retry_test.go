package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"rag-dialog/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	calls   int
	retries int
}

func (c *countingObserver) RecordUpstream(string, error, time.Duration) { c.calls++ }
func (c *countingObserver) RecordRetry(string)                          { c.retries++ }

func TestRetryPolicy_AttemptsAreCapped(t *testing.T) {
	assert.Equal(t, uint(1), RetryPolicy{MaxAttempts: 0}.attempts())
	assert.Equal(t, uint(1), RetryPolicy{MaxAttempts: 1}.attempts())
	assert.Equal(t, uint(2), RetryPolicy{MaxAttempts: 2}.attempts())
	assert.Equal(t, uint(2), RetryPolicy{MaxAttempts: 10}.attempts())
}

func TestRetryPolicy_Validate(t *testing.T) {
	require.NoError(t, DefaultRetryPolicy().Validate())
	assert.Error(t, RetryPolicy{MaxAttempts: 0}.Validate())
	assert.Error(t, RetryPolicy{MaxAttempts: 1, Timeout: -time.Second}.Validate())
}

func TestCallUpstream(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, InitialInterval: time.Millisecond, Timeout: time.Second}

	t.Run("success on first attempt", func(t *testing.T) {
		obs := &countingObserver{}
		got, err := callUpstream(context.Background(), policy, "dep", obs, func(context.Context) (string, error) {
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", got)
		assert.Equal(t, 1, obs.calls)
		assert.Equal(t, 0, obs.retries)
	})

	t.Run("transient failure retried once", func(t *testing.T) {
		obs := &countingObserver{}
		attempts := 0
		got, err := callUpstream(context.Background(), policy, "dep", obs, func(context.Context) (int, error) {
			attempts++
			if attempts == 1 {
				return 0, errors.New("flaky")
			}
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, got)
		assert.Equal(t, 2, attempts)
		assert.Equal(t, 1, obs.retries)
	})

	t.Run("never more than two attempts", func(t *testing.T) {
		attempts := 0
		_, err := callUpstream(context.Background(), policy, "dep", nil, func(context.Context) (int, error) {
			attempts++
			return 0, errors.New("down")
		})
		require.Error(t, err)
		assert.Equal(t, maxUpstreamAttempts, attempts)
	})

	t.Run("validation errors are not retried", func(t *testing.T) {
		attempts := 0
		_, err := callUpstream(context.Background(), policy, "dep", nil, func(context.Context) (int, error) {
			attempts++
			return 0, fmt.Errorf("%w: bad input", domain.ErrValidation)
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.Equal(t, 1, attempts)
	})

	t.Run("per-attempt deadline becomes upstream timeout", func(t *testing.T) {
		p := RetryPolicy{MaxAttempts: 1, Timeout: 10 * time.Millisecond}
		_, err := callUpstream(context.Background(), p, "dep", nil, func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrUpstreamTimeout)
	})

	t.Run("caller cancellation stops immediately", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		attempts := 0
		_, err := callUpstream(ctx, policy, "dep", nil, func(context.Context) (int, error) {
			attempts++
			cancel()
			return 0, errors.New("interrupted")
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	})
}
