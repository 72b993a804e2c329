package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"rag-dialog/internal/domain"
)

// maxUpstreamAttempts allows one retry at most. History writes never go
// through callUpstream.
const maxUpstreamAttempts = 2

// RetryPolicy bounds every external call made by the pipeline.
type RetryPolicy struct {
	// MaxAttempts is capped at two (one retry).
	MaxAttempts int
	// InitialInterval is the wait before the retry.
	InitialInterval time.Duration
	// Timeout bounds a single attempt. Expiry yields domain.ErrUpstreamTimeout.
	Timeout time.Duration
}

// DefaultRetryPolicy returns one retry after ~200ms and a 30s per-call timeout.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     maxUpstreamAttempts,
		InitialInterval: 200 * time.Millisecond,
		Timeout:         30 * time.Second,
	}
}

// Validate checks if the retry policy is usable.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.Timeout < 0 {
		return fmt.Errorf("retry timeout must not be negative, got %v", p.Timeout)
	}
	return nil
}

func (p RetryPolicy) attempts() uint {
	switch {
	case p.MaxAttempts < 1:
		return 1
	case p.MaxAttempts > maxUpstreamAttempts:
		return maxUpstreamAttempts
	default:
		return uint(p.MaxAttempts)
	}
}

// UpstreamObserver receives timing and retry events for external calls.
type UpstreamObserver interface {
	RecordUpstream(dependency string, err error, duration time.Duration)
	RecordRetry(dependency string)
}

type nopUpstreamObserver struct{}

func (nopUpstreamObserver) RecordUpstream(string, error, time.Duration) {}
func (nopUpstreamObserver) RecordRetry(string)                          {}

// callUpstream runs fn with a per-attempt timeout and retries transient
// failures once with exponential backoff. Caller cancellation and
// validation errors stop immediately.
func callUpstream[T any](ctx context.Context, policy RetryPolicy, dependency string, obs UpstreamObserver, fn func(ctx context.Context) (T, error)) (T, error) {
	if obs == nil {
		obs = nopUpstreamObserver{}
	}

	attempt := 0
	operation := func() (T, error) {
		attempt++
		if attempt > 1 {
			obs.RecordRetry(dependency)
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if policy.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
		}
		defer cancel()

		start := time.Now()
		result, err := fn(callCtx)
		obs.RecordUpstream(dependency, err, time.Since(start))
		if err == nil {
			return result, nil
		}

		if ctx.Err() != nil {
			return result, backoff.Permanent(fmt.Errorf("%s: %w", dependency, ctx.Err()))
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %s exceeded %s: %w", domain.ErrUpstreamTimeout, dependency, policy.Timeout, err)
		}
		if !domain.IsRetryable(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}

	b := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		b.InitialInterval = policy.InitialInterval
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(policy.attempts()),
	)
}
