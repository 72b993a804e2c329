package ingest

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"rag-dialog/internal/domain"
)

// RateLimitedEncoder spaces out embedding calls with a token bucket. Each
// Encode call costs one token regardless of batch size.
type RateLimitedEncoder struct {
	next    domain.VectorEncoder
	limiter *rate.Limiter
}

// NewRateLimitedEncoder allows requestsPerSecond calls with the given burst.
// A non-positive rate disables limiting.
func NewRateLimitedEncoder(next domain.VectorEncoder, requestsPerSecond float64, burst int) *RateLimitedEncoder {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedEncoder{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (e *RateLimitedEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limiter: %w", err)
	}
	return e.next.Encode(ctx, texts)
}

func (e *RateLimitedEncoder) Version() string {
	return e.next.Version()
}
