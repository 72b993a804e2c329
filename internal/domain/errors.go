package domain

import (
	"context"
	"errors"
)

var (
	// ErrValidation marks a malformed request. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrRetrievalUnavailable marks an empty or unreachable vector index.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	// ErrEmbeddingFailure marks a failed call to the embedding model.
	ErrEmbeddingFailure = errors.New("embedding failure")
	// ErrGenerationFailure marks a failed or empty generator response.
	ErrGenerationFailure = errors.New("generation failure")
	// ErrPersistenceFailure marks a failed history read or write.
	ErrPersistenceFailure = errors.New("persistence failure")
	// ErrUpstreamTimeout marks an external call that exceeded its own deadline.
	ErrUpstreamTimeout = errors.New("upstream timeout")
)

// IsRetryable reports whether err may succeed on a second attempt.
// Validation errors and caller cancellation are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
