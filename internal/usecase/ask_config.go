package usecase

import (
	"errors"
	"fmt"

	"rag-dialog/internal/domain"
)

// AskConfig holds the tunables of the ask pipeline.
type AskConfig struct {
	// TopK is the number of nearest neighbours fetched per query.
	TopK int
	// RelevanceThreshold gates the answer on the top result and filters the sources.
	RelevanceThreshold float64
	// NoInfoAnswer is returned verbatim when the gate fails.
	NoInfoAnswer string
	// MaxTokens caps the generated answer; zero leaves it to the model.
	MaxTokens int
	// Retry bounds generator calls.
	Retry RetryPolicy
}

// DefaultAskConfig returns the defaults documented for the service.
func DefaultAskConfig() AskConfig {
	return AskConfig{
		TopK:               domain.DefaultTopK,
		RelevanceThreshold: domain.DefaultRelevanceThreshold,
		NoInfoAnswer:       "The knowledge base has no information to answer this question.",
		MaxTokens:          1024,
		Retry:              DefaultRetryPolicy(),
	}
}

// Validate checks if the ask configuration is valid.
func (c AskConfig) Validate() error {
	if c.TopK <= 0 {
		return fmt.Errorf("topK must be positive, got %d", c.TopK)
	}
	if c.RelevanceThreshold < 0 || c.RelevanceThreshold > 1 {
		return fmt.Errorf("relevance threshold must be within [0,1], got %v", c.RelevanceThreshold)
	}
	if c.NoInfoAnswer == "" {
		return errors.New("no-info answer must not be empty")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max tokens must not be negative, got %d", c.MaxTokens)
	}
	return c.Retry.Validate()
}
