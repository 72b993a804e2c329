package domain

import "context"

// GenerationRequest is everything the generator sees for one answer.
type GenerationRequest struct {
	SystemInstruction string
	History           []Turn
	NewTurn           Turn
	MaxTokens         int
}

// LLMClient sends a grounded conversation to a language model.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (*LLMResponse, error)
	Version() string
}

// LLMResponse carries the LLM output and whether the generation finished.
type LLMResponse struct {
	Text string
	Done bool
}
