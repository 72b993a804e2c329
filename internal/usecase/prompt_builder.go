package usecase

import (
	"errors"
	"strconv"
	"strings"

	"rag-dialog/internal/domain"
)

// QuestionPrefix marks the raw query inside the new user turn.
const QuestionPrefix = "QUESTION: "

// DefaultPersona opens the system instruction.
const DefaultPersona = "You are a careful psychological consultant. Answer the user's question using ONLY the information in the CONTEXT below and the previous dialogue."

// DefaultRules are the fixed behavioural rules appended after the context.
var DefaultRules = []string{
	"Base your answer only on the CONTEXT and the previous dialogue. Do not add facts from outside them.",
	"Cite the sources you rely on by number, for example [Source 1].",
	"If the CONTEXT is not enough to answer, say so and recommend consulting a qualified psychologist.",
	"Do not make clinical diagnoses or claims the CONTEXT does not support.",
	"Do not draw conclusions beyond what the CONTEXT states.",
	"If the user thanks you, reply with thanks.",
	"Reflect the user's emotions only when the CONTEXT supports doing so.",
}

// PromptInput contains the pieces that feed into the prompt builder.
type PromptInput struct {
	Query     string
	Chunks    []domain.RetrievalResult // qualifying chunks in rank order
	History   []domain.Turn
	MaxTokens int
}

// PromptBuilder assembles the generator request for a grounded answer.
type PromptBuilder interface {
	Build(input PromptInput) (domain.GenerationRequest, error)
}

// GroundedPromptBuilder renders chunks as [Source N] blocks inside the
// system instruction and passes prior turns through verbatim.
type GroundedPromptBuilder struct {
	persona string
	rules   []string
}

// PromptOption customises a GroundedPromptBuilder.
type PromptOption func(*GroundedPromptBuilder)

// WithPersona replaces the opening line of the system instruction.
func WithPersona(persona string) PromptOption {
	return func(b *GroundedPromptBuilder) {
		if strings.TrimSpace(persona) != "" {
			b.persona = persona
		}
	}
}

// WithAdditionalRules appends rules after the default ones.
func WithAdditionalRules(rules ...string) PromptOption {
	return func(b *GroundedPromptBuilder) {
		b.rules = append(b.rules, rules...)
	}
}

// NewGroundedPromptBuilder creates the prompt builder used by the ask pipeline.
func NewGroundedPromptBuilder(opts ...PromptOption) *GroundedPromptBuilder {
	b := &GroundedPromptBuilder{
		persona: DefaultPersona,
		rules:   append([]string(nil), DefaultRules...),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SourceLabel returns the citation label for a 1-based rank.
func SourceLabel(rank int) string {
	return "[Source " + strconv.Itoa(rank) + "]"
}

// Build is deterministic: identical input gives an identical request.
func (b *GroundedPromptBuilder) Build(input PromptInput) (domain.GenerationRequest, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return domain.GenerationRequest{}, errors.New("query is required")
	}
	if len(input.Chunks) == 0 {
		return domain.GenerationRequest{}, errors.New("at least one context chunk is required")
	}

	var sb strings.Builder
	sb.WriteString(b.persona)
	sb.WriteString("\n\nCONTEXT:\n")
	for i, chunk := range input.Chunks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(SourceLabel(i + 1))
		sb.WriteString(":\n")
		sb.WriteString(chunk.Chunk.Text)
	}

	sb.WriteString("\n\nRULES:\n")
	for i, rule := range b.rules {
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteString(". ")
		sb.WriteString(rule)
		sb.WriteString("\n")
	}

	history := make([]domain.Turn, len(input.History))
	copy(history, input.History)

	return domain.GenerationRequest{
		SystemInstruction: strings.TrimRight(sb.String(), "\n"),
		History:           history,
		NewTurn:           domain.UserTurn(QuestionPrefix + query),
		MaxTokens:         input.MaxTokens,
	}, nil
}
