package rag_augur

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"rag-dialog/internal/domain"
	"rag-dialog/internal/infra/httpclient"
)

// NewOpenAIClient builds a client for OpenAI or any API-compatible server.
func NewOpenAIClient(apiKey, baseURL string, timeout time.Duration) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = httpclient.NewPooledClient(timeout)
	return openai.NewClientWithConfig(cfg)
}

// OpenAIGenerator produces answers through the chat completions API.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

func NewOpenAIGenerator(client *openai.Client, model string) *OpenAIGenerator {
	return &OpenAIGenerator{client: client, model: model}
}

func openAIRole(r domain.Role) string {
	if r == domain.RoleModel {
		return openai.ChatMessageRoleAssistant
	}
	return openai.ChatMessageRoleUser
}

func openAIRequest(model string, req domain.GenerationRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.SystemInstruction != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemInstruction,
		})
	}
	for _, turn := range req.History {
		messages = append(messages, openai.ChatCompletionMessage{Role: openAIRole(turn.Role), Content: turn.Text})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openAIRole(req.NewTurn.Role), Content: req.NewTurn.Text})

	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: generationTemperature,
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.LLMResponse, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openAIRequest(g.model, req))
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai returned no choices")
	}
	choice := resp.Choices[0]
	return &domain.LLMResponse{
		Text: strings.TrimSpace(choice.Message.Content),
		Done: choice.FinishReason == openai.FinishReasonStop,
	}, nil
}

func (g *OpenAIGenerator) Version() string {
	return g.model
}

// OpenAIEmbedder embeds texts through the embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

func NewOpenAIEmbedder(client *openai.Client, model string) *OpenAIEmbedder {
	return &OpenAIEmbedder{client: client, model: model}
}

func (e *OpenAIEmbedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
}

func (e *OpenAIEmbedder) Version() string {
	return e.model
}

var (
	_ domain.LLMClient     = (*OpenAIGenerator)(nil)
	_ domain.VectorEncoder = (*OpenAIEmbedder)(nil)
)
