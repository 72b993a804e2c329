package rag_augur

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"rag-dialog/internal/domain"
	"rag-dialog/internal/infra/httpclient"
)

// NewGeminiClient creates a Gemini API client on the shared transport.
func NewGeminiClient(ctx context.Context, apiKey, baseURL string, timeout time.Duration) (*genai.Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpclient.NewPooledClient(timeout),
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return client, nil
}

// GeminiGenerator produces answers with a Gemini chat model.
type GeminiGenerator struct {
	models *genai.Models
	model  string
}

func NewGeminiGenerator(client *genai.Client, model string) *GeminiGenerator {
	return &GeminiGenerator{models: client.Models, model: model}
}

func geminiRole(r domain.Role) genai.Role {
	if r == domain.RoleModel {
		return genai.RoleModel
	}
	return genai.RoleUser
}

// geminiRequest maps a generation request onto Gemini contents. The system
// instruction travels in the config, not as a content turn.
func geminiRequest(req domain.GenerationRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, turn := range req.History {
		contents = append(contents, genai.NewContentFromText(turn.Text, geminiRole(turn.Role)))
	}
	contents = append(contents, genai.NewContentFromText(req.NewTurn.Text, geminiRole(req.NewTurn.Role)))

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](generationTemperature),
	}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	return contents, cfg
}

func (g *GeminiGenerator) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.LLMResponse, error) {
	contents, cfg := geminiRequest(req)
	resp, err := g.models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, errors.New("gemini returned no candidates")
	}

	return &domain.LLMResponse{
		Text: strings.TrimSpace(resp.Text()),
		Done: resp.Candidates[0].FinishReason == genai.FinishReasonStop,
	}, nil
}

func (g *GeminiGenerator) Version() string {
	return g.model
}

// GeminiEmbedder embeds texts with a Gemini embedding model.
type GeminiEmbedder struct {
	models    *genai.Models
	model     string
	dimension int32
}

// NewGeminiEmbedder truncates vectors to dimension when it is positive.
func NewGeminiEmbedder(client *genai.Client, model string, dimension int) *GeminiEmbedder {
	return &GeminiEmbedder{models: client.Models, model: model, dimension: int32(dimension)}
}

func (e *GeminiEmbedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
	}
	cfg := &genai.EmbedContentConfig{}
	if e.dimension > 0 {
		cfg.OutputDimensionality = genai.Ptr(e.dimension)
	}

	resp, err := e.models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("gemini returned no embedding at %d", i)
		}
		out[i] = emb.Values
	}
	return out, nil
}

func (e *GeminiEmbedder) Version() string {
	return e.model
}

var (
	_ domain.LLMClient     = (*GeminiGenerator)(nil)
	_ domain.VectorEncoder = (*GeminiEmbedder)(nil)
)
