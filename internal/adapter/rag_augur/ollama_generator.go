package rag_augur

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"rag-dialog/internal/domain"
	"rag-dialog/internal/infra/httpclient"
)

const (
	generationTemperature = 0.2
	keepAliveSeconds      = 600
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string                 `json:"model"`
	Messages  []chatMessage          `json:"messages"`
	Stream    bool                   `json:"stream"`
	KeepAlive int                    `json:"keep_alive"`
	Options   map[string]interface{} `json:"options,omitempty"`
}

type chatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// OllamaGenerator streams a chat completion from Ollama and aggregates the chunks.
type OllamaGenerator struct {
	BaseURL string
	Model   string
	Client  *http.Client
	logger  *slog.Logger
}

// NewOllamaGenerator constructs a generator using the provided endpoint and model name.
// The client timeout is left to the caller's context; streaming responses can be long.
func NewOllamaGenerator(baseURL, model string, logger *slog.Logger) *OllamaGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaGenerator{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		Client:  httpclient.NewPooledClient(0),
		logger:  logger,
	}
}

func (g *OllamaGenerator) buildOptions(maxTokens int) map[string]interface{} {
	opts := map[string]interface{}{
		"temperature": generationTemperature,
	}
	if maxTokens > 0 {
		opts["num_predict"] = maxTokens
	}
	return opts
}

// ollamaRole maps a dialogue role onto the chat API's vocabulary.
func ollamaRole(r domain.Role) string {
	if r == domain.RoleModel {
		return "assistant"
	}
	return "user"
}

func (g *OllamaGenerator) buildMessages(req domain.GenerationRequest) []chatMessage {
	messages := make([]chatMessage, 0, len(req.History)+2)
	if req.SystemInstruction != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemInstruction})
	}
	for _, turn := range req.History {
		messages = append(messages, chatMessage{Role: ollamaRole(turn.Role), Content: turn.Text})
	}
	return append(messages, chatMessage{Role: ollamaRole(req.NewTurn.Role), Content: req.NewTurn.Text})
}

// Generate sends the conversation to Ollama and returns the full assistant message.
func (g *OllamaGenerator) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.LLMResponse, error) {
	start := time.Now()
	body := chatRequest{
		Model:     g.Model,
		Messages:  g.buildMessages(req),
		Stream:    true,
		KeepAlive: keepAliveSeconds,
		Options:   g.buildOptions(req.MaxTokens),
	}

	jsonPayload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", g.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonPayload))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call generation endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("generation endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var sb strings.Builder
	done := false
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return nil, fmt.Errorf("failed to decode generation chunk: %w", err)
		}
		if chunk.Error != "" {
			return nil, fmt.Errorf("generation stream error: %s", chunk.Error)
		}
		sb.WriteString(chunk.Message.Content)
		if chunk.Done {
			done = true
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read generation stream: %w", err)
	}

	g.logger.DebugContext(ctx, "ollama_generate_completed",
		slog.String("model", g.Model),
		slog.Int("messages", len(body.Messages)),
		slog.Bool("done", done),
		slog.Duration("elapsed", time.Since(start)),
	)

	return &domain.LLMResponse{
		Text: strings.TrimSpace(sb.String()),
		Done: done,
	}, nil
}

// Version returns the wrapped model name.
func (g *OllamaGenerator) Version() string {
	return g.Model
}

var _ domain.LLMClient = (*OllamaGenerator)(nil)
