package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"rag-dialog/internal/domain"
)

var tracer = otel.Tracer("rag-dialog/usecase")

// ErrInvalidAskInput marks an ask request rejected before any upstream call.
// It wraps domain.ErrValidation.
var ErrInvalidAskInput = fmt.Errorf("invalid ask input: %w", domain.ErrValidation)

// AskUsecase answers a question grounded in the corpus and the session's history.
type AskUsecase interface {
	Execute(ctx context.Context, input AskInput) (*AskOutput, error)
}

type askUsecase struct {
	index         VectorIndex
	history       domain.HistoryStore
	promptBuilder PromptBuilder
	llmClient     domain.LLMClient
	validator     OutputValidator
	gate          domain.RelevanceGate
	cfg           AskConfig
	observer      AskObserver
}

// AskOption configures optional collaborators of the ask pipeline.
type AskOption func(*askUsecase)

// WithAskObserver reports outcomes, history failures and upstream timings.
func WithAskObserver(o AskObserver) AskOption {
	return func(u *askUsecase) {
		if o != nil {
			u.observer = o
		}
	}
}

// NewAskUsecase wires together the components needed to answer a question.
func NewAskUsecase(
	index VectorIndex,
	history domain.HistoryStore,
	promptBuilder PromptBuilder,
	llmClient domain.LLMClient,
	cfg AskConfig,
	opts ...AskOption,
) (AskUsecase, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ask config: %w", err)
	}
	gate, err := domain.NewRelevanceGate(cfg.RelevanceThreshold)
	if err != nil {
		return nil, err
	}

	u := &askUsecase{
		index:         index,
		history:       history,
		promptBuilder: promptBuilder,
		llmClient:     llmClient,
		validator:     NewOutputValidator(),
		gate:          gate,
		cfg:           cfg,
		observer:      nopAskObserver{},
	}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

func (u *askUsecase) Execute(ctx context.Context, input AskInput) (*AskOutput, error) {
	sessionID := strings.TrimSpace(input.SessionID)
	query := strings.TrimSpace(input.Query)
	if sessionID == "" || query == "" {
		u.observer.RecordAskOutcome(string(AskOutcomeInvalid))
		return nil, fmt.Errorf("%w: sessionId and a non-empty query are required", ErrInvalidAskInput)
	}

	ctx, span := tracer.Start(ctx, "ask")
	defer span.End()

	// 1+2. Load history and query the index concurrently
	var prior []domain.Turn
	var results []domain.RetrievalResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		prior = u.loadHistory(gctx, sessionID)
		return nil
	})
	g.Go(func() error {
		qctx, qspan := tracer.Start(gctx, "vector.query")
		defer qspan.End()
		var err error
		results, err = u.index.Query(qctx, query, u.cfg.TopK)
		if err != nil {
			qspan.SetStatus(codes.Error, err.Error())
		}
		return err
	})
	if err := g.Wait(); err != nil {
		u.observer.RecordAskOutcome(string(AskOutcomeRetrievalFailed))
		span.SetStatus(codes.Error, "retrieval failed")
		return nil, fmt.Errorf("retrieve context: %w", err)
	}

	// 3. Relevance gate
	if !u.gate.IsRelevant(results) {
		slog.InfoContext(ctx, "ask_no_relevant_info",
			slog.Float64("top_similarity", topSimilarity(results)),
			slog.Float64("threshold", u.gate.Threshold))

		u.appendHistory(ctx, sessionID, domain.UserTurn(query), domain.ModelTurn(u.cfg.NoInfoAnswer))
		u.observer.RecordAskOutcome(string(AskOutcomeNoRelevantInfo))
		span.SetAttributes(attribute.Bool("rag.has_relevant_info", false))

		return &AskOutput{
			Answer:          u.cfg.NoInfoAnswer,
			Sources:         []Source{},
			HasRelevantInfo: false,
		}, nil
	}

	qualifying := u.gate.Qualifying(results)

	// 4. Assemble context and generate
	req, err := u.promptBuilder.Build(PromptInput{
		Query:     query,
		Chunks:    qualifying,
		History:   prior,
		MaxTokens: u.cfg.MaxTokens,
	})
	if err != nil {
		u.observer.RecordAskOutcome(string(AskOutcomeGenerationFailed))
		return nil, fmt.Errorf("%w: build prompt: %w", domain.ErrGenerationFailure, err)
	}

	answer, err := u.generate(ctx, req, len(qualifying))
	if err != nil {
		u.observer.RecordAskOutcome(string(AskOutcomeGenerationFailed))
		span.SetStatus(codes.Error, "generation failed")
		return nil, err
	}

	// 5. Persist the pair; failure is logged, not returned
	u.appendHistory(ctx, sessionID, domain.UserTurn(query), domain.ModelTurn(answer.Text))

	u.observer.RecordAskOutcome(string(AskOutcomeAnswered))
	span.SetAttributes(
		attribute.Bool("rag.has_relevant_info", true),
		attribute.Int("rag.sources", len(qualifying)),
	)
	slog.InfoContext(ctx, "ask_completed",
		slog.Int("sources", len(qualifying)),
		slog.Int("history_turns", len(prior)),
		slog.Any("cited_sources", answer.CitedSources))

	// 6. Answer
	return &AskOutput{
		Answer:          answer.Text,
		Sources:         sourcesFrom(qualifying),
		HasRelevantInfo: true,
	}, nil
}

func (u *askUsecase) generate(ctx context.Context, req domain.GenerationRequest, sourceCount int) (*ValidatedAnswer, error) {
	ctx, span := tracer.Start(ctx, "llm.generate")
	defer span.End()

	resp, err := callUpstream(ctx, u.cfg.Retry, "generator", u.observer, func(ctx context.Context) (*domain.LLMResponse, error) {
		return u.llmClient.Generate(ctx, req)
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %w", domain.ErrGenerationFailure, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: nil llm response", domain.ErrGenerationFailure)
	}
	if !resp.Done {
		slog.WarnContext(ctx, "llm response incomplete", slog.Int("length", len(resp.Text)))
	}

	answer, err := u.validator.Validate(resp.Text, sourceCount)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrGenerationFailure, err)
	}
	if len(answer.UnknownCitations) > 0 {
		slog.WarnContext(ctx, "llm cited unknown sources",
			slog.Any("unknown", answer.UnknownCitations),
			slog.Int("source_count", sourceCount))
	}
	return answer, nil
}

// loadHistory degrades to an empty history on failure. Appends are atomic,
// so answering without prior turns cannot clobber what is stored.
func (u *askUsecase) loadHistory(ctx context.Context, sessionID string) []domain.Turn {
	ctx, span := tracer.Start(ctx, "history.load")
	defer span.End()

	turns, err := u.history.Get(ctx, sessionID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		u.observer.RecordHistoryFailure("get")
		slog.ErrorContext(ctx, "history_load_failed",
			slog.String("error", fmt.Errorf("%w: %w", domain.ErrPersistenceFailure, err).Error()))
		return nil
	}
	return turns
}

// appendHistory is never retried: a retried append could store the pair twice.
func (u *askUsecase) appendHistory(ctx context.Context, sessionID string, turns ...domain.Turn) {
	ctx, span := tracer.Start(ctx, "history.append")
	defer span.End()

	if err := u.history.Append(ctx, sessionID, turns...); err != nil {
		span.SetStatus(codes.Error, err.Error())
		u.observer.RecordHistoryFailure("append")
		slog.ErrorContext(ctx, "history_append_failed",
			slog.Int("turns", len(turns)),
			slog.String("error", fmt.Errorf("%w: %w", domain.ErrPersistenceFailure, err).Error()))
	}
}

func topSimilarity(results []domain.RetrievalResult) float64 {
	if len(results) == 0 {
		return 0
	}
	return results[0].Similarity
}

// IsClientError reports whether err should be surfaced to the caller as a bad request.
// Validation failures raised by stores or gateways are server faults.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAskInput)
}
