package usecase

import (
	"strconv"

	"rag-dialog/internal/domain"
)

// AskOutcome classifies how an ask request ended, for metrics and logs.
type AskOutcome string

const (
	// AskOutcomeAnswered means the generator produced a grounded answer.
	AskOutcomeAnswered AskOutcome = "answered"
	// AskOutcomeNoRelevantInfo means the relevance gate failed and the fixed answer was returned.
	AskOutcomeNoRelevantInfo AskOutcome = "no_relevant_info"
	// AskOutcomeInvalid means the request was rejected before any upstream call.
	AskOutcomeInvalid AskOutcome = "invalid"
	// AskOutcomeRetrievalFailed covers embedding and vector index failures.
	AskOutcomeRetrievalFailed AskOutcome = "retrieval_failed"
	// AskOutcomeGenerationFailed covers generator failures and empty output.
	AskOutcomeGenerationFailed AskOutcome = "generation_failed"
)

// AskInput is one question within a session.
type AskInput struct {
	SessionID string
	Query     string
}

// Source is a qualifying chunk as shown to the user, ranked from 1.
type Source struct {
	Number     int
	Text       string
	DocumentID string
	Origin     string
	Metadata   domain.ChunkMetadata
	Similarity float64
}

// FormattedSimilarity renders the similarity with three decimals for display.
func (s Source) FormattedSimilarity() string {
	return strconv.FormatFloat(s.Similarity, 'f', 3, 64)
}

// AskOutput is the answer returned to the caller. Sources is empty exactly
// when the relevance gate failed.
type AskOutput struct {
	Answer          string
	Sources         []Source
	HasRelevantInfo bool
}

// AskObserver receives pipeline telemetry.
type AskObserver interface {
	UpstreamObserver
	RecordAskOutcome(outcome string)
	RecordHistoryFailure(operation string)
}

type nopAskObserver struct {
	nopUpstreamObserver
}

func (nopAskObserver) RecordAskOutcome(string)     {}
func (nopAskObserver) RecordHistoryFailure(string) {}

func sourcesFrom(results []domain.RetrievalResult) []Source {
	sources := make([]Source, 0, len(results))
	for i, r := range results {
		sources = append(sources, Source{
			Number:     i + 1,
			Text:       r.Chunk.Text,
			DocumentID: r.Chunk.DocumentID,
			Origin:     r.Chunk.Source,
			Metadata:   r.Chunk.Metadata,
			Similarity: r.Similarity,
		})
	}
	return sources
}
