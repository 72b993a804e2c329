package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"rag-dialog/internal/domain"
)

// IndexDocumentInput is one corpus document to ingest.
type IndexDocumentInput struct {
	DocumentID string
	Source     string
	Body       string
}

// IndexDocumentOutput reports what was stored for a document.
type IndexDocumentOutput struct {
	DocumentID     string
	SourceHash     string
	ChunkerVersion domain.ChunkerVersion
	EmbedderModel  string
	Chunks         int
}

// IndexCorpusUsecase builds the vector index from corpus documents.
type IndexCorpusUsecase interface {
	// IndexDocument chunks, embeds and stores a document in place of any
	// earlier revision. Chunk ids are deterministic, so repeating it with the
	// same body is idempotent.
	IndexDocument(ctx context.Context, input IndexDocumentInput) (*IndexDocumentOutput, error)
	// Preview chunks a body without embedding or storing anything.
	Preview(body string) ([]domain.Chunk, error)
	// SourceHash identifies a document revision for skip-if-unchanged checks.
	SourceHash(documentID, body string) string
}

type indexCorpusUsecase struct {
	chunker domain.Chunker
	index   VectorIndex
	hasher  domain.SourceHashPolicy
	encoder domain.VectorEncoder
}

// NewIndexCorpusUsecase wires the chunker and vector index for ingestion.
// The encoder is only consulted for its version string.
func NewIndexCorpusUsecase(
	chunker domain.Chunker,
	index VectorIndex,
	hasher domain.SourceHashPolicy,
	encoder domain.VectorEncoder,
) IndexCorpusUsecase {
	return &indexCorpusUsecase{
		chunker: chunker,
		index:   index,
		hasher:  hasher,
		encoder: encoder,
	}
}

func (u *indexCorpusUsecase) IndexDocument(ctx context.Context, input IndexDocumentInput) (*IndexDocumentOutput, error) {
	documentID := strings.TrimSpace(input.DocumentID)
	if documentID == "" {
		return nil, fmt.Errorf("%w: document id is required", domain.ErrValidation)
	}

	// 1. Chunk
	chunks, err := u.chunker.Chunk(input.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk document %s: %w", documentID, err)
	}

	out := &IndexDocumentOutput{
		DocumentID:     documentID,
		SourceHash:     u.SourceHash(documentID, input.Body),
		ChunkerVersion: u.chunker.Version(),
		Chunks:         len(chunks),
	}
	if u.encoder != nil {
		out.EmbedderModel = u.encoder.Version()
	}
	if len(chunks) == 0 {
		slog.WarnContext(ctx, "document_has_no_content", slog.String("document_id", documentID))
	}

	// 2. Embed + replace the previous revision
	corpus := domain.NewCorpusChunks(documentID, input.Source, chunks)
	if err := u.index.ReplaceDocument(ctx, documentID, corpus); err != nil {
		return nil, fmt.Errorf("failed to index document %s: %w", documentID, err)
	}

	slog.InfoContext(ctx, "document_indexed",
		slog.String("document_id", documentID),
		slog.Int("chunks", len(chunks)),
		slog.String("chunker_version", string(out.ChunkerVersion)))

	return out, nil
}

func (u *indexCorpusUsecase) Preview(body string) ([]domain.Chunk, error) {
	return u.chunker.Chunk(body)
}

func (u *indexCorpusUsecase) SourceHash(documentID, body string) string {
	return u.hasher.Compute(documentID, body)
}
