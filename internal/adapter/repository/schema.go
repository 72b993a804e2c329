package repository

import (
	"context"
	"fmt"

	"rag-dialog/internal/domain"
)

// EnsureSchema creates the pgvector extension, the chunk and dialog tables
// and their indexes. Every statement is idempotent.
func EnsureSchema(ctx context.Context, db PgxIface, dimension int, metric domain.DistanceMetric) error {
	if dimension <= 0 {
		return fmt.Errorf("vector dimension must be positive, got %d", dimension)
	}
	opclass := "vector_cosine_ops"
	if metric == domain.DistanceEuclidean {
		opclass = "vector_l2_ops"
	}

	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS corpus_chunks (
			id UUID PRIMARY KEY,
			document_id TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			ordinal INT NOT NULL,
			content TEXT NOT NULL,
			start_index INT NOT NULL,
			end_index INT NOT NULL,
			token_count INT NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, dimension),
		`CREATE INDEX IF NOT EXISTS corpus_chunks_document_idx ON corpus_chunks (document_id, ordinal)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS corpus_chunks_embedding_idx ON corpus_chunks USING hnsw (embedding %s)`, opclass),
		`CREATE TABLE IF NOT EXISTS dialogs (
			session_id TEXT PRIMARY KEY,
			history JSONB NOT NULL DEFAULT '[]'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
