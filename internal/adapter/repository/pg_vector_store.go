package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"rag-dialog/internal/domain"
)

const upsertChunkQuery = `
	INSERT INTO corpus_chunks (id, document_id, source, ordinal, content, start_index, end_index, token_count, embedding)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO UPDATE SET
		document_id = EXCLUDED.document_id,
		source = EXCLUDED.source,
		ordinal = EXCLUDED.ordinal,
		content = EXCLUDED.content,
		start_index = EXCLUDED.start_index,
		end_index = EXCLUDED.end_index,
		token_count = EXCLUDED.token_count,
		embedding = EXCLUDED.embedding
`

const deleteDocumentChunksQuery = `DELETE FROM corpus_chunks WHERE document_id = $1`

type pgVectorStore struct {
	db     PgxIface
	tx     domain.TransactionManager
	metric domain.DistanceMetric
}

// NewPgVectorStore stores chunk embeddings in the corpus_chunks table.
func NewPgVectorStore(db PgxIface, metric domain.DistanceMetric) domain.VectorStore {
	if metric == "" {
		metric = domain.DistanceCosine
	}
	return &pgVectorStore{
		db:     db,
		tx:     NewPostgresTransactionManager(db),
		metric: metric,
	}
}

func (s *pgVectorStore) Metric() domain.DistanceMetric {
	return s.metric
}

func (s *pgVectorStore) distanceOperator() string {
	if s.metric == domain.DistanceEuclidean {
		return "<->"
	}
	return "<=>"
}

func (s *pgVectorStore) Upsert(ctx context.Context, chunks []domain.CorpusChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("%w: chunk %d of %s has no embedding", domain.ErrValidation, c.Ordinal, c.DocumentID)
		}
	}

	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		exec := executor(ctx, s.db)
		for _, c := range chunks {
			_, err := exec.Exec(ctx, upsertChunkQuery,
				c.ID,
				c.DocumentID,
				c.Source,
				c.Ordinal,
				c.Text,
				c.Metadata.StartIndex,
				c.Metadata.EndIndex,
				c.Metadata.TokenCount,
				pgvector.NewVector(c.Embedding),
			)
			if err != nil {
				return fmt.Errorf("failed to upsert chunk %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

func (s *pgVectorStore) ReplaceDocument(ctx context.Context, documentID string, chunks []domain.CorpusChunk) error {
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("%w: chunk %d of %s has no embedding", domain.ErrValidation, c.Ordinal, c.DocumentID)
		}
	}
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := executor(ctx, s.db).Exec(ctx, deleteDocumentChunksQuery, documentID); err != nil {
			return fmt.Errorf("failed to delete chunks of %s: %w", documentID, err)
		}
		return s.Upsert(ctx, chunks)
	})
}

func (s *pgVectorStore) Search(ctx context.Context, vector []float32, k int) ([]domain.RetrievalResult, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: query vector is empty", domain.ErrValidation)
	}
	query := fmt.Sprintf(`
		SELECT id::text, document_id, source, ordinal, content, start_index, end_index, token_count,
			embedding %[1]s $1 AS distance
		FROM corpus_chunks
		ORDER BY embedding %[1]s $1
		LIMIT $2
	`, s.distanceOperator())

	rows, err := executor(ctx, s.db).Query(ctx, query, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	results := make([]domain.RetrievalResult, 0, k)
	for rows.Next() {
		var r domain.RetrievalResult
		var id string
		c := &r.Chunk
		if err := rows.Scan(&id, &c.DocumentID, &c.Source, &c.Ordinal, &c.Text,
			&c.Metadata.StartIndex, &c.Metadata.EndIndex, &c.Metadata.TokenCount, &r.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("invalid chunk id %q: %w", id, err)
		}
		c.ID = parsed
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return results, nil
}

func (s *pgVectorStore) Count(ctx context.Context) (int, error) {
	var n int64
	if err := executor(ctx, s.db).QueryRow(ctx, `SELECT count(*) FROM corpus_chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return int(n), nil
}
