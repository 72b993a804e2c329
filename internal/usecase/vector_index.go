package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"rag-dialog/internal/domain"
)

const defaultEmbedBatchSize = 16

// VectorIndex answers nearest-neighbour queries over the corpus by text.
type VectorIndex interface {
	// Query returns at most k results ordered by descending similarity.
	// An empty or unreachable index fails with domain.ErrRetrievalUnavailable,
	// a failed query embedding with domain.ErrEmbeddingFailure.
	Query(ctx context.Context, text string, k int) ([]domain.RetrievalResult, error)
	// ReplaceDocument embeds chunks and stores them as the only chunks of
	// documentID. Earlier chunks of that document are removed, so edited or
	// retracted text stops being retrievable. Used at ingestion time only.
	ReplaceDocument(ctx context.Context, documentID string, chunks []domain.CorpusChunk) error
}

type vectorIndex struct {
	encoder   domain.VectorEncoder
	store     domain.VectorStore
	cache     *expirable.LRU[string, []float32]
	retry     RetryPolicy
	observer  UpstreamObserver
	batchSize int
}

// VectorIndexOption configures optional behaviour of the vector index.
type VectorIndexOption func(*vectorIndex)

// WithEmbeddingCache caches query embeddings by exact text.
func WithEmbeddingCache(size int, ttl time.Duration) VectorIndexOption {
	return func(v *vectorIndex) {
		if size > 0 {
			v.cache = expirable.NewLRU[string, []float32](size, nil, ttl)
		}
	}
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) VectorIndexOption {
	return func(v *vectorIndex) {
		v.retry = p
	}
}

// WithUpstreamObserver reports upstream timings.
func WithUpstreamObserver(o UpstreamObserver) VectorIndexOption {
	return func(v *vectorIndex) {
		if o != nil {
			v.observer = o
		}
	}
}

// WithEmbedBatchSize sets how many chunk texts go into one embedding call.
func WithEmbedBatchSize(n int) VectorIndexOption {
	return func(v *vectorIndex) {
		if n > 0 {
			v.batchSize = n
		}
	}
}

// NewVectorIndex composes an embedding gateway and a vector store.
func NewVectorIndex(encoder domain.VectorEncoder, store domain.VectorStore, opts ...VectorIndexOption) VectorIndex {
	v := &vectorIndex{
		encoder:   encoder,
		store:     store,
		retry:     DefaultRetryPolicy(),
		observer:  nopUpstreamObserver{},
		batchSize: defaultEmbedBatchSize,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *vectorIndex) Query(ctx context.Context, text string, k int) ([]domain.RetrievalResult, error) {
	if k <= 0 {
		k = domain.DefaultTopK
	}

	vector, err := v.embedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingFailure, err)
	}

	hits, err := callUpstream(ctx, v.retry, "vector_store", v.observer, func(ctx context.Context) ([]domain.RetrievalResult, error) {
		return v.store.Search(ctx, vector, k)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRetrievalUnavailable, err)
	}
	if len(hits) == 0 {
		return nil, fmt.Errorf("%w: vector index is empty", domain.ErrRetrievalUnavailable)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Distance < hits[j].Distance
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	metric := v.store.Metric()
	for i := range hits {
		hits[i].Similarity = domain.SimilarityFromDistance(metric, hits[i].Distance)
	}

	slog.DebugContext(ctx, "vector_query_done",
		slog.Int("hits", len(hits)),
		slog.Float64("top_similarity", hits[0].Similarity))

	return hits, nil
}

func (v *vectorIndex) embedQuery(ctx context.Context, text string) ([]float32, error) {
	key := strings.TrimSpace(text)
	if key == "" {
		return nil, fmt.Errorf("%w: query text is empty", domain.ErrValidation)
	}
	if v.cache != nil {
		if cached, ok := v.cache.Get(key); ok {
			return cached, nil
		}
	}

	vectors, err := v.encode(ctx, []string{key})
	if err != nil {
		return nil, err
	}

	if v.cache != nil {
		v.cache.Add(key, vectors[0])
	}
	return vectors[0], nil
}

func (v *vectorIndex) encode(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := callUpstream(ctx, v.retry, "embedding", v.observer, func(ctx context.Context) ([][]float32, error) {
		return v.encoder.Encode(ctx, texts)
	})
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}
	for i, vec := range vectors {
		if len(vec) == 0 {
			return nil, fmt.Errorf("embedder returned an empty vector at %d", i)
		}
	}
	return vectors, nil
}

func (v *vectorIndex) ReplaceDocument(ctx context.Context, documentID string, chunks []domain.CorpusChunk) error {
	embedded := make([]domain.CorpusChunk, len(chunks))
	copy(embedded, chunks)

	// Embed everything before touching the store so a failed run keeps the old revision.
	for start := 0; start < len(embedded); start += v.batchSize {
		end := min(start+v.batchSize, len(embedded))
		texts := make([]string, 0, end-start)
		for _, c := range embedded[start:end] {
			texts = append(texts, c.Text)
		}

		vectors, err := v.encode(ctx, texts)
		if err != nil {
			return fmt.Errorf("%w: chunks %d-%d: %w", domain.ErrEmbeddingFailure, start, end-1, err)
		}
		for i := range vectors {
			embedded[start+i].Embedding = vectors[i]
		}
	}

	_, err := callUpstream(ctx, v.retry, "vector_store", v.observer, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, v.store.ReplaceDocument(ctx, documentID, embedded)
	})
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return err
		}
		return fmt.Errorf("%w: replace %d chunks of %s: %w", domain.ErrRetrievalUnavailable, len(embedded), documentID, err)
	}
	return nil
}
