package rag_vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"rag-dialog/internal/domain"
)

// MemoryStore is an exact nearest-neighbour store for tests and local runs.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks map[uuid.UUID]domain.CorpusChunk
	metric domain.DistanceMetric
}

func NewMemoryStore(metric domain.DistanceMetric) *MemoryStore {
	if metric == "" {
		metric = domain.DistanceCosine
	}
	return &MemoryStore{
		chunks: make(map[uuid.UUID]domain.CorpusChunk),
		metric: metric,
	}
}

func (s *MemoryStore) Metric() domain.DistanceMetric {
	return s.metric
}

func (s *MemoryStore) Upsert(_ context.Context, chunks []domain.CorpusChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(chunks)
}

func (s *MemoryStore) ReplaceDocument(_ context.Context, documentID string, chunks []domain.CorpusChunk) error {
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("%w: chunk %d of %s has no embedding", domain.ErrValidation, c.Ordinal, c.DocumentID)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.chunks {
		if c.DocumentID == documentID {
			delete(s.chunks, id)
		}
	}
	return s.put(chunks)
}

// put stores chunks. Callers hold the write lock.
func (s *MemoryStore) put(chunks []domain.CorpusChunk) error {
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("%w: chunk %d of %s has no embedding", domain.ErrValidation, c.Ordinal, c.DocumentID)
		}
		c.Embedding = append([]float32(nil), c.Embedding...)
		s.chunks[c.ID] = c
	}
	return nil
}

func (s *MemoryStore) Search(_ context.Context, vector []float32, k int) ([]domain.RetrievalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]domain.RetrievalResult, 0, len(s.chunks))
	for _, c := range s.chunks {
		if len(c.Embedding) != len(vector) {
			return nil, fmt.Errorf("%w: query has %d dimensions, chunk %s has %d",
				domain.ErrValidation, len(vector), c.ID, len(c.Embedding))
		}
		results = append(results, domain.RetrievalResult{Chunk: c, Distance: s.distance(vector, c.Embedding)})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance == results[j].Distance {
			return results[i].Chunk.ID.String() < results[j].Chunk.ID.String()
		}
		return results[i].Distance < results[j].Distance
	})
	if k >= 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

func (s *MemoryStore) distance(a, b []float32) float64 {
	if s.metric == domain.DistanceEuclidean {
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return math.Sqrt(sum)
	}

	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

var _ domain.VectorStore = (*MemoryStore)(nil)
