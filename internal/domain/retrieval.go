package domain

import (
	"context"
	"fmt"
	"math"
)

// DistanceMetric names how a vector store measures distance.
type DistanceMetric string

const (
	// DistanceCosine is cosine distance in [0, 2].
	DistanceCosine DistanceMetric = "cosine"
	// DistanceEuclidean is unbounded L2 distance.
	DistanceEuclidean DistanceMetric = "euclidean"
)

// RetrievalResult is one nearest-neighbour hit. Ephemeral, never persisted.
type RetrievalResult struct {
	Chunk      CorpusChunk
	Distance   float64
	Similarity float64
}

// SimilarityFromDistance maps a raw distance to the [0,1] relevance proxy
// used by the relevance gate. Cosine uses 1-d clamped to [0,1]; euclidean
// uses 1/(1+d), which is already bounded.
func SimilarityFromDistance(metric DistanceMetric, distance float64) float64 {
	if math.IsNaN(distance) {
		return 0
	}
	switch metric {
	case DistanceEuclidean:
		if distance < 0 {
			distance = 0
		}
		return 1 / (1 + distance)
	default:
		return clamp01(1 - distance)
	}
}

// DistanceFromCosineSimilarity converts a store-reported cosine similarity
// back to cosine distance.
func DistanceFromCosineSimilarity(similarity float64) float64 {
	return 1 - similarity
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// ParseDistanceMetric accepts the configuration spelling of a metric.
func ParseDistanceMetric(s string) (DistanceMetric, error) {
	switch DistanceMetric(s) {
	case DistanceCosine, "":
		return DistanceCosine, nil
	case DistanceEuclidean:
		return DistanceEuclidean, nil
	default:
		return "", fmt.Errorf("unknown distance metric %q", s)
	}
}

// VectorStore keeps chunk vectors and answers nearest-neighbour queries.
// Search returns hits ordered by ascending distance with Similarity unset.
type VectorStore interface {
	Upsert(ctx context.Context, chunks []CorpusChunk) error
	// ReplaceDocument removes every stored chunk of documentID, then stores
	// chunks. An empty chunks slice only removes.
	ReplaceDocument(ctx context.Context, documentID string, chunks []CorpusChunk) error
	Search(ctx context.Context, vector []float32, k int) ([]RetrievalResult, error)
	Count(ctx context.Context) (int, error)
	Metric() DistanceMetric
}
