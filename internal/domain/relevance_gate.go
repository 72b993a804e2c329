package domain

import "fmt"

const (
	// DefaultRelevanceThreshold is the minimum similarity for a chunk to ground an answer.
	DefaultRelevanceThreshold = 0.5
	// DefaultTopK is the number of nearest neighbours fetched per query.
	DefaultTopK = 3
)

// RelevanceGate decides whether retrieval found enough signal to answer.
type RelevanceGate struct {
	Threshold float64
}

// NewRelevanceGate returns a gate for a threshold in [0,1].
func NewRelevanceGate(threshold float64) (RelevanceGate, error) {
	if threshold < 0 || threshold > 1 {
		return RelevanceGate{}, fmt.Errorf("relevance threshold must be within [0,1], got %v", threshold)
	}
	return RelevanceGate{Threshold: threshold}, nil
}

// IsRelevant looks only at the rank-0 result; the boundary is inclusive.
func (g RelevanceGate) IsRelevant(results []RetrievalResult) bool {
	if len(results) == 0 {
		return false
	}
	return results[0].Similarity >= g.Threshold
}

// Qualifying keeps, in rank order, every result whose own similarity meets the threshold.
func (g RelevanceGate) Qualifying(results []RetrievalResult) []RetrievalResult {
	var qualifying []RetrievalResult
	for _, r := range results {
		if r.Similarity >= g.Threshold {
			qualifying = append(qualifying, r)
		}
	}
	return qualifying
}
