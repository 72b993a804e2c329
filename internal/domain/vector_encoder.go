package domain

import (
	"context"
)

// VectorEncoder turns texts into fixed-dimension embeddings, one per input, in input order.
type VectorEncoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	Version() string
}
