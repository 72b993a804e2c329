package domain_test

import (
	"testing"

	"rag-dialog/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestSourceHashPolicy_Compute(t *testing.T) {
	policy := domain.NewSourceHashPolicy()

	t.Run("Same input produces same hash", func(t *testing.T) {
		h1 := policy.Compute("doc", "Body content")
		h2 := policy.Compute("doc", "Body content")
		assert.Equal(t, h1, h2)
	})

	t.Run("Whitespace differences are normalized", func(t *testing.T) {
		h1 := policy.Compute("doc", "Body content\n\nSecond")
		h2 := policy.Compute("  doc  ", "\n Body \t content\n\n\n\nSecond\n")
		assert.Equal(t, h1, h2)
	})

	t.Run("Different document ids produce different hashes", func(t *testing.T) {
		h1 := policy.Compute("doc-1", "Body")
		h2 := policy.Compute("doc-2", "Body")
		assert.NotEqual(t, h1, h2)
	})

	t.Run("Separator prevents ambiguity", func(t *testing.T) {
		h1 := policy.Compute("A", "B")
		h2 := policy.Compute("AB", "")
		assert.NotEqual(t, h1, h2)
	})
}
