package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"rag-dialog/internal/domain"
	"rag-dialog/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var fastRetry = usecase.RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond, Timeout: time.Second}

func hit(id string, distance float64) domain.RetrievalResult {
	return domain.RetrievalResult{
		Chunk:    domain.CorpusChunk{DocumentID: id, Text: "text of " + id},
		Distance: distance,
	}
}

func TestVectorIndex_Query_SortsTruncatesAndScores(t *testing.T) {
	encoder := new(mockEncoder)
	store := new(mockVectorStore)
	vec := []float32{0.1, 0.2, 0.3}

	encoder.On("Encode", mock.Anything, []string{"breathing"}).Return([][]float32{vec}, nil)
	store.On("Search", mock.Anything, vec, 3).Return([]domain.RetrievalResult{
		hit("c", 0.7),
		hit("a", 0.1),
		hit("d", 1.4),
		hit("b", 0.4),
	}, nil)

	index := usecase.NewVectorIndex(encoder, store, usecase.WithRetryPolicy(fastRetry))
	results, err := index.Query(context.Background(), "  breathing ", 3)
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].Chunk.DocumentID)
	assert.Equal(t, "b", results[1].Chunk.DocumentID)
	assert.Equal(t, "c", results[2].Chunk.DocumentID)
	assert.InDelta(t, 0.9, results[0].Similarity, 1e-9)
	assert.InDelta(t, 0.6, results[1].Similarity, 1e-9)
	assert.InDelta(t, 0.3, results[2].Similarity, 1e-9)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Similarity, results[i].Similarity)
	}
}

func TestVectorIndex_Query_DefaultsK(t *testing.T) {
	encoder := new(mockEncoder)
	store := new(mockVectorStore)
	vec := []float32{1}
	encoder.On("Encode", mock.Anything, []string{"q"}).Return([][]float32{vec}, nil)
	store.On("Search", mock.Anything, vec, domain.DefaultTopK).Return([]domain.RetrievalResult{hit("a", 0)}, nil)

	index := usecase.NewVectorIndex(encoder, store)
	results, err := index.Query(context.Background(), "q", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1.0, results[0].Similarity)
	store.AssertExpectations(t)
}

func TestVectorIndex_Query_EmptyStoreIsUnavailable(t *testing.T) {
	encoder := new(mockEncoder)
	store := new(mockVectorStore)
	encoder.On("Encode", mock.Anything, mock.Anything).Return([][]float32{{1, 0}}, nil)
	store.On("Search", mock.Anything, mock.Anything, 3).Return([]domain.RetrievalResult{}, nil)

	index := usecase.NewVectorIndex(encoder, store, usecase.WithRetryPolicy(fastRetry))
	_, err := index.Query(context.Background(), "q", 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRetrievalUnavailable)
}

func TestVectorIndex_Query_StoreFailureRetriedOnce(t *testing.T) {
	encoder := new(mockEncoder)
	store := new(mockVectorStore)
	encoder.On("Encode", mock.Anything, mock.Anything).Return([][]float32{{1, 0}}, nil)
	store.On("Search", mock.Anything, mock.Anything, 3).Return(nil, errors.New("connection refused")).Once()
	store.On("Search", mock.Anything, mock.Anything, 3).Return([]domain.RetrievalResult{hit("a", 0.2)}, nil).Once()

	index := usecase.NewVectorIndex(encoder, store, usecase.WithRetryPolicy(fastRetry))
	results, err := index.Query(context.Background(), "q", 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	store.AssertNumberOfCalls(t, "Search", 2)
}

func TestVectorIndex_Query_StoreDownIsUnavailable(t *testing.T) {
	encoder := new(mockEncoder)
	store := new(mockVectorStore)
	encoder.On("Encode", mock.Anything, mock.Anything).Return([][]float32{{1, 0}}, nil)
	store.On("Search", mock.Anything, mock.Anything, 3).Return(nil, errors.New("connection refused"))

	index := usecase.NewVectorIndex(encoder, store, usecase.WithRetryPolicy(fastRetry))
	_, err := index.Query(context.Background(), "q", 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRetrievalUnavailable)
	store.AssertNumberOfCalls(t, "Search", 2)
}

func TestVectorIndex_Query_EncoderFailure(t *testing.T) {
	encoder := new(mockEncoder)
	store := new(mockVectorStore)
	encoder.On("Encode", mock.Anything, mock.Anything).Return(nil, errors.New("503"))

	index := usecase.NewVectorIndex(encoder, store, usecase.WithRetryPolicy(fastRetry))
	_, err := index.Query(context.Background(), "q", 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbeddingFailure)
	encoder.AssertNumberOfCalls(t, "Encode", 2)
	store.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything)
}

func TestVectorIndex_Query_CachesQueryEmbedding(t *testing.T) {
	encoder := new(mockEncoder)
	store := new(mockVectorStore)
	encoder.On("Encode", mock.Anything, []string{"same question"}).Return([][]float32{{0.5, 0.5}}, nil).Once()
	store.On("Search", mock.Anything, mock.Anything, 3).Return([]domain.RetrievalResult{hit("a", 0.1)}, nil)

	index := usecase.NewVectorIndex(encoder, store, usecase.WithEmbeddingCache(8, time.Minute))
	for i := 0; i < 3; i++ {
		_, err := index.Query(context.Background(), "same question", 3)
		require.NoError(t, err)
	}
	encoder.AssertNumberOfCalls(t, "Encode", 1)
	store.AssertNumberOfCalls(t, "Search", 3)
}

func TestVectorIndex_ReplaceDocument_BatchesEmbeddings(t *testing.T) {
	encoder := new(mockEncoder)
	store := new(mockVectorStore)

	chunks := domain.NewCorpusChunks("doc", "doc.txt", []domain.Chunk{
		{Ordinal: 0, Text: "one"}, {Ordinal: 1, Text: "two"}, {Ordinal: 2, Text: "three"},
	})
	encoder.On("Encode", mock.Anything, []string{"one", "two"}).Return([][]float32{{1}, {2}}, nil).Once()
	encoder.On("Encode", mock.Anything, []string{"three"}).Return([][]float32{{3}}, nil).Once()
	store.On("ReplaceDocument", mock.Anything, "doc", mock.MatchedBy(func(got []domain.CorpusChunk) bool {
		return len(got) == 3 &&
			got[0].Embedding[0] == 1 && got[1].Embedding[0] == 2 && got[2].Embedding[0] == 3
	})).Return(nil)

	index := usecase.NewVectorIndex(encoder, store, usecase.WithEmbedBatchSize(2))
	require.NoError(t, index.ReplaceDocument(context.Background(), "doc", chunks))

	encoder.AssertExpectations(t)
	store.AssertExpectations(t)
	assert.Nil(t, chunks[0].Embedding, "input chunks are not mutated")
}

func TestVectorIndex_ReplaceDocument_EmbeddingFailureLeavesStoreUntouched(t *testing.T) {
	encoder := new(mockEncoder)
	store := new(mockVectorStore)
	chunks := domain.NewCorpusChunks("doc", "", []domain.Chunk{{Ordinal: 0, Text: "one"}, {Ordinal: 1, Text: "two"}})
	encoder.On("Encode", mock.Anything, mock.Anything).Return([][]float32{{1}}, nil)

	index := usecase.NewVectorIndex(encoder, store, usecase.WithRetryPolicy(fastRetry))
	err := index.ReplaceDocument(context.Background(), "doc", chunks)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbeddingFailure)
	store.AssertNotCalled(t, "ReplaceDocument", mock.Anything, mock.Anything, mock.Anything)
}
