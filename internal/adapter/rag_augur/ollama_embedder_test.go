package rag_augur

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaEmbedder_Encode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req embedRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "embeddinggemma", req.Model)
		assert.Equal(t, []string{"a", "b"}, req.Input)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2],[0.3,0.4]]}`))
	}))
	defer server.Close()

	e := NewOllamaEmbedder(server.URL+"/", "embeddinggemma", time.Second)
	vectors, err := e.Encode(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1, 0.2}, {0.3, 0.4}}, vectors)
	assert.Equal(t, "embeddinggemma", e.Version())
}

func TestOllamaEmbedder_Encode_CountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2]]}`))
	}))
	defer server.Close()

	e := NewOllamaEmbedder(server.URL, "m", time.Second)
	_, err := e.Encode(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}

func TestOllamaEmbedder_Encode_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	e := NewOllamaEmbedder(server.URL, "m", time.Second)
	_, err := e.Encode(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestOllamaEmbedder_Encode_Empty(t *testing.T) {
	e := NewOllamaEmbedder("http://127.0.0.1:1", "m", time.Second)
	vectors, err := e.Encode(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}
