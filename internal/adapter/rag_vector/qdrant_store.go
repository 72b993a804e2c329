package rag_vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"rag-dialog/internal/domain"
	"rag-dialog/internal/infra/httpclient"
)

// QdrantStore talks to Qdrant's REST API. Points carry the chunk as payload.
type QdrantStore struct {
	BaseURL    string
	Collection string
	APIKey     string
	Client     *http.Client
	metric     domain.DistanceMetric
}

func NewQdrantStore(baseURL, collection, apiKey string, metric domain.DistanceMetric, timeout time.Duration) *QdrantStore {
	if metric == "" {
		metric = domain.DistanceCosine
	}
	return &QdrantStore{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Collection: collection,
		APIKey:     apiKey,
		Client:     httpclient.NewPooledClient(timeout),
		metric:     metric,
	}
}

type qdrantPayload struct {
	DocumentID string `json:"document_id"`
	Source     string `json:"source"`
	Ordinal    int    `json:"ordinal"`
	Text       string `json:"text"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
	TokenCount int    `json:"token_count"`
}

type qdrantPoint struct {
	ID      string        `json:"id"`
	Vector  []float32     `json:"vector"`
	Payload qdrantPayload `json:"payload"`
}

type upsertPointsRequest struct {
	Points []qdrantPoint `json:"points"`
}

type searchRequest struct {
	Vector      []float32 `json:"vector"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
}

type scoredPoint struct {
	ID      string        `json:"id"`
	Score   float64       `json:"score"`
	Payload qdrantPayload `json:"payload"`
}

type searchResponse struct {
	Result []scoredPoint `json:"result"`
}

type countResponse struct {
	Result struct {
		Count int `json:"count"`
	} `json:"result"`
}

type matchValue struct {
	Value string `json:"value"`
}

type fieldCondition struct {
	Key   string     `json:"key"`
	Match matchValue `json:"match"`
}

type deletePointsRequest struct {
	Filter struct {
		Must []fieldCondition `json:"must"`
	} `json:"filter"`
}

type createCollectionRequest struct {
	Vectors struct {
		Size     int    `json:"size"`
		Distance string `json:"distance"`
	} `json:"vectors"`
}

func (s *QdrantStore) Metric() domain.DistanceMetric {
	return s.metric
}

func (s *QdrantStore) qdrantDistance() string {
	if s.metric == domain.DistanceEuclidean {
		return "Euclid"
	}
	return "Cosine"
}

// EnsureCollection creates the collection when it does not exist yet.
func (s *QdrantStore) EnsureCollection(ctx context.Context, dimension int) error {
	if err := s.do(ctx, http.MethodGet, s.collectionPath(""), nil, nil); err == nil {
		return nil
	}
	var body createCollectionRequest
	body.Vectors.Size = dimension
	body.Vectors.Distance = s.qdrantDistance()
	if err := s.do(ctx, http.MethodPut, s.collectionPath(""), body, nil); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", s.Collection, err)
	}
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, chunks []domain.CorpusChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	points := make([]qdrantPoint, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("%w: chunk %d of %s has no embedding", domain.ErrValidation, c.Ordinal, c.DocumentID)
		}
		points = append(points, qdrantPoint{
			ID:     c.ID.String(),
			Vector: c.Embedding,
			Payload: qdrantPayload{
				DocumentID: c.DocumentID,
				Source:     c.Source,
				Ordinal:    c.Ordinal,
				Text:       c.Text,
				StartIndex: c.Metadata.StartIndex,
				EndIndex:   c.Metadata.EndIndex,
				TokenCount: c.Metadata.TokenCount,
			},
		})
	}
	if err := s.do(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), upsertPointsRequest{Points: points}, nil); err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

// ReplaceDocument deletes the document's points by payload filter, then
// upserts. Qdrant has no multi-request transaction, so a failed upsert leaves
// the document absent until the next ingest run.
func (s *QdrantStore) ReplaceDocument(ctx context.Context, documentID string, chunks []domain.CorpusChunk) error {
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("%w: chunk %d of %s has no embedding", domain.ErrValidation, c.Ordinal, c.DocumentID)
		}
	}
	if err := s.DeleteByDocument(ctx, documentID); err != nil {
		return err
	}
	return s.Upsert(ctx, chunks)
}

// DeleteByDocument removes every point whose payload carries documentID.
func (s *QdrantStore) DeleteByDocument(ctx context.Context, documentID string) error {
	var req deletePointsRequest
	req.Filter.Must = []fieldCondition{{Key: "document_id", Match: matchValue{Value: documentID}}}
	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/delete?wait=true"), req, nil); err != nil {
		return fmt.Errorf("qdrant delete %s: %w", documentID, err)
	}
	return nil
}

// Search maps Qdrant scores back to distances: cosine scores are similarities,
// Euclid scores are already distances.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, k int) ([]domain.RetrievalResult, error) {
	var resp searchResponse
	req := searchRequest{Vector: vector, Limit: k, WithPayload: true}
	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/search"), req, &resp); err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	results := make([]domain.RetrievalResult, 0, len(resp.Result))
	for _, p := range resp.Result {
		id, err := uuid.Parse(p.ID)
		if err != nil {
			return nil, fmt.Errorf("qdrant returned invalid point id %q: %w", p.ID, err)
		}
		distance := p.Score
		if s.metric == domain.DistanceCosine {
			distance = domain.DistanceFromCosineSimilarity(p.Score)
		}
		results = append(results, domain.RetrievalResult{
			Chunk: domain.CorpusChunk{
				ID:         id,
				DocumentID: p.Payload.DocumentID,
				Source:     p.Payload.Source,
				Ordinal:    p.Payload.Ordinal,
				Text:       p.Payload.Text,
				Metadata: domain.ChunkMetadata{
					StartIndex: p.Payload.StartIndex,
					EndIndex:   p.Payload.EndIndex,
					TokenCount: p.Payload.TokenCount,
				},
			},
			Distance: distance,
		})
	}
	return results, nil
}

func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	var resp countResponse
	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/count"), map[string]bool{"exact": true}, &resp); err != nil {
		return 0, fmt.Errorf("qdrant count: %w", err)
	}
	return resp.Result.Count, nil
}

func (s *QdrantStore) collectionPath(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.BaseURL, url.PathEscape(s.Collection), suffix)
}

func (s *QdrantStore) do(ctx context.Context, method, u string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.APIKey != "" {
		req.Header.Set("api-key", s.APIKey)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("qdrant returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

var _ domain.VectorStore = (*QdrantStore)(nil)
