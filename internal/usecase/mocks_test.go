package usecase_test

import (
	"context"
	"sync"
	"time"

	"rag-dialog/internal/domain"
	"rag-dialog/internal/usecase"

	"github.com/stretchr/testify/mock"
)

type mockVectorIndex struct {
	mock.Mock
}

func (m *mockVectorIndex) Query(ctx context.Context, text string, k int) ([]domain.RetrievalResult, error) {
	args := m.Called(ctx, text, k)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RetrievalResult), args.Error(1)
}

func (m *mockVectorIndex) ReplaceDocument(ctx context.Context, documentID string, chunks []domain.CorpusChunk) error {
	args := m.Called(ctx, documentID, chunks)
	return args.Error(0)
}

type mockLLMClient struct {
	mock.Mock
}

func (m *mockLLMClient) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.LLMResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LLMResponse), args.Error(1)
}

func (m *mockLLMClient) Version() string {
	return "mock"
}

type mockEncoder struct {
	mock.Mock
}

func (m *mockEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *mockEncoder) Version() string {
	return "mock-embed"
}

type mockVectorStore struct {
	mock.Mock
}

func (m *mockVectorStore) Upsert(ctx context.Context, chunks []domain.CorpusChunk) error {
	args := m.Called(ctx, chunks)
	return args.Error(0)
}

func (m *mockVectorStore) ReplaceDocument(ctx context.Context, documentID string, chunks []domain.CorpusChunk) error {
	args := m.Called(ctx, documentID, chunks)
	return args.Error(0)
}

func (m *mockVectorStore) Search(ctx context.Context, vector []float32, k int) ([]domain.RetrievalResult, error) {
	args := m.Called(ctx, vector, k)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RetrievalResult), args.Error(1)
}

func (m *mockVectorStore) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockVectorStore) Metric() domain.DistanceMetric {
	return domain.DistanceCosine
}

// fakeHistory is an in-memory HistoryStore with optional injected failures.
type fakeHistory struct {
	mu        sync.Mutex
	sessions  map[string][]domain.Turn
	getErr    error
	appendErr error
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{sessions: make(map[string][]domain.Turn)}
}

func (f *fakeHistory) Get(_ context.Context, sessionID string) ([]domain.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return append([]domain.Turn(nil), f.sessions[sessionID]...), nil
}

func (f *fakeHistory) Append(_ context.Context, sessionID string, turns ...domain.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.sessions[sessionID] = append(f.sessions[sessionID], turns...)
	return nil
}

func (f *fakeHistory) Put(_ context.Context, sessionID string, turns []domain.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sessionID] = append([]domain.Turn(nil), turns...)
	return nil
}

func (f *fakeHistory) Delete(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, sessionID)
	return nil
}

func (f *fakeHistory) turns(sessionID string) []domain.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Turn(nil), f.sessions[sessionID]...)
}

// recordingObserver counts outcomes and history failures.
type recordingObserver struct {
	mu              sync.Mutex
	outcomes        []string
	historyFailures []string
	retries         int
}

func (r *recordingObserver) RecordAskOutcome(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordingObserver) RecordHistoryFailure(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.historyFailures = append(r.historyFailures, op)
}

func (r *recordingObserver) RecordUpstream(string, error, time.Duration) {}

func (r *recordingObserver) RecordRetry(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

var _ usecase.AskObserver = (*recordingObserver)(nil)

func result(id string, text string, similarity float64) domain.RetrievalResult {
	return domain.RetrievalResult{
		Chunk: domain.CorpusChunk{
			DocumentID: id,
			Text:       text,
			Metadata:   domain.ChunkMetadata{StartIndex: 0, EndIndex: len(text), TokenCount: len(text)},
		},
		Distance:   1 - similarity,
		Similarity: similarity,
	}
}
