package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-dialog/internal/domain"
	"rag-dialog/internal/usecase"
)

type fakeIndexer struct {
	mu      sync.Mutex
	indexed []string
	fail    map[string]error
	hasher  domain.SourceHashPolicy
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{fail: map[string]error{}, hasher: domain.NewSourceHashPolicy()}
}

func (f *fakeIndexer) IndexDocument(ctx context.Context, input usecase.IndexDocumentInput) (*usecase.IndexDocumentOutput, error) {
	if err := f.fail[input.DocumentID]; err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.indexed = append(f.indexed, input.DocumentID)
	f.mu.Unlock()
	return &usecase.IndexDocumentOutput{
		DocumentID:     input.DocumentID,
		SourceHash:     f.SourceHash(input.DocumentID, input.Body),
		ChunkerVersion: domain.ChunkerVersionRecursiveV1,
		EmbedderModel:  "fake",
		Chunks:         len(input.Body) / 10,
	}, nil
}

func (f *fakeIndexer) Preview(body string) ([]domain.Chunk, error) { return nil, nil }

func (f *fakeIndexer) SourceHash(documentID, body string) string {
	return f.hasher.Compute(documentID, body)
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) RecordIngestedChunks(status string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[status] += n
}

func testManifest(t *testing.T, dir string) *Manifest {
	t.Helper()
	return &Manifest{Documents: []ManifestDocument{
		{ID: "a", Path: writeFile(t, dir, "a.txt", "Alpha document with forty characters...."), Source: "a.txt"},
		{ID: "b", Path: writeFile(t, dir, "b.txt", "Beta document, twenty"), Source: "b.txt"},
	}}
}

func TestRunner_IndexesThenSkipsUnchanged(t *testing.T) {
	dir := t.TempDir()
	m := testManifest(t, dir)
	progress := NewProgressManager(filepath.Join(dir, "progress.json"))
	indexer := newFakeIndexer()
	recorder := &countingRecorder{}

	runner := NewRunner(indexer, progress, 2, recorder, nil)

	summary, err := runner.Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Indexed)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 6, summary.Chunks)
	assert.ElementsMatch(t, []string{"a", "b"}, indexer.indexed)
	assert.Equal(t, 6, recorder.counts["indexed"])

	state, err := progress.Load()
	require.NoError(t, err)
	require.Contains(t, state.Documents, "a")
	assert.Equal(t, indexer.SourceHash("a", "Alpha document with forty characters...."), state.Documents["a"].SourceHash)
	assert.Equal(t, "fake", state.Documents["a"].EmbedderModel)

	// Second run: nothing changed.
	summary, err = runner.Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Indexed)
	assert.Equal(t, 2, summary.Skipped)
	assert.Len(t, indexer.indexed, 2)

	// Editing one document re-ingests only that one.
	writeFile(t, dir, "b.txt", "Beta document, now rewritten")
	summary, err = runner.Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Indexed)
	assert.Equal(t, 1, summary.Skipped)
	require.Len(t, indexer.indexed, 3)
	assert.Equal(t, "b", indexer.indexed[2])
}

func TestRunner_FailureKeepsEarlierProgress(t *testing.T) {
	dir := t.TempDir()
	m := testManifest(t, dir)
	progress := NewProgressManager(filepath.Join(dir, "progress.json"))
	indexer := newFakeIndexer()
	indexer.fail["b"] = errors.New("embedding failure")

	runner := NewRunner(indexer, progress, 1, nil, nil)
	summary, err := runner.Run(context.Background(), m)
	require.Error(t, err)
	assert.Equal(t, 1, summary.Indexed)

	state, err := progress.Load()
	require.NoError(t, err)
	assert.Contains(t, state.Documents, "a")
	assert.NotContains(t, state.Documents, "b")

	// Lock was released even though the run failed.
	require.NoError(t, progress.Lock())
	require.NoError(t, progress.Unlock())
}

func TestRunner_MissingDocumentFile(t *testing.T) {
	dir := t.TempDir()
	m := &Manifest{Documents: []ManifestDocument{{ID: "ghost", Path: filepath.Join(dir, "ghost.txt")}}}

	runner := NewRunner(newFakeIndexer(), NewProgressManager(filepath.Join(dir, "progress.json")), 1, nil, nil)
	_, err := runner.Run(context.Background(), m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestRunner_RefusesWhenLocked(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "progress.json")
	holder := NewProgressManager(path)
	require.NoError(t, holder.Lock())
	defer holder.Unlock()

	runner := NewRunner(newFakeIndexer(), NewProgressManager(path), 1, nil, nil)
	_, err := runner.Run(context.Background(), testManifest(t, dir))
	assert.Error(t, err)
}
