package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"rag-dialog/internal/infra/logger"
	"rag-dialog/internal/usecase"
)

// ChunkRecorder receives ingestion counters.
type ChunkRecorder interface {
	RecordIngestedChunks(status string, n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordIngestedChunks(string, int) {}

// Summary reports the outcome of a Run.
type Summary struct {
	Indexed int
	Skipped int
	Chunks  int
	Elapsed time.Duration
}

// Runner ingests every manifest document whose revision is not yet indexed.
type Runner struct {
	indexer     usecase.IndexCorpusUsecase
	progress    *ProgressManager
	parallelism int
	recorder    ChunkRecorder
	logger      *slog.Logger
}

// NewRunner builds a Runner. parallelism bounds concurrent documents.
func NewRunner(indexer usecase.IndexCorpusUsecase, progress *ProgressManager, parallelism int, recorder ChunkRecorder, log *slog.Logger) *Runner {
	if parallelism < 1 {
		parallelism = 1
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		indexer:     indexer,
		progress:    progress,
		parallelism: parallelism,
		recorder:    recorder,
		logger:      log,
	}
}

// Run ingests the manifest. Progress is saved after each document, so an
// interrupted run resumes where it stopped. The first failure cancels the
// remaining documents.
func (r *Runner) Run(ctx context.Context, m *Manifest) (Summary, error) {
	start := time.Now()
	if err := r.progress.Lock(); err != nil {
		return Summary{}, err
	}
	defer func() {
		if err := r.progress.Unlock(); err != nil {
			r.logger.Warn("failed to release progress lock", "error", err)
		}
	}()

	state, err := r.progress.Load()
	if err != nil {
		return Summary{}, err
	}

	var (
		mu      sync.Mutex
		summary Summary
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for _, doc := range m.Documents {
		g.Go(func() error {
			dctx := logger.WithDocumentID(gctx, doc.ID)

			body, err := os.ReadFile(doc.Path)
			if err != nil {
				return fmt.Errorf("read document %s: %w", doc.ID, err)
			}
			text := string(body)
			hash := r.indexer.SourceHash(doc.ID, text)

			mu.Lock()
			unchanged := state.IsIndexed(doc.ID, hash)
			if unchanged {
				summary.Skipped++
			}
			mu.Unlock()
			if unchanged {
				r.logger.DebugContext(dctx, "document unchanged, skipping")
				r.recorder.RecordIngestedChunks("skipped", 0)
				return nil
			}

			out, err := r.indexer.IndexDocument(dctx, usecase.IndexDocumentInput{
				DocumentID: doc.ID,
				Source:     doc.Source,
				Body:       text,
			})
			if err != nil {
				r.recorder.RecordIngestedChunks("failed", 1)
				return err
			}
			r.recorder.RecordIngestedChunks("indexed", out.Chunks)

			mu.Lock()
			defer mu.Unlock()
			state.Documents[doc.ID] = DocumentProgress{
				SourceHash:     out.SourceHash,
				Chunks:         out.Chunks,
				ChunkerVersion: string(out.ChunkerVersion),
				EmbedderModel:  out.EmbedderModel,
				IndexedAt:      time.Now(),
			}
			summary.Indexed++
			summary.Chunks += out.Chunks
			return r.progress.Save(state)
		})
	}

	err = g.Wait()
	summary.Elapsed = time.Since(start)
	r.logger.Info("ingest run finished",
		"indexed", summary.Indexed,
		"skipped", summary.Skipped,
		"chunks", summary.Chunks,
		"elapsed", summary.Elapsed.String())
	return summary, err
}
