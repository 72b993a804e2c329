package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"rag-dialog/internal/adapter/rag_history"
	"rag-dialog/internal/adapter/rag_vector"
	"rag-dialog/internal/adapter/repository"
	"rag-dialog/internal/di"
	"rag-dialog/internal/domain"
	"rag-dialog/internal/infra"
	"rag-dialog/internal/infra/config"
	"rag-dialog/internal/ingest"
)

var (
	version = "dev"

	// Global flags
	verbose      bool
	progressFile string

	// Run command flags
	manifestPath string
	parallelism  int
	rps          float64

	// Chunk command flags
	chunkFile string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "ingest",
	Short:   "Build the vector index from corpus documents",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadDotEnv()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Chunk, embed and upsert every document in a manifest",
	Long: `Chunk, embed and upsert every document listed in a YAML manifest.

Documents whose content hash is already recorded in the progress file are
skipped, so an interrupted run resumes where it stopped.

Manifest format:
  documents:
    - id: handbook
      path: docs/handbook.txt
      source: Employee handbook   # optional, defaults to the file name

Examples:
  ingest run --manifest corpus.yaml
  ingest run --manifest corpus.yaml --parallelism 4 --rps 10`,
	RunE: runIngest,
}

var chunkCmd = &cobra.Command{
	Use:   "chunk",
	Short: "Print the chunks of a file as JSON without embedding",
	RunE:  runChunk,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored chunk count and ingestion progress",
	RunE:  showStatus,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create tables, indexes and collections for the configured backends",
	RunE:  runMigrate,
}

var resetCmd = &cobra.Command{
	Use:   "reset-progress",
	Short: "Forget ingestion progress so the next run re-ingests everything",
	RunE:  resetProgress,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&progressFile, "progress-file", "", "progress file path (default $INGEST_PROGRESS_FILE)")

	runCmd.Flags().StringVar(&manifestPath, "manifest", "", "YAML manifest listing the corpus documents")
	runCmd.Flags().IntVar(&parallelism, "parallelism", 0, "documents processed concurrently (default $INGEST_PARALLELISM)")
	runCmd.Flags().Float64Var(&rps, "rps", 0, "embedding requests per second (default $INGEST_RPS)")
	_ = runCmd.MarkFlagRequired("manifest")

	chunkCmd.Flags().StringVar(&chunkFile, "file", "", "text file to chunk")
	_ = chunkCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(chunkCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(resetCmd)
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("service", "rag-dialog-ingest")
}

// closeLogged runs a deferred close and logs its failure.
func closeLogged(logger *slog.Logger, what string, closeFn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := closeFn(ctx); err != nil {
		logger.Warn("failed to close "+what, slog.String("error", err.Error()))
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if progressFile != "" {
		cfg.Ingest.ProgressFile = progressFile
	}
	if parallelism > 0 {
		cfg.Ingest.Parallelism = parallelism
	}
	if rps > 0 {
		cfg.Ingest.RequestsPerSecond = rps
	}
	return cfg, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	manifest, err := ingest.LoadManifest(manifestPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := di.NewApplicationComponents(ctx, cfg, logger,
		di.WithEncoderWrapper(func(next domain.VectorEncoder) domain.VectorEncoder {
			return ingest.NewRateLimitedEncoder(next, cfg.Ingest.RequestsPerSecond, cfg.Ingest.Burst)
		}))
	if err != nil {
		return fmt.Errorf("wire components: %w", err)
	}
	defer closeLogged(logger, "components", components.Close)

	logger.Info("starting ingest",
		slog.String("manifest", manifestPath),
		slog.Int("documents", len(manifest.Documents)),
		slog.String("progress_file", cfg.Ingest.ProgressFile),
		slog.Int("parallelism", cfg.Ingest.Parallelism),
		slog.Float64("rps", cfg.Ingest.RequestsPerSecond),
		slog.String("vector_backend", cfg.Vector.Backend),
	)

	runner := ingest.NewRunner(
		components.IndexUsecase,
		ingest.NewProgressManager(cfg.Ingest.ProgressFile),
		cfg.Ingest.Parallelism,
		components.Recorder,
		logger,
	)
	summary, err := runner.Run(ctx, manifest)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("ingest interrupted, progress saved for resume")
			return nil
		}
		return fmt.Errorf("run ingest: %w", err)
	}

	fmt.Printf("Ingest complete. Indexed: %d, Skipped: %d, Chunks: %d, Elapsed: %s\n",
		summary.Indexed, summary.Skipped, summary.Chunks, summary.Elapsed.Round(time.Millisecond))
	return nil
}

type chunkView struct {
	Ordinal  int                  `json:"ordinal"`
	Text     string               `json:"text"`
	Hash     string               `json:"hash"`
	Metadata domain.ChunkMetadata `json:"metadata"`
}

func runChunk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	body, err := os.ReadFile(chunkFile)
	if err != nil {
		return fmt.Errorf("read %s: %w", chunkFile, err)
	}
	chunker, err := domain.NewRecursiveChunker(domain.ChunkerConfig{
		ChunkSize:    cfg.Chunker.Size,
		MinChunkSize: cfg.Chunker.MinSize,
	})
	if err != nil {
		return err
	}
	chunks, err := chunker.Chunk(string(body))
	if err != nil {
		return err
	}

	views := make([]chunkView, 0, len(chunks))
	for _, c := range chunks {
		views = append(views, chunkView{Ordinal: c.Ordinal, Text: c.Text, Hash: c.Hash, Metadata: c.Metadata})
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(views)
}

func showStatus(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	progress, err := ingest.NewProgressManager(cfg.Ingest.ProgressFile).Load()
	if err != nil {
		return fmt.Errorf("load progress: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	components, err := di.NewApplicationComponents(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("wire components: %w", err)
	}
	defer closeLogged(logger, "components", components.Close)

	stored, err := components.VectorStore.Count(ctx)
	if err != nil {
		return fmt.Errorf("count stored chunks: %w", err)
	}

	fmt.Printf("Ingest Status:\n")
	fmt.Printf("  Vector Backend:  %s\n", cfg.Vector.Backend)
	fmt.Printf("  Stored Chunks:   %d\n", stored)
	fmt.Printf("  Progress File:   %s\n", cfg.Ingest.ProgressFile)
	fmt.Printf("  Documents:       %d\n", len(progress.Documents))
	fmt.Printf("  Recorded Chunks: %d\n", progress.TotalChunks())
	if !progress.UpdatedAt.IsZero() {
		fmt.Printf("  Updated At:      %s\n", progress.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	metric, err := domain.ParseDistanceMetric(cfg.Vector.Metric)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if cfg.Vector.Backend == config.BackendPgvector || cfg.History.Backend == config.BackendPostgres {
		poolCfg := infra.PoolConfigFrom(cfg.Database)
		poolCfg.SkipVectorTypes = true
		pool, err := infra.NewPostgresDB(ctx, cfg.Database.DSN(), poolCfg)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		if err := repository.EnsureSchema(ctx, pool, cfg.Vector.Dimension, metric); err != nil {
			return err
		}
		logger.Info("postgres schema ready", slog.Int("dimension", cfg.Vector.Dimension))
	}

	if cfg.Vector.Backend == config.BackendQdrant {
		store := rag_vector.NewQdrantStore(cfg.Qdrant.URL, cfg.Qdrant.Collection, cfg.Qdrant.APIKey, metric, cfg.Retry.UpstreamTimeout)
		if err := store.EnsureCollection(ctx, cfg.Vector.Dimension); err != nil {
			return err
		}
		logger.Info("qdrant collection ready", slog.String("collection", cfg.Qdrant.Collection))
	}

	if cfg.History.Backend == config.BackendMongo {
		client, err := infra.NewMongoClient(ctx, cfg.Mongo.URI)
		if err != nil {
			return fmt.Errorf("mongo: %w", err)
		}
		defer closeLogged(logger, "mongo client", client.Disconnect)
		store := rag_history.NewMongoStore(client.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection))
		if err := store.EnsureIndexes(ctx); err != nil {
			return err
		}
		logger.Info("mongo indexes ready", slog.String("collection", cfg.Mongo.Collection))
	}

	return nil
}

func resetProgress(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	manager := ingest.NewProgressManager(cfg.Ingest.ProgressFile)
	if err := manager.Lock(); err != nil {
		return err
	}
	defer closeLogged(logger, "progress lock", func(context.Context) error { return manager.Unlock() })

	if err := manager.Reset(); err != nil {
		return fmt.Errorf("reset progress: %w", err)
	}
	logger.Info("progress reset successfully", slog.String("progress_file", manager.FilePath()))
	return nil
}
