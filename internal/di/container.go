package di

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"rag-dialog/internal/adapter/rag_augur"
	"rag-dialog/internal/adapter/rag_history"
	"rag-dialog/internal/adapter/rag_vector"
	"rag-dialog/internal/adapter/repository"
	"rag-dialog/internal/domain"
	"rag-dialog/internal/infra"
	"rag-dialog/internal/infra/config"
	"rag-dialog/internal/infra/metrics"
	"rag-dialog/internal/usecase"
)

// ReadinessCheck probes one backing service.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// ApplicationComponents holds all wired dependencies for the application.
type ApplicationComponents struct {
	// Stores
	VectorStore  domain.VectorStore
	HistoryStore domain.HistoryStore

	// Model clients
	Encoder   domain.VectorEncoder
	Generator domain.LLMClient

	// Usecases
	VectorIndex  usecase.VectorIndex
	AskUsecase   usecase.AskUsecase
	IndexUsecase usecase.IndexCorpusUsecase

	Recorder metrics.Recorder

	// Raw clients, nil unless a configured backend needs them
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	Mongo       *mongo.Client
	Qdrant      *rag_vector.QdrantStore
	MongoDialog *rag_history.MongoStore

	checks  []ReadinessCheck
	closers []func(context.Context) error
}

// Option adjusts wiring before the usecases are built.
type Option func(*options)

type options struct {
	wrapEncoder func(domain.VectorEncoder) domain.VectorEncoder
}

// WithEncoderWrapper decorates the embedding client, e.g. with a rate limiter.
func WithEncoderWrapper(wrap func(domain.VectorEncoder) domain.VectorEncoder) Option {
	return func(o *options) {
		o.wrapEncoder = wrap
	}
}

// NewApplicationComponents connects the configured backends and wires the
// usecases. On error every connection opened so far is closed.
func NewApplicationComponents(ctx context.Context, cfg *config.Config, log *slog.Logger, opts ...Option) (_ *ApplicationComponents, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &ApplicationComponents{Recorder: metrics.NewRecorder()}
	defer func() {
		if err != nil {
			_ = c.Close(context.Background())
		}
	}()

	metric, err := domain.ParseDistanceMetric(cfg.Vector.Metric)
	if err != nil {
		return nil, err
	}

	// Storage
	if cfg.Vector.Backend == config.BackendPgvector || cfg.History.Backend == config.BackendPostgres {
		if err = c.connectPostgres(ctx, cfg.Database); err != nil {
			return nil, err
		}
	}
	if c.VectorStore, err = c.buildVectorStore(cfg, metric); err != nil {
		return nil, err
	}
	if c.HistoryStore, err = c.buildHistoryStore(ctx, cfg); err != nil {
		return nil, err
	}

	// Model clients
	if c.Encoder, err = buildEncoder(ctx, cfg); err != nil {
		return nil, err
	}
	if o.wrapEncoder != nil {
		c.Encoder = o.wrapEncoder(c.Encoder)
	}
	if c.Generator, err = buildGenerator(ctx, cfg, log); err != nil {
		return nil, err
	}

	retry := usecase.RetryPolicy{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval,
		Timeout:         cfg.Retry.UpstreamTimeout,
	}

	c.VectorIndex = usecase.NewVectorIndex(c.Encoder, c.VectorStore,
		usecase.WithEmbeddingCache(cfg.Cache.Size, cfg.Cache.TTL),
		usecase.WithRetryPolicy(retry),
		usecase.WithUpstreamObserver(c.Recorder),
		usecase.WithEmbedBatchSize(cfg.Ingest.EmbedBatchSize),
	)

	askCfg := usecase.AskConfig{
		TopK:               cfg.RAG.TopK,
		RelevanceThreshold: cfg.RAG.RelevanceThreshold,
		NoInfoAnswer:       cfg.RAG.NoInfoAnswer,
		MaxTokens:          cfg.Generator.MaxTokens,
		Retry:              retry,
	}
	c.AskUsecase, err = usecase.NewAskUsecase(
		c.VectorIndex,
		c.HistoryStore,
		usecase.NewGroundedPromptBuilder(),
		c.Generator,
		askCfg,
		usecase.WithAskObserver(c.Recorder),
	)
	if err != nil {
		return nil, err
	}

	chunker, err := domain.NewRecursiveChunker(domain.ChunkerConfig{
		ChunkSize:    cfg.Chunker.Size,
		MinChunkSize: cfg.Chunker.MinSize,
	})
	if err != nil {
		return nil, err
	}
	c.IndexUsecase = usecase.NewIndexCorpusUsecase(chunker, c.VectorIndex, domain.NewSourceHashPolicy(), c.Encoder)

	log.Info("application components wired",
		"vector_backend", cfg.Vector.Backend,
		"history_backend", cfg.History.Backend,
		"embedder", c.Encoder.Version(),
		"generator", c.Generator.Version())
	return c, nil
}

func (c *ApplicationComponents) connectPostgres(ctx context.Context, db config.DatabaseConfig) error {
	pool, err := infra.NewPostgresDB(ctx, db.DSN(), infra.PoolConfigFrom(db))
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	c.Pool = pool
	c.addCheck("postgres", pool.Ping)
	c.addCloser(func(context.Context) error {
		pool.Close()
		return nil
	})
	return nil
}

func (c *ApplicationComponents) buildVectorStore(cfg *config.Config, metric domain.DistanceMetric) (domain.VectorStore, error) {
	var store domain.VectorStore
	switch cfg.Vector.Backend {
	case config.BackendPgvector:
		store = repository.NewPgVectorStore(c.Pool, metric)
	case config.BackendQdrant:
		c.Qdrant = rag_vector.NewQdrantStore(cfg.Qdrant.URL, cfg.Qdrant.Collection, cfg.Qdrant.APIKey, metric, cfg.Retry.UpstreamTimeout)
		store = c.Qdrant
	case config.BackendMemory:
		store = rag_vector.NewMemoryStore(metric)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Vector.Backend)
	}
	c.addCheck("vector_store", func(ctx context.Context) error {
		_, err := store.Count(ctx)
		return err
	})
	return store, nil
}

func (c *ApplicationComponents) buildHistoryStore(ctx context.Context, cfg *config.Config) (domain.HistoryStore, error) {
	switch cfg.History.Backend {
	case config.BackendPostgres:
		return repository.NewPgHistoryStore(c.Pool), nil
	case config.BackendRedis:
		client, err := infra.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		c.Redis = client
		c.addCheck("redis", func(ctx context.Context) error { return client.Ping(ctx).Err() })
		c.addCloser(func(context.Context) error { return client.Close() })
		return rag_history.NewRedisStore(client, cfg.Redis.KeyPrefix), nil
	case config.BackendMongo:
		client, err := infra.NewMongoClient(ctx, cfg.Mongo.URI)
		if err != nil {
			return nil, fmt.Errorf("mongo: %w", err)
		}
		c.Mongo = client
		c.addCheck("mongo", func(ctx context.Context) error { return client.Ping(ctx, readpref.Primary()) })
		c.addCloser(client.Disconnect)
		c.MongoDialog = rag_history.NewMongoStore(client.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection))
		return c.MongoDialog, nil
	case config.BackendMemory:
		return rag_history.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.History.Backend)
	}
}

func buildEncoder(ctx context.Context, cfg *config.Config) (domain.VectorEncoder, error) {
	e := cfg.Embedder
	switch e.Provider {
	case config.ProviderOllama:
		return rag_augur.NewOllamaEmbedder(e.URL, e.Model, e.Timeout), nil
	case config.ProviderGemini:
		client, err := rag_augur.NewGeminiClient(ctx, e.APIKey, e.URL, e.Timeout)
		if err != nil {
			return nil, err
		}
		return rag_augur.NewGeminiEmbedder(client, e.Model, cfg.Vector.Dimension), nil
	case config.ProviderOpenAI:
		return rag_augur.NewOpenAIEmbedder(rag_augur.NewOpenAIClient(e.APIKey, e.URL, e.Timeout), e.Model), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", e.Provider)
	}
}

func buildGenerator(ctx context.Context, cfg *config.Config, log *slog.Logger) (domain.LLMClient, error) {
	g := cfg.Generator
	switch g.Provider {
	case config.ProviderOllama:
		return rag_augur.NewOllamaGenerator(g.URL, g.Model, log), nil
	case config.ProviderGemini:
		client, err := rag_augur.NewGeminiClient(ctx, g.APIKey, g.URL, g.Timeout)
		if err != nil {
			return nil, err
		}
		return rag_augur.NewGeminiGenerator(client, g.Model), nil
	case config.ProviderOpenAI:
		return rag_augur.NewOpenAIGenerator(rag_augur.NewOpenAIClient(g.APIKey, g.URL, g.Timeout), g.Model), nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", g.Provider)
	}
}

func (c *ApplicationComponents) addCheck(name string, check func(context.Context) error) {
	c.checks = append(c.checks, ReadinessCheck{Name: name, Check: check})
}

func (c *ApplicationComponents) addCloser(fn func(context.Context) error) {
	c.closers = append(c.closers, fn)
}

// Ready runs every readiness check and joins the failures.
func (c *ApplicationComponents) Ready(ctx context.Context) error {
	var errs []error
	for _, rc := range c.checks {
		if err := rc.Check(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rc.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Close releases connections in reverse order of creation.
func (c *ApplicationComponents) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
