package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend names accepted by VECTOR_BACKEND, HISTORY_BACKEND and LLM_PROVIDER.
const (
	BackendPostgres = "postgres"
	BackendPgvector = "pgvector"
	BackendQdrant   = "qdrant"
	BackendRedis    = "redis"
	BackendMongo    = "mongo"
	BackendMemory   = "memory"

	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

type Config struct {
	Env       string
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Mongo     MongoConfig
	Qdrant    QdrantConfig
	Vector    VectorConfig
	History   HistoryConfig
	Embedder  EmbedderConfig
	Generator GeneratorConfig
	RAG       RAGConfig
	Chunker   ChunkerConfig
	Cache     CacheConfig
	Retry     RetryConfig
	Ingest    IngestConfig
	OTel      OTelConfig
}

type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// DSN renders the libpq connection string used by pgxpool.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type RedisConfig struct {
	URL       string
	KeyPrefix string
}

type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
}

type VectorConfig struct {
	Backend   string
	Dimension int
	Metric    string
}

type HistoryConfig struct {
	Backend string
}

type EmbedderConfig struct {
	Provider string
	URL      string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

type GeneratorConfig struct {
	Provider  string
	URL       string
	Model     string
	APIKey    string
	Timeout   time.Duration
	MaxTokens int
}

type RAGConfig struct {
	TopK               int
	RelevanceThreshold float64
	NoInfoAnswer       string
}

type ChunkerConfig struct {
	Size    int
	MinSize int
}

type CacheConfig struct {
	Size int
	TTL  time.Duration
}

type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	UpstreamTimeout time.Duration
}

type IngestConfig struct {
	ProgressFile      string
	Parallelism       int
	EmbedBatchSize    int
	RequestsPerSecond float64
	Burst             int
}

type OTelConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	SampleRatio    float64
}

// DefaultNoInfoAnswer is returned when the knowledge base holds nothing relevant.
const DefaultNoInfoAnswer = "The knowledge base has no information to answer this question."

// LoadDotEnv reads .env files into the environment without overriding
// variables that are already set. Missing files are not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", p, err)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

func Load() *Config {
	return &Config{
		Env: getEnv("ENV", "development"),
		Server: ServerConfig{
			Port:            getEnv("PORT", "3000"),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "rag-db"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "rag_user"),
			Password: getSecret("DB_PASSWORD", "DB_PASSWORD_FILE", "rag_password"),
			Name:     getEnv("DB_NAME", "rag_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 2)),
		},
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "rag-dialog:history:"),
		},
		Mongo: MongoConfig{
			URI:        getSecret("MONGO_URI", "MONGO_URI_FILE", "mongodb://localhost:27017"),
			Database:   getEnv("MONGO_DATABASE", "rag_dialog"),
			Collection: getEnv("MONGO_COLLECTION", "dialogs"),
		},
		Qdrant: QdrantConfig{
			URL:        getEnv("QDRANT_URL", "http://localhost:6333"),
			APIKey:     getSecret("QDRANT_API_KEY", "QDRANT_API_KEY_FILE", ""),
			Collection: getEnv("QDRANT_COLLECTION", "corpus_chunks"),
		},
		Vector: VectorConfig{
			Backend:   getEnv("VECTOR_BACKEND", BackendPgvector),
			Dimension: getEnvInt("VECTOR_DIMENSION", 768),
			Metric:    getEnv("VECTOR_METRIC", "cosine"),
		},
		History: HistoryConfig{
			Backend: getEnv("HISTORY_BACKEND", BackendPostgres),
		},
		Embedder: EmbedderConfig{
			Provider: getEnvWithAlt("EMBEDDING_PROVIDER", "LLM_PROVIDER", ProviderOllama),
			URL:      getEnvWithAlt("EMBEDDER_URL", "OLLAMA_URL", "http://localhost:11434"),
			Model:    getEnv("EMBEDDING_MODEL", "embeddinggemma"),
			APIKey:   providerKey(getEnvWithAlt("EMBEDDING_PROVIDER", "LLM_PROVIDER", ProviderOllama)),
			Timeout:  getEnvDuration("EMBEDDER_TIMEOUT", 30*time.Second),
		},
		Generator: GeneratorConfig{
			Provider:  getEnv("LLM_PROVIDER", ProviderOllama),
			URL:       getEnvWithAlt("GENERATOR_URL", "OLLAMA_URL", "http://localhost:11434"),
			Model:     getEnv("GENERATION_MODEL", "gemma3:4b"),
			APIKey:    providerKey(getEnv("LLM_PROVIDER", ProviderOllama)),
			Timeout:   getEnvDuration("GENERATOR_TIMEOUT", 60*time.Second),
			MaxTokens: getEnvInt("RAG_MAX_TOKENS", 1024),
		},
		RAG: RAGConfig{
			TopK:               getEnvInt("RAG_TOP_K", 3),
			RelevanceThreshold: getEnvFloat64("RAG_RELEVANCE_THRESHOLD", 0.5),
			NoInfoAnswer:       getEnv("RAG_NO_INFO_ANSWER", DefaultNoInfoAnswer),
		},
		Chunker: ChunkerConfig{
			Size:    getEnvInt("CHUNK_SIZE", 1000),
			MinSize: getEnvInt("CHUNK_MIN_SIZE", 100),
		},
		Cache: CacheConfig{
			Size: getEnvInt("EMBEDDING_CACHE_SIZE", 512),
			TTL:  getEnvDuration("EMBEDDING_CACHE_TTL", 10*time.Minute),
		},
		Retry: RetryConfig{
			MaxAttempts:     getEnvInt("RETRY_MAX_ATTEMPTS", 2),
			InitialInterval: getEnvDuration("RETRY_INITIAL_INTERVAL", 200*time.Millisecond),
			UpstreamTimeout: getEnvDuration("UPSTREAM_TIMEOUT", 30*time.Second),
		},
		Ingest: IngestConfig{
			ProgressFile:      getEnv("INGEST_PROGRESS_FILE", "ingest-progress.json"),
			Parallelism:       getEnvInt("INGEST_PARALLELISM", 2),
			EmbedBatchSize:    getEnvInt("INGEST_EMBED_BATCH_SIZE", 16),
			RequestsPerSecond: getEnvFloat64("INGEST_RPS", 5),
			Burst:             getEnvInt("INGEST_BURST", 2),
		},
		OTel: OTelConfig{
			Enabled:        getEnvBool("OTEL_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "rag-dialog"),
			ServiceVersion: getEnv("SERVICE_VERSION", "0.0.0"),
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318"),
			SampleRatio:    getEnvFloat64("OTEL_TRACE_SAMPLE_RATIO", 0.1),
		},
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Vector.Backend {
	case BackendPgvector, BackendQdrant, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown VECTOR_BACKEND %q", c.Vector.Backend))
	}
	switch c.History.Backend {
	case BackendPostgres, BackendRedis, BackendMongo, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown HISTORY_BACKEND %q", c.History.Backend))
	}
	for _, p := range []string{c.Embedder.Provider, c.Generator.Provider} {
		switch p {
		case ProviderOllama, ProviderGemini, ProviderOpenAI:
		default:
			errs = append(errs, fmt.Errorf("unknown provider %q", p))
		}
	}
	if c.Vector.Metric != "cosine" && c.Vector.Metric != "euclidean" {
		errs = append(errs, fmt.Errorf("VECTOR_METRIC must be cosine or euclidean, got %q", c.Vector.Metric))
	}
	if c.Vector.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("VECTOR_DIMENSION must be positive, got %d", c.Vector.Dimension))
	}
	if c.RAG.TopK <= 0 {
		errs = append(errs, fmt.Errorf("RAG_TOP_K must be positive, got %d", c.RAG.TopK))
	}
	if c.RAG.RelevanceThreshold < 0 || c.RAG.RelevanceThreshold > 1 {
		errs = append(errs, fmt.Errorf("RAG_RELEVANCE_THRESHOLD must be within [0,1], got %v", c.RAG.RelevanceThreshold))
	}
	if strings.TrimSpace(c.RAG.NoInfoAnswer) == "" {
		errs = append(errs, errors.New("RAG_NO_INFO_ANSWER must not be empty"))
	}
	if c.Chunker.Size <= 0 || c.Chunker.MinSize < 0 || c.Chunker.MinSize > c.Chunker.Size {
		errs = append(errs, fmt.Errorf("invalid chunk bounds: size=%d min=%d", c.Chunker.Size, c.Chunker.MinSize))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.Retry.MaxAttempts))
	}

	return errors.Join(errs...)
}

// ValidateServer applies Validate plus the constraints of the long-running
// server. The memory vector backend is rejected there because ingestion runs
// in a separate process and cannot populate it; it remains valid for tests
// and for `ingest chunk`.
func (c *Config) ValidateServer() error {
	var errs []error
	if err := c.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Vector.Backend == BackendMemory {
		errs = append(errs, errors.New("VECTOR_BACKEND=memory cannot serve queries: the ingest process cannot fill it, use pgvector or qdrant"))
	}
	return errors.Join(errs...)
}

func providerKey(provider string) string {
	switch provider {
	case ProviderGemini:
		return getSecret("GEMINI_API_KEY", "GEMINI_API_KEY_FILE", "")
	case ProviderOpenAI:
		return getSecret("OPENAI_API_KEY", "OPENAI_API_KEY_FILE", "")
	default:
		return ""
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getSecret(envKey, fileEnvKey, fallback string) string {
	// 1. Try direct environment variable
	if value, ok := os.LookupEnv(envKey); ok {
		return value
	}

	// 2. Try reading from file specified by fileEnvKey
	if filePath, ok := os.LookupEnv(fileEnvKey); ok {
		content, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(content))
		}
	}

	return fallback
}

func getEnvWithAlt(key, altKey, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	if value, ok := os.LookupEnv(altKey); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat64(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
