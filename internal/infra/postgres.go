package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"rag-dialog/internal/infra/config"
)

// PoolConfig holds tunable parameters for the PostgreSQL connection pool.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
	// SkipVectorTypes disables pgvector type registration, needed before
	// the extension exists (schema migration).
	SkipVectorTypes bool
}

// PoolConfigFrom derives pool settings from the database config.
func PoolConfigFrom(cfg config.DatabaseConfig) PoolConfig {
	return PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns}
}

// NewPostgresDB creates a new PostgreSQL connection pool.
func NewPostgresDB(ctx context.Context, dsn string, opts ...PoolConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	var opt PoolConfig
	if len(opts) > 0 {
		opt = opts[0]
	}

	poolCfg.MaxConns = 10
	if opt.MaxConns > 0 {
		poolCfg.MaxConns = opt.MaxConns
	}
	poolCfg.MinConns = 2
	if opt.MinConns > 0 {
		poolCfg.MinConns = opt.MinConns
	}

	poolCfg.MaxConnLifetime = 1 * time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	if !opt.SkipVectorTypes {
		poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			return pgxvector.RegisterTypes(ctx, conn)
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return pool, nil
}
