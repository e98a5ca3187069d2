package seenset

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS seen_keys (
	key      TEXT PRIMARY KEY,
	added_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresConfig controls the connection pool behind the Postgres store.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// Postgres is a seen-set shared by multiple scraper instances through one
// database.
type Postgres struct {
	pool pgPool
}

// NewPostgres connects to the DSN and ensures the schema.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	return NewPostgresWithConfig(ctx, PostgresConfig{DSN: dsn})
}

// NewPostgresWithConfig connects with explicit pool settings.
func NewPostgresWithConfig(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgresWithPool constructs a store from an existing pool (primarily
// for testing).
func NewPostgresWithPool(pool pgPool) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Postgres{pool: pool}, nil
}

// Contains reports whether the key was added before.
func (p *Postgres) Contains(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM seen_keys WHERE key = $1)", key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query seen key: %w", err)
	}
	return exists, nil
}

// Add records the key. Re-adding is a no-op.
func (p *Postgres) Add(ctx context.Context, key string) error {
	_, err := p.pool.Exec(ctx, "INSERT INTO seen_keys (key) VALUES ($1) ON CONFLICT (key) DO NOTHING", key)
	if err != nil {
		return fmt.Errorf("insert seen key: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (p *Postgres) Close() error {
	if p != nil && p.pool != nil {
		p.pool.Close()
	}
	return nil
}
