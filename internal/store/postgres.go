package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of *pgxpool.Pool the stores use
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresOptions holds the database connection settings
type PostgresOptions struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	MaxConns int
	MinConns int

	MaxConnLifetime time.Duration
}

// NewPostgresPool creates a connection pool and checks the connection
func NewPostgresPool(ctx context.Context, opts PostgresOptions) (*pgxpool.Pool, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		opts.Host, opts.Port, opts.Database, opts.User, opts.Password, opts.MaxConns, opts.MinConns,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if opts.MaxConnLifetime > 0 {
		config.MaxConnLifetime = opts.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS prompt_cache (
	cache_key        TEXT PRIMARY KEY,
	tenant_id        TEXT NOT NULL,
	file_path        TEXT NOT NULL,
	content          TEXT NOT NULL,
	content_hash     TEXT NOT NULL,
	schema_version   INTEGER NOT NULL,
	cached_at        TIMESTAMPTZ NOT NULL,
	expires_at       TIMESTAMPTZ NOT NULL,
	size_bytes       BIGINT NOT NULL,
	last_accessed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_prompt_cache_tenant ON prompt_cache (tenant_id);
CREATE INDEX IF NOT EXISTS idx_prompt_cache_last_accessed ON prompt_cache (last_accessed_at);
CREATE INDEX IF NOT EXISTS idx_prompt_cache_expires ON prompt_cache (expires_at);

CREATE TABLE IF NOT EXISTS tenant_repository_configs (
	tenant_id          TEXT PRIMARY KEY,
	repository         TEXT NOT NULL,
	ref                TEXT NOT NULL,
	enabled            BOOLEAN NOT NULL DEFAULT TRUE,
	schema_version     INTEGER NOT NULL,
	credential_ref     TEXT NOT NULL DEFAULT '',
	cache_ttl_seconds  BIGINT NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL,
	version            BIGINT NOT NULL
);
`

// EnsureSchema creates the tables the stores need
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isUniqueViolation reports a duplicate primary key
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
