package store

import (
	"context"
	"fmt"
	"time"

	"github.com/devrev/promptsource/internal/model"
	"go.uber.org/zap"
)

// PostgresTier is the durable tier
type PostgresTier struct {
	db     DB
	logger *zap.Logger
}

// NewPostgresTier creates a durable tier over a pool
func NewPostgresTier(db DB, logger *zap.Logger) *PostgresTier {
	return &PostgresTier{db: db, logger: logger}
}

// Name returns the tier label
func (s *PostgresTier) Name() model.Tier {
	return model.TierDurable
}

// Get retrieves an entry regardless of expiry
func (s *PostgresTier) Get(ctx context.Context, key string) (*model.CacheEntry, error) {
	query := `
		SELECT cache_key, tenant_id, file_path, content, content_hash, schema_version,
		       cached_at, expires_at, size_bytes, last_accessed_at
		FROM prompt_cache
		WHERE cache_key = $1
	`

	var e model.CacheEntry
	err := s.db.QueryRow(ctx, query, key).Scan(
		&e.Key,
		&e.TenantID,
		&e.FilePath,
		&e.Content,
		&e.ContentHash,
		&e.SchemaVersion,
		&e.CachedAt,
		&e.ExpiresAt,
		&e.SizeBytes,
		&e.LastAccessedAt,
	)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	return &e, nil
}

// Set inserts or replaces an entry
func (s *PostgresTier) Set(ctx context.Context, e *model.CacheEntry) error {
	query := `
		INSERT INTO prompt_cache (cache_key, tenant_id, file_path, content, content_hash,
		                          schema_version, cached_at, expires_at, size_bytes, last_accessed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (cache_key) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			file_path = EXCLUDED.file_path,
			content = EXCLUDED.content,
			content_hash = EXCLUDED.content_hash,
			schema_version = EXCLUDED.schema_version,
			cached_at = EXCLUDED.cached_at,
			expires_at = EXCLUDED.expires_at,
			size_bytes = EXCLUDED.size_bytes,
			last_accessed_at = EXCLUDED.last_accessed_at
	`

	lastAccessed := e.LastAccessedAt
	if lastAccessed.IsZero() {
		lastAccessed = e.CachedAt
	}

	_, err := s.db.Exec(ctx, query,
		e.Key,
		e.TenantID,
		e.FilePath,
		e.Content,
		e.ContentHash,
		e.SchemaVersion,
		e.CachedAt,
		e.ExpiresAt,
		e.SizeBytes,
		lastAccessed,
	)
	if err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	return nil
}

// Touch records an access for least-recently-accessed eviction
func (s *PostgresTier) Touch(ctx context.Context, key string, at time.Time) error {
	query := `UPDATE prompt_cache SET last_accessed_at = $2 WHERE cache_key = $1`

	if _, err := s.db.Exec(ctx, query, key, at); err != nil {
		return fmt.Errorf("failed to touch cache entry: %w", err)
	}
	return nil
}

// Delete removes an entry
func (s *PostgresTier) Delete(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM prompt_cache WHERE cache_key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// DeleteTenant removes every entry of a tenant
func (s *PostgresTier) DeleteTenant(ctx context.Context, tenantID string) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM prompt_cache WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tenant entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpiredBefore removes entries whose expiry is before cutoff
func (s *PostgresTier) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM prompt_cache WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// EvictToBudget deletes least-recently-accessed entries until the total size
// is at most maxBytes.
func (s *PostgresTier) EvictToBudget(ctx context.Context, maxBytes int64) (EvictionResult, error) {
	query := `
		WITH ranked AS (
			SELECT cache_key,
			       SUM(size_bytes) OVER (ORDER BY last_accessed_at DESC, cache_key) AS running_bytes
			FROM prompt_cache
		)
		DELETE FROM prompt_cache p
		USING ranked r
		WHERE p.cache_key = r.cache_key AND r.running_bytes > $1
		RETURNING p.size_bytes
	`

	rows, err := s.db.Query(ctx, query, maxBytes)
	if err != nil {
		return EvictionResult{}, fmt.Errorf("failed to evict cache entries: %w", err)
	}
	defer rows.Close()

	var result EvictionResult
	for rows.Next() {
		var size int64
		if err := rows.Scan(&size); err != nil {
			return result, fmt.Errorf("failed to scan evicted entry: %w", err)
		}
		result.Entries++
		result.Bytes += size
	}
	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("failed to evict cache entries: %w", err)
	}

	if result.Entries > 0 {
		s.logger.Info("Evicted durable cache entries",
			zap.Int64("max_bytes", maxBytes),
			zap.Int64("evicted_entries", result.Entries),
			zap.Int64("evicted_bytes", result.Bytes))
	}
	return result, nil
}

// Usage returns the number of rows and their total size
func (s *PostgresTier) Usage(ctx context.Context) (Usage, error) {
	var u Usage
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM prompt_cache`,
	).Scan(&u.Entries, &u.Bytes)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to read cache usage: %w", err)
	}
	return u, nil
}

// Ping checks the database connection
func (s *PostgresTier) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
