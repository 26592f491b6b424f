package store

import (
	"context"
	"fmt"
	"time"

	"github.com/devrev/promptsource/internal/model"
	"go.uber.org/zap"
)

// PostgresTenantConfigStore implements TenantConfigStore for PostgreSQL
type PostgresTenantConfigStore struct {
	db     DB
	logger *zap.Logger
}

// NewPostgresTenantConfigStore creates a new PostgreSQL tenant config store
func NewPostgresTenantConfigStore(db DB, logger *zap.Logger) *PostgresTenantConfigStore {
	return &PostgresTenantConfigStore{db: db, logger: logger}
}

// GetConfig retrieves a tenant's repository configuration
func (s *PostgresTenantConfigStore) GetConfig(ctx context.Context, tenantID string) (*model.TenantRepositoryConfig, error) {
	query := `
		SELECT tenant_id, repository, ref, enabled, schema_version, credential_ref,
		       cache_ttl_seconds, created_at, updated_at, version
		FROM tenant_repository_configs
		WHERE tenant_id = $1
	`

	var cfg model.TenantRepositoryConfig
	var ttlSeconds int64
	err := s.db.QueryRow(ctx, query, tenantID).Scan(
		&cfg.TenantID,
		&cfg.Repository,
		&cfg.Ref,
		&cfg.Enabled,
		&cfg.SchemaVersion,
		&cfg.CredentialRef,
		&ttlSeconds,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
		&cfg.Version,
	)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant config: %w", err)
	}

	cfg.CacheTTL = time.Duration(ttlSeconds) * time.Second
	return &cfg, nil
}

// CreateConfig inserts a new configuration
func (s *PostgresTenantConfigStore) CreateConfig(ctx context.Context, cfg *model.TenantRepositoryConfig) error {
	query := `
		INSERT INTO tenant_repository_configs (tenant_id, repository, ref, enabled, schema_version,
		                                       credential_ref, cache_ttl_seconds, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.db.Exec(ctx, query,
		cfg.TenantID,
		cfg.Repository,
		cfg.Ref,
		cfg.Enabled,
		cfg.SchemaVersion,
		cfg.CredentialRef,
		int64(cfg.CacheTTL/time.Second),
		cfg.CreatedAt,
		cfg.UpdatedAt,
		cfg.Version,
	)
	if isUniqueViolation(err) {
		return ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create tenant config: %w", err)
	}
	return nil
}

// UpdateConfig updates a configuration whose stored version is cfg.Version-1
func (s *PostgresTenantConfigStore) UpdateConfig(ctx context.Context, cfg *model.TenantRepositoryConfig) error {
	query := `
		UPDATE tenant_repository_configs
		SET repository = $2, ref = $3, enabled = $4, schema_version = $5, credential_ref = $6,
		    cache_ttl_seconds = $7, updated_at = $8, version = $9
		WHERE tenant_id = $1 AND version = $10
	`

	tag, err := s.db.Exec(ctx, query,
		cfg.TenantID,
		cfg.Repository,
		cfg.Ref,
		cfg.Enabled,
		cfg.SchemaVersion,
		cfg.CredentialRef,
		int64(cfg.CacheTTL/time.Second),
		cfg.UpdatedAt,
		cfg.Version,
		cfg.Version-1, // Optimistic locking
	)
	if err != nil {
		return fmt.Errorf("failed to update tenant config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

// DeleteConfig removes a configuration
func (s *PostgresTenantConfigStore) DeleteConfig(ctx context.Context, tenantID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM tenant_repository_configs WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete tenant config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks the database connection
func (s *PostgresTenantConfigStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
