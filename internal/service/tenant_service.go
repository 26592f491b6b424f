package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/devrev/promptsource/internal/errors"
	"github.com/devrev/promptsource/internal/model"
	"github.com/devrev/promptsource/internal/store"
	"go.uber.org/zap"
)

// ErrInvalidConfig wraps configuration validation failures
var ErrInvalidConfig = stderrors.New("invalid repository config")

// PromptInvalidator drops cached prompts of a tenant
type PromptInvalidator interface {
	InvalidateTenant(ctx context.Context, tenantID string) (int64, error)
}

// TenantService manages tenant repository configurations
type TenantService struct {
	configStore store.TenantConfigStore
	cache       *store.ConfigCache
	prompts     PromptInvalidator
	credentials store.CredentialResolver
	logger      *zap.Logger
	now         func() time.Time
}

// NewTenantService creates a new tenant service
func NewTenantService(
	configStore store.TenantConfigStore,
	cache *store.ConfigCache,
	prompts PromptInvalidator,
	credentials store.CredentialResolver,
	logger *zap.Logger,
) *TenantService {
	return &TenantService{
		configStore: configStore,
		cache:       cache,
		prompts:     prompts,
		credentials: credentials,
		logger:      logger,
		now:         time.Now,
	}
}

// GetRepositoryConfig retrieves a tenant's configuration, using cache if available
func (s *TenantService) GetRepositoryConfig(ctx context.Context, tenantID string) (*model.TenantRepositoryConfig, error) {
	if cfg, ok := s.cache.Get(tenantID); ok {
		s.logger.Debug("Tenant config retrieved from cache",
			zap.String("tenant_id", tenantID))
		return cfg, nil
	}

	cfg, err := s.configStore.GetConfig(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tenant config: %w", err)
	}

	s.cache.Set(tenantID, cfg)
	return cfg, nil
}

// PutRepositoryConfig creates or replaces a tenant's configuration and drops
// every prompt cached under the previous one.
func (s *TenantService) PutRepositoryConfig(ctx context.Context, cfg *model.TenantRepositoryConfig) (*model.TenantRepositoryConfig, error) {
	if cfg.SchemaVersion == 0 {
		cfg.SchemaVersion = model.CurrentSchemaVersion
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	now := s.now()
	existing, err := s.configStore.GetConfig(ctx, cfg.TenantID)
	switch {
	case stderrors.Is(err, store.ErrNotFound):
		cfg.CreatedAt = now
		cfg.UpdatedAt = now
		cfg.Version = 1
		if err := s.configStore.CreateConfig(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to create tenant config: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to fetch tenant config: %w", err)
	default:
		cfg.CreatedAt = existing.CreatedAt
		cfg.UpdatedAt = now
		cfg.Version = existing.Version + 1
		if err := s.configStore.UpdateConfig(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to update tenant config: %w", err)
		}
	}

	s.logger.Info("Stored tenant repository config",
		zap.String("tenant_id", cfg.TenantID),
		zap.String("repository", cfg.Repository),
		zap.String("ref", cfg.Ref),
		zap.Int("schema_version", cfg.SchemaVersion),
		zap.Bool("has_credential", cfg.CredentialRef != ""),
		zap.Int64("version", cfg.Version))

	s.invalidate(ctx, cfg.TenantID)
	return cfg, nil
}

// DeleteRepositoryConfig deletes a tenant's configuration
func (s *TenantService) DeleteRepositoryConfig(ctx context.Context, tenantID string) error {
	if err := s.configStore.DeleteConfig(ctx, tenantID); err != nil {
		return fmt.Errorf("failed to delete tenant config: %w", err)
	}

	s.logger.Info("Deleted tenant repository config", zap.String("tenant_id", tenantID))

	s.invalidate(ctx, tenantID)
	return nil
}

// InvalidateTenant drops the cached configuration and prompts of a tenant
func (s *TenantService) InvalidateTenant(ctx context.Context, tenantID string) (int64, error) {
	s.cache.Delete(tenantID)
	return s.prompts.InvalidateTenant(ctx, tenantID)
}

func (s *TenantService) invalidate(ctx context.Context, tenantID string) {
	if _, err := s.InvalidateTenant(ctx, tenantID); err != nil {
		s.logger.Warn("Failed to invalidate tenant prompt cache",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
	}
}

// ResolveCredential returns the access credential for a configuration. A
// missing credential is reported as a forbidden fetch.
func (s *TenantService) ResolveCredential(ctx context.Context, cfg *model.TenantRepositoryConfig) (string, error) {
	cred, err := s.credentials.Resolve(ctx, cfg.CredentialRef)
	if err != nil {
		fe := errors.Forbidden(0, "repository credential unavailable")
		fe.Cause = err
		return "", fe
	}
	return cred, nil
}
