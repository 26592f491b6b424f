package store

import (
	"context"
	"sync"

	"github.com/devrev/promptsource/internal/model"
)

// MemoryTenantConfigStore keeps tenant configuration in process, for
// development and tests.
type MemoryTenantConfigStore struct {
	mu      sync.RWMutex
	configs map[string]model.TenantRepositoryConfig
}

// NewMemoryTenantConfigStore creates an empty store
func NewMemoryTenantConfigStore() *MemoryTenantConfigStore {
	return &MemoryTenantConfigStore{configs: make(map[string]model.TenantRepositoryConfig)}
}

// GetConfig retrieves a tenant's repository configuration
func (s *MemoryTenantConfigStore) GetConfig(ctx context.Context, tenantID string) (*model.TenantRepositoryConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	return &cfg, nil
}

// CreateConfig inserts a new configuration
func (s *MemoryTenantConfigStore) CreateConfig(ctx context.Context, cfg *model.TenantRepositoryConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.configs[cfg.TenantID]; exists {
		return ErrVersionConflict
	}
	s.configs[cfg.TenantID] = *cfg
	return nil
}

// UpdateConfig updates a configuration whose stored version is cfg.Version-1
func (s *MemoryTenantConfigStore) UpdateConfig(ctx context.Context, cfg *model.TenantRepositoryConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.configs[cfg.TenantID]
	if !ok || existing.Version != cfg.Version-1 {
		return ErrVersionConflict
	}
	s.configs[cfg.TenantID] = *cfg
	return nil
}

// DeleteConfig removes a configuration
func (s *MemoryTenantConfigStore) DeleteConfig(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.configs[tenantID]; !ok {
		return ErrNotFound
	}
	delete(s.configs, tenantID)
	return nil
}

// Ping always succeeds
func (s *MemoryTenantConfigStore) Ping(ctx context.Context) error {
	return nil
}
