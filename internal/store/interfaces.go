package store

import (
	"context"
	"errors"
	"time"

	"github.com/devrev/promptsource/internal/model"
)

// ErrNotFound is returned when a key is not found
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned when an optimistic update lost the race
var ErrVersionConflict = errors.New("version conflict")

// Tier is one layer of the prompt cache. Get returns whatever the tier still
// holds; freshness is judged by the caller.
type Tier interface {
	Name() model.Tier
	Get(ctx context.Context, key string) (*model.CacheEntry, error)
	Set(ctx context.Context, entry *model.CacheEntry) error
	Delete(ctx context.Context, key string) error
	DeleteTenant(ctx context.Context, tenantID string) (int64, error)
	Ping(ctx context.Context) error
}

// EvictionResult reports what a budget enforcement pass removed
type EvictionResult struct {
	Entries int64
	Bytes   int64
}

// Usage is the current footprint of a tier
type Usage struct {
	Entries int64
	Bytes   int64
}

// DurableTier is the slowest tier and the source of truth for stale reads
type DurableTier interface {
	Tier
	Touch(ctx context.Context, key string, at time.Time) error
	EvictToBudget(ctx context.Context, maxBytes int64) (EvictionResult, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Usage(ctx context.Context) (Usage, error)
}

// UsageReporter is implemented by tiers that can report their footprint cheaply
type UsageReporter interface {
	Usage(ctx context.Context) (Usage, error)
}

// TenantConfigStore persists tenant repository configuration
type TenantConfigStore interface {
	GetConfig(ctx context.Context, tenantID string) (*model.TenantRepositoryConfig, error)
	CreateConfig(ctx context.Context, cfg *model.TenantRepositoryConfig) error
	UpdateConfig(ctx context.Context, cfg *model.TenantRepositoryConfig) error
	DeleteConfig(ctx context.Context, tenantID string) error
	Ping(ctx context.Context) error
}
