package handler

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/devrev/promptsource/internal/cache"
	"github.com/devrev/promptsource/internal/model"
)

// RepositoryConfigRequest is the body of PUT /v1/tenants/{tenant_id}/repository
type RepositoryConfigRequest struct {
	Repository      string `json:"repository"`
	Ref             string `json:"ref"`
	Enabled         *bool  `json:"enabled,omitempty"`
	SchemaVersion   int    `json:"schema_version,omitempty"`
	CredentialRef   string `json:"credential_ref,omitempty"`
	CacheTTLSeconds int64  `json:"cache_ttl_seconds,omitempty"`
}

// Validate checks the request shape. Field rules live on the model.
func (r RepositoryConfigRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Repository, validation.Required),
		validation.Field(&r.Ref, validation.Required),
		validation.Field(&r.CacheTTLSeconds, validation.Min(int64(0))),
	)
}

func (r RepositoryConfigRequest) toModel(tenantID string) *model.TenantRepositoryConfig {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return &model.TenantRepositoryConfig{
		TenantID:      tenantID,
		Repository:    r.Repository,
		Ref:           r.Ref,
		Enabled:       enabled,
		SchemaVersion: r.SchemaVersion,
		CredentialRef: r.CredentialRef,
		CacheTTL:      time.Duration(r.CacheTTLSeconds) * time.Second,
	}
}

// RepositoryConfigResponse describes a stored configuration. The credential
// itself is never returned.
type RepositoryConfigResponse struct {
	TenantID        string `json:"tenant_id"`
	Repository      string `json:"repository"`
	Ref             string `json:"ref"`
	Enabled         bool   `json:"enabled"`
	SchemaVersion   int    `json:"schema_version"`
	HasCredential   bool   `json:"has_credential"`
	CacheTTLSeconds int64  `json:"cache_ttl_seconds"`
	Version         int64  `json:"version"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
}

func newRepositoryConfigResponse(cfg *model.TenantRepositoryConfig) RepositoryConfigResponse {
	return RepositoryConfigResponse{
		TenantID:        cfg.TenantID,
		Repository:      cfg.Repository,
		Ref:             cfg.Ref,
		Enabled:         cfg.Enabled,
		SchemaVersion:   cfg.SchemaVersion,
		HasCredential:   cfg.CredentialRef != "",
		CacheTTLSeconds: int64(cfg.CacheTTL / time.Second),
		Version:         cfg.Version,
		CreatedAt:       cfg.CreatedAt.Unix(),
		UpdatedAt:       cfg.UpdatedAt.Unix(),
	}
}

// InvalidateResponse reports how many cached prompts were dropped
type InvalidateResponse struct {
	TenantID    string `json:"tenant_id"`
	Invalidated int64  `json:"invalidated"`
}

// EvictRequest optionally overrides the configured byte budget
type EvictRequest struct {
	MaxBytes int64 `json:"max_bytes,omitempty"`
}

// EvictResponse reports what an eviction pass removed
type EvictResponse struct {
	MaxBytes       int64 `json:"max_bytes"`
	EvictedEntries int64 `json:"evicted_entries"`
	EvictedBytes   int64 `json:"evicted_bytes"`
}

// CacheStatsResponse lists per-tier usage
type CacheStatsResponse struct {
	Tiers []cache.TierStats `json:"tiers"`
}
