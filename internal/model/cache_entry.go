package model

import "time"

// Tier identifies one cache layer
type Tier string

const (
	TierMemory  Tier = "memory"
	TierShared  Tier = "shared"
	TierDurable Tier = "durable"
)

// CacheEntry is a resolved prompt held by the multi-tier cache.
type CacheEntry struct {
	Key            string    `json:"cache_key"`
	TenantID       string    `json:"tenant_id"`
	FilePath       string    `json:"file_path"`
	Content        string    `json:"content"`
	ContentHash    string    `json:"content_hash"`
	SchemaVersion  int       `json:"schema_version"`
	CachedAt       time.Time `json:"cached_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	SizeBytes      int64     `json:"size_bytes"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// IsFresh reports whether the entry can be served by a normal lookup.
func (e *CacheEntry) IsFresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// IsStaleServable reports whether the entry is past expiry but inside the stale window.
func (e *CacheEntry) IsStaleServable(now time.Time, staleWindow time.Duration) bool {
	return !e.IsFresh(now) && now.Before(e.ExpiresAt.Add(staleWindow))
}

// Clone returns a copy safe to hand to another tier.
func (e *CacheEntry) Clone() *CacheEntry {
	c := *e
	return &c
}
