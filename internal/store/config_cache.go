package store

import (
	"sync"
	"time"

	"github.com/devrev/promptsource/internal/model"
)

// ConfigCache provides in-memory caching for tenant repository configurations
type ConfigCache struct {
	entries map[string]*configCacheEntry
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
}

type configCacheEntry struct {
	config    *model.TenantRepositoryConfig
	expiresAt time.Time
}

// NewConfigCache creates a new cache
func NewConfigCache(ttl time.Duration) *ConfigCache {
	c := &ConfigCache{
		entries:  make(map[string]*configCacheEntry),
		ttl:      ttl,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	go c.cleanup()

	return c
}

// Get retrieves a configuration from cache
func (c *ConfigCache) Get(tenantID string) (*model.TenantRepositoryConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[tenantID]
	if !exists || c.now().After(entry.expiresAt) {
		return nil, false
	}

	cfg := *entry.config
	return &cfg, true
}

// Set stores a configuration in cache
func (c *ConfigCache) Set(tenantID string, cfg *model.TenantRepositoryConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := *cfg
	c.entries[tenantID] = &configCacheEntry{
		config:    &stored,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Delete removes a configuration from cache
func (c *ConfigCache) Delete(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, tenantID)
}

// Size returns the number of entries in cache
func (c *ConfigCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the cleanup loop
func (c *ConfigCache) Close() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

// cleanup periodically removes expired entries
func (c *ConfigCache) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := c.now()
			for tenantID, entry := range c.entries {
				if now.After(entry.expiresAt) {
					delete(c.entries, tenantID)
				}
			}
			c.mu.Unlock()
		}
	}
}
