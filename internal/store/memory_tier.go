package store

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/devrev/promptsource/internal/model"
	"go.uber.org/zap"
)

// MemoryTier is the in-process tier: a map with least-recently-used eviction
// bounded by entry count and bytes.
type MemoryTier struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	lru        *list.List // front is most recently used
	maxEntries int
	maxBytes   int64
	usedBytes  int64
	retention  time.Duration // how long past expiry an entry is kept for stale reads
	evictions  int64
	logger     *zap.Logger
	now        func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
}

// MemoryTierConfig configures the in-process tier
type MemoryTierConfig struct {
	MaxEntries      int
	MaxBytes        int64
	Retention       time.Duration
	CleanupInterval time.Duration
}

// NewMemoryTier creates a new in-memory tier and starts its cleanup loop
func NewMemoryTier(cfg MemoryTierConfig, logger *zap.Logger) *MemoryTier {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}

	t := &MemoryTier{
		items:      make(map[string]*list.Element),
		lru:        list.New(),
		maxEntries: cfg.MaxEntries,
		maxBytes:   cfg.MaxBytes,
		retention:  cfg.Retention,
		logger:     logger,
		now:        time.Now,
		stopChan:   make(chan struct{}),
	}

	if cfg.CleanupInterval > 0 {
		go t.cleanup(cfg.CleanupInterval)
	}

	return t
}

// Name returns the tier label
func (t *MemoryTier) Name() model.Tier {
	return model.TierMemory
}

// Get retrieves an entry and marks it recently used
func (t *MemoryTier) Get(ctx context.Context, key string) (*model.CacheEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elem, exists := t.items[key]
	if !exists {
		return nil, ErrNotFound
	}

	entry := elem.Value.(*model.CacheEntry)
	now := t.now()
	if t.expired(entry, now) {
		t.removeElement(elem)
		return nil, ErrNotFound
	}

	entry.LastAccessedAt = now
	t.lru.MoveToFront(elem)
	return entry.Clone(), nil
}

// Set stores an entry, evicting least-recently-used entries over the limits
func (t *MemoryTier) Set(ctx context.Context, entry *model.CacheEntry) error {
	stored := entry.Clone()
	stored.LastAccessedAt = t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if elem, exists := t.items[entry.Key]; exists {
		t.removeElement(elem)
	}

	t.items[stored.Key] = t.lru.PushFront(stored)
	t.usedBytes += stored.SizeBytes

	for t.lru.Len() > 1 && t.overLimit() {
		t.removeElement(t.lru.Back())
		t.evictions++
	}

	return nil
}

// Delete removes an entry
func (t *MemoryTier) Delete(ctx context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if elem, exists := t.items[key]; exists {
		t.removeElement(elem)
	}
	return nil
}

// DeleteTenant removes every entry belonging to a tenant
func (t *MemoryTier) DeleteTenant(ctx context.Context, tenantID string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed int64
	for elem := t.lru.Front(); elem != nil; {
		next := elem.Next()
		if elem.Value.(*model.CacheEntry).TenantID == tenantID {
			t.removeElement(elem)
			removed++
		}
		elem = next
	}
	return removed, nil
}

// Ping always succeeds
func (t *MemoryTier) Ping(ctx context.Context) error {
	return nil
}

// Usage returns the current entry count and bytes held
func (t *MemoryTier) Usage(ctx context.Context) (Usage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Usage{Entries: int64(t.lru.Len()), Bytes: t.usedBytes}, nil
}

// Evictions returns how many entries were dropped to stay within limits
func (t *MemoryTier) Evictions() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.evictions
}

// SetRetention changes how long expired entries are kept
func (t *MemoryTier) SetRetention(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retention = d
}

// Close stops the cleanup loop
func (t *MemoryTier) Close() {
	t.stopOnce.Do(func() { close(t.stopChan) })
}

func (t *MemoryTier) overLimit() bool {
	if t.lru.Len() > t.maxEntries {
		return true
	}
	return t.maxBytes > 0 && t.usedBytes > t.maxBytes
}

func (t *MemoryTier) expired(entry *model.CacheEntry, now time.Time) bool {
	return !now.Before(entry.ExpiresAt.Add(t.retention))
}

// removeElement must be called with mu held.
func (t *MemoryTier) removeElement(elem *list.Element) {
	entry := t.lru.Remove(elem).(*model.CacheEntry)
	delete(t.items, entry.Key)
	t.usedBytes -= entry.SizeBytes
}

// cleanup periodically removes entries past their retention
func (t *MemoryTier) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopChan:
			return
		case <-ticker.C:
			t.purgeExpired()
		}
	}
}

func (t *MemoryTier) purgeExpired() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for elem := t.lru.Front(); elem != nil; {
		next := elem.Next()
		if t.expired(elem.Value.(*model.CacheEntry), now) {
			t.removeElement(elem)
			removed++
		}
		elem = next
	}

	if removed > 0 {
		t.logger.Debug("Purged expired memory tier entries", zap.Int("removed", removed))
	}
	return removed
}
