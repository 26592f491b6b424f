package cache

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devrev/promptsource/internal/metrics"
	"github.com/devrev/promptsource/internal/model"
	"github.com/devrev/promptsource/internal/store"
	"github.com/devrev/promptsource/internal/util"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultStaleWindow is how long past expiry an entry stays readable through LookupStale
const DefaultStaleWindow = 24 * time.Hour

// Config holds multi-tier cache settings
type Config struct {
	DefaultTTL  time.Duration
	StaleWindow time.Duration
}

// StoreInput describes content to cache
type StoreInput struct {
	Key           string
	TenantID      string
	FilePath      string
	Content       string
	SchemaVersion int
	TTL           time.Duration // DefaultTTL when zero
}

// MultiTierCache checks tiers fastest first and promotes hits upward.
// A failing tier is logged and skipped.
type MultiTierCache struct {
	tiers       []store.Tier
	durable     store.DurableTier
	defaultTTL  atomic.Int64
	staleWindow atomic.Int64
	accesses    *accessLog
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewMultiTierCache creates a cache over tiers ordered fastest first. The
// first tier implementing store.DurableTier serves eviction and expiry cleanup.
func NewMultiTierCache(tiers []store.Tier, cfg Config, m *metrics.Metrics, logger *zap.Logger) *MultiTierCache {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}
	if cfg.StaleWindow <= 0 {
		cfg.StaleWindow = DefaultStaleWindow
	}

	c := &MultiTierCache{
		tiers:    tiers,
		accesses: newAccessLog(),
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
	c.defaultTTL.Store(int64(cfg.DefaultTTL))
	c.staleWindow.Store(int64(cfg.StaleWindow))

	for _, t := range tiers {
		if d, ok := t.(store.DurableTier); ok {
			c.durable = d
			break
		}
	}

	return c
}

// Tiers returns the configured tiers in lookup order
func (c *MultiTierCache) Tiers() []store.Tier {
	return c.tiers
}

// StaleWindow returns the current stale window
func (c *MultiTierCache) StaleWindow() time.Duration {
	return time.Duration(c.staleWindow.Load())
}

// SetStaleWindow changes the stale window
func (c *MultiTierCache) SetStaleWindow(d time.Duration) {
	c.staleWindow.Store(int64(d))
}

// DefaultTTL returns the TTL used when a store does not name one
func (c *MultiTierCache) DefaultTTL() time.Duration {
	return time.Duration(c.defaultTTL.Load())
}

// SetDefaultTTL changes the default TTL
func (c *MultiTierCache) SetDefaultTTL(d time.Duration) {
	if d > 0 {
		c.defaultTTL.Store(int64(d))
	}
}

// Lookup returns the first fresh entry and the tier that held it. Entries
// past expiry are never returned here.
func (c *MultiTierCache) Lookup(ctx context.Context, key string) (*model.CacheEntry, model.Tier, bool) {
	now := c.now()

	for i, tier := range c.tiers {
		entry, ok := c.get(ctx, tier, key)
		if !ok || !entry.IsFresh(now) {
			continue
		}

		c.metrics.RecordCacheHit(string(tier.Name()))
		c.afterHit(ctx, entry, i, now)
		return entry, tier.Name(), true
	}

	c.metrics.RecordCacheMiss()
	return nil, "", false
}

// LookupStale returns an entry that is fresh or still inside the stale window.
// Entries past the window are absent.
func (c *MultiTierCache) LookupStale(ctx context.Context, key string) (*model.CacheEntry, model.Tier, bool) {
	now := c.now()
	window := c.StaleWindow()

	for _, tier := range c.tiers {
		entry, ok := c.get(ctx, tier, key)
		if !ok {
			continue
		}
		if entry.IsFresh(now) || entry.IsStaleServable(now, window) {
			if c.durable != nil {
				if tier == store.Tier(c.durable) {
					c.touch(ctx, key, now)
				} else {
					c.recordAccess(key, now)
				}
			}
			return entry, tier.Name(), true
		}
	}
	return nil, "", false
}

func (c *MultiTierCache) get(ctx context.Context, tier store.Tier, key string) (*model.CacheEntry, bool) {
	entry, err := tier.Get(ctx, key)
	if err == nil {
		return entry, true
	}
	if !stderrors.Is(err, store.ErrNotFound) {
		c.metrics.RecordCacheError(string(tier.Name()), "get")
		c.logger.Warn("Cache tier lookup failed",
			zap.String("tier", string(tier.Name())),
			zap.String("cache_key", key),
			zap.Error(err))
	}
	return nil, false
}

// afterHit promotes the entry into every faster tier and records the access.
// It runs on a context that outlives the caller.
func (c *MultiTierCache) afterHit(ctx context.Context, entry *model.CacheEntry, hitIndex int, now time.Time) {
	detached := context.WithoutCancel(ctx)
	entry.LastAccessedAt = now

	for _, tier := range c.tiers[:hitIndex] {
		if err := tier.Set(detached, entry); err != nil {
			c.metrics.RecordCacheError(string(tier.Name()), "promote")
			c.logger.Warn("Cache promotion failed",
				zap.String("tier", string(tier.Name())),
				zap.String("cache_key", entry.Key),
				zap.Error(err))
		}
	}

	if c.durable == nil {
		return
	}
	if c.tiers[hitIndex] == store.Tier(c.durable) {
		c.touch(detached, entry.Key, now)
		return
	}
	c.recordAccess(entry.Key, now)
}

func (c *MultiTierCache) touch(ctx context.Context, key string, at time.Time) {
	if err := c.durable.Touch(context.WithoutCancel(ctx), key, at); err != nil {
		c.metrics.RecordCacheError(string(model.TierDurable), "touch")
		c.logger.Warn("Failed to record cache access",
			zap.String("cache_key", key),
			zap.Error(err))
	}
}

// Store writes content to every tier. It fails only when no tier accepted it.
func (c *MultiTierCache) Store(ctx context.Context, in StoreInput) (*model.CacheEntry, error) {
	ttl := in.TTL
	if ttl <= 0 {
		ttl = c.DefaultTTL()
	}
	now := c.now()

	entry := &model.CacheEntry{
		Key:            in.Key,
		TenantID:       in.TenantID,
		FilePath:       in.FilePath,
		Content:        in.Content,
		ContentHash:    util.ContentHash(in.Content),
		SchemaVersion:  in.SchemaVersion,
		CachedAt:       now,
		ExpiresAt:      now.Add(ttl),
		SizeBytes:      int64(len(in.Content)),
		LastAccessedAt: now,
	}

	if len(c.tiers) == 0 {
		return entry, nil
	}

	detached := context.WithoutCancel(ctx)
	var stored atomic.Int32
	var g errgroup.Group
	for _, tier := range c.tiers {
		tier := tier
		g.Go(func() error {
			if err := tier.Set(detached, entry.Clone()); err != nil {
				c.metrics.RecordCacheError(string(tier.Name()), "store")
				c.logger.Warn("Cache store failed",
					zap.String("tier", string(tier.Name())),
					zap.String("cache_key", entry.Key),
					zap.String("tenant_id", entry.TenantID),
					zap.Error(err))
				return nil
			}
			stored.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	if stored.Load() == 0 {
		return entry, fmt.Errorf("failed to store %s in any cache tier", entry.Key)
	}
	return entry, nil
}

// InvalidateTenant deletes every entry of a tenant from all tiers. All tiers
// are attempted even when one fails.
func (c *MultiTierCache) InvalidateTenant(ctx context.Context, tenantID string) (int64, error) {
	var removed atomic.Int64
	var mu sync.Mutex
	var errs []error

	var g errgroup.Group
	for _, tier := range c.tiers {
		tier := tier
		g.Go(func() error {
			n, err := tier.DeleteTenant(ctx, tenantID)
			removed.Add(n)
			if err != nil {
				c.metrics.RecordCacheError(string(tier.Name()), "invalidate")
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s tier: %w", tier.Name(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	c.logger.Info("Invalidated tenant cache",
		zap.String("tenant_id", tenantID),
		zap.Int64("removed", removed.Load()),
		zap.Int("failed_tiers", len(errs)))

	return removed.Load(), stderrors.Join(errs...)
}

// EvictToBudget trims the durable tier to maxBytes, least recently accessed
// first. Queued accesses are flushed beforehand.
func (c *MultiTierCache) EvictToBudget(ctx context.Context, maxBytes int64) (store.EvictionResult, error) {
	if c.durable == nil {
		return store.EvictionResult{}, nil
	}
	c.FlushAccesses(ctx)

	res, err := c.durable.EvictToBudget(ctx, maxBytes)
	if err != nil {
		c.metrics.RecordCacheError(string(model.TierDurable), "evict")
		return res, fmt.Errorf("failed to evict to budget: %w", err)
	}
	c.metrics.RecordEviction(res.Entries, res.Bytes)
	return res, nil
}

// PurgeExpired deletes durable entries past expiry plus the stale window
func (c *MultiTierCache) PurgeExpired(ctx context.Context) (int64, error) {
	if c.durable == nil {
		return 0, nil
	}

	n, err := c.durable.DeleteExpiredBefore(ctx, c.now().Add(-c.StaleWindow()))
	if err != nil {
		c.metrics.RecordCacheError(string(model.TierDurable), "purge")
		return 0, fmt.Errorf("failed to purge expired entries: %w", err)
	}
	c.metrics.RecordExpiredPurge(n)
	return n, nil
}

// TierStats is the footprint of one tier
type TierStats struct {
	Tier    model.Tier `json:"tier"`
	Entries int64      `json:"entries"`
	Bytes   int64      `json:"bytes"`
	Known   bool       `json:"known"`
}

// Stats reports usage for tiers that can report it cheaply
func (c *MultiTierCache) Stats(ctx context.Context) []TierStats {
	stats := make([]TierStats, 0, len(c.tiers))
	for _, tier := range c.tiers {
		s := TierStats{Tier: tier.Name()}
		if r, ok := tier.(store.UsageReporter); ok {
			if u, err := r.Usage(ctx); err == nil {
				s.Entries, s.Bytes, s.Known = u.Entries, u.Bytes, true
			}
		}
		stats = append(stats, s)
	}
	return stats
}
