package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Janitor periodically purges durable entries past their stale window and
// trims the durable tier to its byte budget.
type Janitor struct {
	cache    *MultiTierCache
	interval time.Duration
	maxBytes atomic.Int64
	logger   *zap.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewJanitor creates a janitor; call Start to run it
func NewJanitor(cache *MultiTierCache, interval time.Duration, maxBytes int64, logger *zap.Logger) *Janitor {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	j := &Janitor{
		cache:    cache,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
	j.maxBytes.Store(maxBytes)
	return j
}

// SetMaxBytes changes the durable byte budget
func (j *Janitor) SetMaxBytes(n int64) {
	j.maxBytes.Store(n)
}

// Start begins the periodic sweep
func (j *Janitor) Start() {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-j.stopChan:
				return
			case <-ticker.C:
				j.RunOnce(context.Background())
			}
		}
	}()

	j.logger.Info("Cache janitor started",
		zap.Duration("interval", j.interval),
		zap.Int64("max_bytes", j.maxBytes.Load()))
}

// RunOnce performs a single sweep
func (j *Janitor) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, j.interval)
	defer cancel()

	// Other instances may evict from the shared durable tier, so accesses
	// are published every sweep.
	j.cache.FlushAccesses(ctx)

	purged, err := j.cache.PurgeExpired(ctx)
	if err != nil {
		j.logger.Error("Failed to purge expired cache entries", zap.Error(err))
	}

	var evicted int64
	if maxBytes := j.maxBytes.Load(); maxBytes > 0 {
		res, err := j.cache.EvictToBudget(ctx, maxBytes)
		if err != nil {
			j.logger.Error("Failed to evict cache entries", zap.Error(err))
		}
		evicted = res.Entries
	}

	if purged > 0 || evicted > 0 {
		j.logger.Info("Cache janitor sweep finished",
			zap.Int64("purged", purged),
			zap.Int64("evicted", evicted))
	}
}

// Stop halts the sweep and waits for an in-progress run
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stopChan) })
	j.wg.Wait()
}
