package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// accessFlushThreshold is the number of pending keys that triggers a
// background flush.
const accessFlushThreshold = 256

// accessLog coalesces reads served by faster tiers into one durable touch
// per key, keeping the latest access time.
type accessLog struct {
	mu       sync.Mutex
	pending  map[string]time.Time
	flushing atomic.Bool
}

func newAccessLog() *accessLog {
	return &accessLog{pending: make(map[string]time.Time)}
}

// record notes an access and reports whether the log is due a flush.
func (a *accessLog) record(key string, at time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if prev, ok := a.pending[key]; !ok || at.After(prev) {
		a.pending[key] = at
	}
	return len(a.pending) >= accessFlushThreshold
}

func (a *accessLog) drain() map[string]time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pending) == 0 {
		return nil
	}
	out := a.pending
	a.pending = make(map[string]time.Time, len(out))
	return out
}

// recordAccess queues a durable touch for an entry served by a faster tier.
func (c *MultiTierCache) recordAccess(key string, at time.Time) {
	if c.durable == nil {
		return
	}
	if c.accesses.record(key, at) && c.accesses.flushing.CompareAndSwap(false, true) {
		go func() {
			defer c.accesses.flushing.Store(false)
			c.FlushAccesses(context.Background())
		}()
	}
}

// FlushAccesses writes queued access times to the durable tier so eviction
// sees reads that never reached it.
func (c *MultiTierCache) FlushAccesses(ctx context.Context) int {
	if c.durable == nil {
		return 0
	}
	batch := c.accesses.drain()
	for key, at := range batch {
		c.touch(ctx, key, at)
	}
	if len(batch) > 0 {
		c.logger.Debug("Flushed cache accesses", zap.Int("keys", len(batch)))
	}
	return len(batch)
}
