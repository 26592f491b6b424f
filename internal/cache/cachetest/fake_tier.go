// Package cachetest provides in-memory tier fakes for cache tests.
package cachetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/devrev/promptsource/internal/model"
	"github.com/devrev/promptsource/internal/store"
)

// FakeTier is a map-backed store.Tier with failure injection
type FakeTier struct {
	mu      sync.Mutex
	name    model.Tier
	entries map[string]*model.CacheEntry
	failErr error

	Gets    int
	Sets    int
	Touches map[string]time.Time
}

// NewFakeTier creates an empty fake labelled name
func NewFakeTier(name model.Tier) *FakeTier {
	return &FakeTier{
		name:    name,
		entries: make(map[string]*model.CacheEntry),
		Touches: make(map[string]time.Time),
	}
}

// Fail makes every operation return err until called again with nil
func (f *FakeTier) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failErr = err
}

// Put seeds an entry without counting a Set
func (f *FakeTier) Put(e *model.CacheEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[e.Key] = e.Clone()
}

// Has reports whether key is held
func (f *FakeTier) Has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[key]
	return ok
}

// Entry returns a copy of the held entry
func (f *FakeTier) Entry(key string) (*model.CacheEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// SetCount returns how many Set calls succeeded
func (f *FakeTier) SetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Sets
}

func (f *FakeTier) Name() model.Tier { return f.name }

func (f *FakeTier) Get(ctx context.Context, key string) (*model.CacheEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Gets++
	if f.failErr != nil {
		return nil, f.failErr
	}
	e, ok := f.entries[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return e.Clone(), nil
}

func (f *FakeTier) Set(ctx context.Context, e *model.CacheEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.Sets++
	f.entries[e.Key] = e.Clone()
	return nil
}

func (f *FakeTier) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	delete(f.entries, key)
	return nil
}

func (f *FakeTier) DeleteTenant(ctx context.Context, tenantID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return 0, f.failErr
	}
	var n int64
	for k, e := range f.entries {
		if e.TenantID == tenantID {
			delete(f.entries, k)
			n++
		}
	}
	return n, nil
}

func (f *FakeTier) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failErr
}

// FakeDurableTier adds the durable operations to FakeTier
type FakeDurableTier struct {
	*FakeTier
}

// NewFakeDurableTier creates an empty durable fake
func NewFakeDurableTier() *FakeDurableTier {
	return &FakeDurableTier{FakeTier: NewFakeTier(model.TierDurable)}
}

func (f *FakeDurableTier) Touch(ctx context.Context, key string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	if e, ok := f.entries[key]; ok {
		e.LastAccessedAt = at
	}
	f.Touches[key] = at
	return nil
}

// TouchedAt returns when key was last touched
func (f *FakeDurableTier) TouchedAt(key string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.Touches[key]
	return at, ok
}

func (f *FakeDurableTier) EvictToBudget(ctx context.Context, maxBytes int64) (store.EvictionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return store.EvictionResult{}, f.failErr
	}

	all := make([]*model.CacheEntry, 0, len(f.entries))
	for _, e := range f.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].LastAccessedAt.Equal(all[j].LastAccessedAt) {
			return all[i].Key < all[j].Key
		}
		return all[i].LastAccessedAt.After(all[j].LastAccessedAt)
	})

	var running int64
	var res store.EvictionResult
	for _, e := range all {
		running += e.SizeBytes
		if running > maxBytes {
			delete(f.entries, e.Key)
			res.Entries++
			res.Bytes += e.SizeBytes
		}
	}
	return res, nil
}

func (f *FakeDurableTier) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return 0, f.failErr
	}
	var n int64
	for k, e := range f.entries {
		if e.ExpiresAt.Before(cutoff) {
			delete(f.entries, k)
			n++
		}
	}
	return n, nil
}

func (f *FakeDurableTier) Usage(ctx context.Context) (store.Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var u store.Usage
	for _, e := range f.entries {
		u.Entries++
		u.Bytes += e.SizeBytes
	}
	return u, nil
}
