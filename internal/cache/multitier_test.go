package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devrev/promptsource/internal/cache/cachetest"
	"github.com/devrev/promptsource/internal/model"
	"github.com/devrev/promptsource/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type tiers struct {
	memory  *cachetest.FakeTier
	shared  *cachetest.FakeTier
	durable *cachetest.FakeDurableTier
}

func newTestCache(t *testing.T) (*MultiTierCache, tiers, *time.Time) {
	tt := tiers{
		memory:  cachetest.NewFakeTier(model.TierMemory),
		shared:  cachetest.NewFakeTier(model.TierShared),
		durable: cachetest.NewFakeDurableTier(),
	}
	c := NewMultiTierCache(
		[]store.Tier{tt.memory, tt.shared, tt.durable},
		Config{DefaultTTL: time.Hour, StaleWindow: 24 * time.Hour},
		nil, zap.NewNop(),
	)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, tt, &now
}

func entryAt(key, tenant string, expiresAt time.Time) *model.CacheEntry {
	return &model.CacheEntry{
		Key:       key,
		TenantID:  tenant,
		FilePath:  "system/brief.md",
		Content:   "Summarize the conversation briefly.",
		CachedAt:  expiresAt.Add(-time.Hour),
		ExpiresAt: expiresAt,
		SizeBytes: 35,
	}
}

func TestStoreThenLookupHitsMemory(t *testing.T) {
	c, tt, _ := newTestCache(t)
	ctx := context.Background()

	stored, err := c.Store(ctx, StoreInput{
		Key:           "prompt:t1:abc",
		TenantID:      "t1",
		FilePath:      "system/brief.md",
		Content:       "Summarize the conversation briefly.",
		SchemaVersion: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len("Summarize the conversation briefly.")), stored.SizeBytes)
	assert.NotEmpty(t, stored.ContentHash)
	assert.True(t, tt.memory.Has("prompt:t1:abc"))
	assert.True(t, tt.shared.Has("prompt:t1:abc"))
	assert.True(t, tt.durable.Has("prompt:t1:abc"))

	got, tier, ok := c.Lookup(ctx, "prompt:t1:abc")
	require.True(t, ok)
	assert.Equal(t, model.TierMemory, tier)
	assert.Equal(t, stored.Content, got.Content)
	assert.Zero(t, tt.shared.Gets, "memory hit must not consult slower tiers")
}

func TestLookupPromotesToFasterTiers(t *testing.T) {
	c, tt, now := newTestCache(t)
	ctx := context.Background()
	tt.durable.Put(entryAt("k1", "t1", now.Add(time.Hour)))

	_, tier, ok := c.Lookup(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, model.TierDurable, tier)
	assert.True(t, tt.memory.Has("k1"))
	assert.True(t, tt.shared.Has("k1"))

	touched, ok := tt.durable.TouchedAt("k1")
	require.True(t, ok)
	assert.True(t, touched.Equal(*now))

	_, tier, ok = c.Lookup(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, model.TierMemory, tier)
}

func TestLookupSharedHitPromotesOnlyMemory(t *testing.T) {
	c, tt, now := newTestCache(t)
	tt.shared.Put(entryAt("k1", "t1", now.Add(time.Hour)))

	_, tier, ok := c.Lookup(context.Background(), "k1")
	require.True(t, ok)
	assert.Equal(t, model.TierShared, tier)
	assert.True(t, tt.memory.Has("k1"))
	assert.False(t, tt.durable.Has("k1"))
}

func TestPromotionSurvivesCallerCancellation(t *testing.T) {
	c, tt, now := newTestCache(t)
	tt.durable.Put(entryAt("k1", "t1", now.Add(time.Hour)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, ok := c.Lookup(ctx, "k1")
	require.True(t, ok)
	assert.True(t, tt.memory.Has("k1"))
}

func TestStaleWindowProperty(t *testing.T) {
	c, tt, now := newTestCache(t)
	ctx := context.Background()

	// Expired two hours ago: inside the 24h window.
	tt.durable.Put(entryAt("recent", "t1", now.Add(-2*time.Hour)))
	// Expired two days ago: outside the window.
	tt.durable.Put(entryAt("ancient", "t1", now.Add(-48*time.Hour)))

	_, _, ok := c.Lookup(ctx, "recent")
	assert.False(t, ok, "expired entries are never normal hits")
	assert.False(t, tt.memory.Has("recent"), "expired entries are never promoted")

	e, tier, ok := c.LookupStale(ctx, "recent")
	require.True(t, ok)
	assert.Equal(t, model.TierDurable, tier)
	assert.Equal(t, "recent", e.Key)

	_, _, ok = c.Lookup(ctx, "ancient")
	assert.False(t, ok)
	_, _, ok = c.LookupStale(ctx, "ancient")
	assert.False(t, ok)
}

func TestFailingTierIsSkipped(t *testing.T) {
	c, tt, now := newTestCache(t)
	ctx := context.Background()
	tt.shared.Fail(errors.New("connection refused"))
	tt.durable.Put(entryAt("k1", "t1", now.Add(time.Hour)))

	_, tier, ok := c.Lookup(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, model.TierDurable, tier)
	assert.True(t, tt.memory.Has("k1"))

	_, err := c.Store(ctx, StoreInput{Key: "k2", TenantID: "t1", Content: "x"})
	assert.NoError(t, err, "one failing tier does not fail the store")
}

func TestStoreFailsWhenEveryTierFails(t *testing.T) {
	c, tt, _ := newTestCache(t)
	boom := errors.New("down")
	tt.memory.Fail(boom)
	tt.shared.Fail(boom)
	tt.durable.Fail(boom)

	_, err := c.Store(context.Background(), StoreInput{Key: "k", TenantID: "t1", Content: "x"})
	assert.Error(t, err)
}

func TestStoreUsesTTL(t *testing.T) {
	c, tt, now := newTestCache(t)
	ctx := context.Background()

	_, err := c.Store(ctx, StoreInput{Key: "k1", TenantID: "t1", Content: "x", TTL: 5 * time.Minute})
	require.NoError(t, err)
	e, _ := tt.durable.Entry("k1")
	assert.True(t, e.ExpiresAt.Equal(now.Add(5*time.Minute)))

	_, err = c.Store(ctx, StoreInput{Key: "k2", TenantID: "t1", Content: "x"})
	require.NoError(t, err)
	e, _ = tt.durable.Entry("k2")
	assert.True(t, e.ExpiresAt.Equal(now.Add(time.Hour)))
}

func TestInvalidateTenant(t *testing.T) {
	c, tt, now := newTestCache(t)
	ctx := context.Background()
	for _, tier := range []*cachetest.FakeTier{tt.memory, tt.shared, tt.durable.FakeTier} {
		tier.Put(entryAt("a", "tenant-a", now.Add(time.Hour)))
		tier.Put(entryAt("b", "tenant-b", now.Add(time.Hour)))
	}

	removed, err := c.InvalidateTenant(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	_, _, ok := c.Lookup(ctx, "a")
	assert.False(t, ok)
	_, _, ok = c.LookupStale(ctx, "a")
	assert.False(t, ok)
	_, _, ok = c.Lookup(ctx, "b")
	assert.True(t, ok)
}

func TestInvalidateTenantReportsTierFailure(t *testing.T) {
	c, tt, now := newTestCache(t)
	tt.memory.Put(entryAt("a", "tenant-a", now.Add(time.Hour)))
	tt.shared.Fail(errors.New("down"))

	removed, err := c.InvalidateTenant(context.Background(), "tenant-a")
	assert.Error(t, err)
	assert.Equal(t, int64(1), removed)
	assert.False(t, tt.memory.Has("a"))
}

func TestEvictToBudgetRemovesLeastRecentlyAccessed(t *testing.T) {
	c, tt, now := newTestCache(t)
	ctx := context.Background()

	for i, key := range []string{"oldest", "middle", "newest"} {
		e := entryAt(key, "t1", now.Add(time.Hour))
		e.SizeBytes = 100
		e.LastAccessedAt = now.Add(time.Duration(i) * time.Minute)
		tt.durable.Put(e)
	}

	res, err := c.EvictToBudget(ctx, 250)
	require.NoError(t, err)
	assert.Equal(t, store.EvictionResult{Entries: 1, Bytes: 100}, res)
	assert.False(t, tt.durable.Has("oldest"))
	assert.True(t, tt.durable.Has("newest"))

	u, _ := tt.durable.Usage(ctx)
	assert.LessOrEqual(t, u.Bytes, int64(250))
}

func TestReadRefreshesEvictionOrder(t *testing.T) {
	c, tt, now := newTestCache(t)
	ctx := context.Background()

	for i, key := range []string{"a", "b"} {
		e := entryAt(key, "t1", now.Add(time.Hour))
		e.SizeBytes = 100
		e.LastAccessedAt = now.Add(time.Duration(i-10) * time.Minute)
		tt.durable.Put(e)
	}

	// Reading "a" makes it the most recently accessed.
	_, _, ok := c.Lookup(ctx, "a")
	require.True(t, ok)

	_, err := c.EvictToBudget(ctx, 100)
	require.NoError(t, err)
	assert.True(t, tt.durable.Has("a"))
	assert.False(t, tt.durable.Has("b"))
}

func TestMemoryHitsKeepEntryFromEviction(t *testing.T) {
	c, tt, now := newTestCache(t)
	ctx := context.Background()

	_, err := c.Store(ctx, StoreInput{Key: "hot", TenantID: "t1", FilePath: "system/brief.md", Content: "hot prompt"})
	require.NoError(t, err)
	*now = now.Add(time.Minute)
	_, err = c.Store(ctx, StoreInput{Key: "cold", TenantID: "t1", FilePath: "system/long.md", Content: "cold prompt"})
	require.NoError(t, err)

	*now = now.Add(time.Minute)
	for i := 0; i < 100; i++ {
		_, tier, ok := c.Lookup(ctx, "hot")
		require.True(t, ok)
		require.Equal(t, model.TierMemory, tier)
	}

	res, err := c.EvictToBudget(ctx, int64(len("hot prompt")))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Entries)
	assert.True(t, tt.durable.Has("hot"))
	assert.False(t, tt.durable.Has("cold"))
}

func TestFlushAccessesCoalescesPerKey(t *testing.T) {
	c, tt, now := newTestCache(t)
	ctx := context.Background()
	tt.memory.Put(entryAt("k1", "t1", now.Add(time.Hour)))
	tt.durable.Put(entryAt("k1", "t1", now.Add(time.Hour)))

	_, _, ok := c.Lookup(ctx, "k1")
	require.True(t, ok)
	*now = now.Add(time.Second)
	_, _, ok = c.Lookup(ctx, "k1")
	require.True(t, ok)

	_, touched := tt.durable.TouchedAt("k1")
	assert.False(t, touched)

	assert.Equal(t, 1, c.FlushAccesses(ctx))
	at, touched := tt.durable.TouchedAt("k1")
	require.True(t, touched)
	assert.True(t, at.Equal(*now))
	assert.Equal(t, 0, c.FlushAccesses(ctx))
}

func TestPurgeExpired(t *testing.T) {
	c, tt, now := newTestCache(t)
	tt.durable.Put(entryAt("inside", "t1", now.Add(-time.Hour)))
	tt.durable.Put(entryAt("outside", "t1", now.Add(-25*time.Hour)))

	n, err := c.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.True(t, tt.durable.Has("inside"))
}

func TestWithoutDurableTier(t *testing.T) {
	mem := cachetest.NewFakeTier(model.TierMemory)
	c := NewMultiTierCache([]store.Tier{mem}, Config{}, nil, zap.NewNop())

	res, err := c.EvictToBudget(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, res.Entries)

	n, err := c.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, DefaultStaleWindow, c.StaleWindow())
}

func TestStats(t *testing.T) {
	c, tt, now := newTestCache(t)
	tt.durable.Put(entryAt("k1", "t1", now.Add(time.Hour)))

	stats := c.Stats(context.Background())
	require.Len(t, stats, 3)
	assert.False(t, stats[0].Known)
	assert.Equal(t, model.TierDurable, stats[2].Tier)
	assert.True(t, stats[2].Known)
	assert.Equal(t, int64(1), stats[2].Entries)
}

func TestJanitorRunOnce(t *testing.T) {
	c, tt, now := newTestCache(t)
	expired := entryAt("expired", "t1", now.Add(-30*time.Hour))
	tt.durable.Put(expired)
	for i, key := range []string{"a", "b"} {
		e := entryAt(key, "t1", now.Add(time.Hour))
		e.SizeBytes = 100
		e.LastAccessedAt = now.Add(time.Duration(i) * time.Minute)
		tt.durable.Put(e)
	}

	j := NewJanitor(c, time.Minute, 150, zap.NewNop())
	j.RunOnce(context.Background())

	assert.False(t, tt.durable.Has("expired"))
	assert.False(t, tt.durable.Has("a"))
	assert.True(t, tt.durable.Has("b"))
}

func TestJanitorStartStop(t *testing.T) {
	c, _, _ := newTestCache(t)
	j := NewJanitor(c, 10*time.Millisecond, 0, zap.NewNop())
	j.Start()
	time.Sleep(25 * time.Millisecond)
	j.Stop()
	j.Stop()
}

func TestBuildKey(t *testing.T) {
	cfg := &model.TenantRepositoryConfig{TenantID: "t1", Repository: "acme/prompts", Ref: "main", SchemaVersion: 2}
	ctx := model.NewRequestContext("t1", model.PromptRoleSystem, map[string]string{"type": "brief"})

	k1 := BuildKey(cfg, ctx)
	assert.Regexp(t, `^prompt:t1:[0-9a-f]{24}$`, k1)
	assert.Equal(t, k1, BuildKey(cfg, ctx))

	other := model.NewRequestContext("t1", model.PromptRoleSystem, map[string]string{"type": "detailed"})
	assert.NotEqual(t, k1, BuildKey(cfg, other))

	cfg2 := *cfg
	cfg2.Ref = "release"
	assert.NotEqual(t, k1, BuildKey(&cfg2, ctx))

	cfg3 := *cfg
	cfg3.TenantID = "t2"
	assert.NotEqual(t, k1, BuildKey(&cfg3, ctx))
}
