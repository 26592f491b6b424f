package service

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/devrev/promptsource/internal/cache"
	"github.com/devrev/promptsource/internal/cache/cachetest"
	"github.com/devrev/promptsource/internal/errors"
	"github.com/devrev/promptsource/internal/model"
	"github.com/devrev/promptsource/internal/prompts"
	"github.com/devrev/promptsource/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type panickingFetcher struct{}

func (panickingFetcher) FetchPrompt(ctx context.Context, cfg *model.TenantRepositoryConfig, rc model.RequestContext) (*FetchedPrompt, error) {
	panic("boom")
}

func (panickingFetcher) FetchLegacy(ctx context.Context, cfg *model.TenantRepositoryConfig, rc model.RequestContext) (*FetchedPrompt, error) {
	panic("boom")
}

type countingRefresher struct {
	scheduled []string
}

func (r *countingRefresher) Schedule(cfg *model.TenantRepositoryConfig, rc model.RequestContext, key string) bool {
	r.scheduled = append(r.scheduled, key)
	return true
}

// contextBoundTier fails reads once the caller's context is done, the way
// the network-backed tiers do.
type contextBoundTier struct {
	*cachetest.FakeDurableTier
}

func (c contextBoundTier) Get(ctx context.Context, key string) (*model.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.FakeDurableTier.Get(ctx, key)
}

func TestFallback_EmergencyWhenEveryStepFails(t *testing.T) {
	h := newHarness(t)
	fb := NewFallbackService(h.cache, h.origin, nil, nil, nil, zap.NewNop())

	res := fb.Execute(context.Background(), FallbackInput{
		Context: briefContext(),
		Failure: errors.Transport("unreachable", nil),
	})

	assert.Equal(t, model.SourceEmergency, res.Source)
	assert.Equal(t, prompts.EmergencyPrompt, res.Content)
}

func TestFallback_PanickingStepDoesNotStopTheChain(t *testing.T) {
	h := newHarness(t)
	cfg := h.configure(t, model.CurrentSchemaVersion)
	fb := NewFallbackService(h.cache, panickingFetcher{}, nil, h.defaults, nil, zap.NewNop())

	res := fb.Execute(context.Background(), FallbackInput{
		Config:   cfg,
		CacheKey: "prompt:acme:missing",
		Context:  briefContext(),
		Failure:  errors.ServerError(502),
	})

	assert.Equal(t, model.SourceDefault, res.Source)
	assert.NotEmpty(t, res.Content)
}

func TestFallback_StaleEntryOutsideWindowIsSkipped(t *testing.T) {
	h := newHarness(t)
	cfg := h.configure(t, model.MinSupportedSchemaVersion)
	refresher := &countingRefresher{}
	fb := NewFallbackService(h.cache, h.origin, refresher, h.defaults, nil, zap.NewNop())

	now := time.Now()
	h.durable.Put(&model.CacheEntry{
		Key: "prompt:acme:old", TenantID: "acme", Content: "two days old", SizeBytes: 12,
		CachedAt: now.Add(-72 * time.Hour), ExpiresAt: now.Add(-48 * time.Hour),
	})

	res := fb.Execute(context.Background(), FallbackInput{
		Config:   cfg,
		CacheKey: "prompt:acme:old",
		Context:  briefContext(),
		Failure:  errors.Transport("unreachable", nil),
	})

	assert.Equal(t, model.SourceDefault, res.Source)
	assert.Empty(t, refresher.scheduled)
	assert.Zero(t, h.fetcher.totalCalls(), "minimum-schema tenants skip the degraded step")
}

func TestFallback_StaleSchedulesRefresh(t *testing.T) {
	h := newHarness(t)
	cfg := h.configure(t, model.CurrentSchemaVersion)
	refresher := &countingRefresher{}
	fb := NewFallbackService(h.cache, h.origin, refresher, h.defaults, nil, zap.NewNop())

	now := time.Now()
	h.shared.Put(&model.CacheEntry{
		Key: "prompt:acme:k", TenantID: "acme", Content: "an hour old", SizeBytes: 11,
		FilePath: "system/brief.md",
		CachedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	})

	res := fb.Execute(context.Background(), FallbackInput{
		Config:   cfg,
		CacheKey: "prompt:acme:k",
		Context:  briefContext(),
		Failure:  errors.Timeout(context.DeadlineExceeded),
	})

	assert.Equal(t, model.SourceStale, res.Source)
	assert.Equal(t, "an hour old", res.Content)
	assert.Equal(t, "system/brief.md", res.FilePath)
	assert.Equal(t, []string{"prompt:acme:k"}, refresher.scheduled)
}

func TestFallback_StaleServedAfterCallerCancelled(t *testing.T) {
	h := newHarness(t)
	cfg := h.configure(t, model.MinSupportedSchemaVersion)

	durable := contextBoundTier{cachetest.NewFakeDurableTier()}
	c := cache.NewMultiTierCache(
		[]store.Tier{cachetest.NewFakeTier(model.TierMemory), durable},
		cache.Config{DefaultTTL: time.Hour, StaleWindow: 24 * time.Hour},
		nil, zap.NewNop(),
	)
	fb := NewFallbackService(c, h.origin, nil, h.defaults, nil, zap.NewNop())

	now := time.Now()
	durable.Put(&model.CacheEntry{
		Key: "prompt:acme:k", TenantID: "acme", Content: "from the durable tier", SizeBytes: 21,
		CachedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := fb.Execute(ctx, FallbackInput{
		Config:   cfg,
		CacheKey: "prompt:acme:k",
		Context:  briefContext(),
		Failure:  errors.Timeout(context.Canceled),
	})

	assert.Equal(t, model.SourceStale, res.Source)
	assert.Equal(t, "from the durable tier", res.Content)
}

func TestFallback_WithoutConfigServesDefault(t *testing.T) {
	h := newHarness(t)

	res := h.fallback.Execute(context.Background(), FallbackInput{
		Context: model.NewRequestContext("acme", model.PromptRoleUser, nil),
	})

	want, err := h.defaults.For(model.NewRequestContext("acme", model.PromptRoleUser, nil))
	require.NoError(t, err)
	assert.Equal(t, model.SourceDefault, res.Source)
	assert.Equal(t, want.Text, res.Content)
}

func TestFailureKind(t *testing.T) {
	assert.Equal(t, "none", failureKind(nil))
	assert.Equal(t, "internal", failureKind(stderrors.New("boom")))
	assert.Equal(t, errors.KindNotFound.String(), failureKind(errors.NotFound("gone")))
}
