package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/devrev/promptsource/internal/cache"
	"github.com/devrev/promptsource/internal/cache/cachetest"
	"github.com/devrev/promptsource/internal/errors"
	"github.com/devrev/promptsource/internal/model"
	"github.com/devrev/promptsource/internal/prompts"
	"github.com/devrev/promptsource/internal/routing"
	"github.com/devrev/promptsource/internal/store"
	"github.com/devrev/promptsource/internal/util/workerpool"
	"github.com/devrev/promptsource/internal/validation"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const briefPrompt = "You are the Acme support summarizer. Write two crisp sentences about the ticket."

type fakeFetcher struct {
	mu          sync.Mutex
	files       map[string]string
	errs        map[string]error
	defaultErr  error
	calls       map[string]int
	credentials []string
	gate        chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		files: make(map[string]string),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, req model.FetchRequest) (*model.FetchedFile, error) {
	f.mu.Lock()
	f.calls[req.Path]++
	f.credentials = append(f.credentials, req.Credential)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, errors.Timeout(ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.errs[req.Path]; ok {
		return nil, err
	}
	if f.defaultErr != nil {
		return nil, f.defaultErr
	}
	content, ok := f.files[req.Path]
	if !ok {
		return nil, errors.NotFound("file not found").WithLocation(req.Repository, req.Path)
	}
	return &model.FetchedFile{
		Repository: req.Repository,
		Ref:        req.Ref,
		Path:       req.Path,
		Content:    content,
		SizeBytes:  int64(len(content)),
	}, nil
}

func (f *fakeFetcher) set(path, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = content
}

func (f *fakeFetcher) failAll(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaultErr = err
}

func (f *fakeFetcher) callsFor(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *fakeFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type harness struct {
	fetcher    *fakeFetcher
	memory     *cachetest.FakeTier
	shared     *cachetest.FakeTier
	durable    *cachetest.FakeDurableTier
	cache      *cache.MultiTierCache
	configs    *store.MemoryTenantConfigStore
	tenants    *TenantService
	pool       *workerpool.WorkerPool
	finished   chan error
	refresher  *RefreshScheduler
	origin     *OriginFetcher
	fallback   *FallbackService
	resolution *ResolutionService
	defaults   *prompts.Defaults
}

func newHarness(t *testing.T) *harness {
	logger := zap.NewNop()
	h := &harness{
		fetcher:  newFakeFetcher(),
		memory:   cachetest.NewFakeTier(model.TierMemory),
		shared:   cachetest.NewFakeTier(model.TierShared),
		durable:  cachetest.NewFakeDurableTier(),
		configs:  store.NewMemoryTenantConfigStore(),
		finished: make(chan error, 16),
		defaults: prompts.MustLoadDefaults(),
	}

	h.cache = cache.NewMultiTierCache(
		[]store.Tier{h.memory, h.shared, h.durable},
		cache.Config{DefaultTTL: time.Hour, StaleWindow: 24 * time.Hour},
		nil, logger,
	)

	configCache := store.NewConfigCache(time.Minute)
	t.Cleanup(configCache.Close)
	h.tenants = NewTenantService(h.configs, configCache, h.cache,
		store.StaticCredentialResolver{"ACME": "ghp_acme"}, logger)

	h.pool = workerpool.NewWorkerPool(&workerpool.Config{
		Name:       "refresh",
		MaxWorkers: 2,
		QueueSize:  8,
		Logger:     logger,
		OnJobFinished: func(job workerpool.Job, err error) {
			h.finished <- err
		},
	})
	t.Cleanup(func() { h.pool.Stop(time.Second) })

	h.origin = NewOriginFetcher(h.fetcher, h.tenants, routing.NewRouter(logger), validation.NewValidator(), nil, logger)
	h.refresher = NewRefreshScheduler(h.pool, h.origin, h.cache, time.Second, nil, logger)
	h.fallback = NewFallbackService(h.cache, h.origin, h.refresher, h.defaults, nil, logger)
	h.resolution = NewResolutionService(h.tenants, h.cache, h.origin, h.fallback, nil, logger)
	return h
}

func (h *harness) configure(t *testing.T, schemaVersion int) *model.TenantRepositoryConfig {
	cfg, err := h.tenants.PutRepositoryConfig(context.Background(), &model.TenantRepositoryConfig{
		TenantID:      "acme",
		Repository:    "acme/prompts",
		Ref:           "main",
		Enabled:       true,
		SchemaVersion: schemaVersion,
		CredentialRef: "ACME",
		CacheTTL:      time.Hour,
	})
	require.NoError(t, err)
	return cfg
}

func briefContext() model.RequestContext {
	return model.NewRequestContext("acme", model.PromptRoleSystem, map[string]string{"type": "brief"})
}
