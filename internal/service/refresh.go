package service

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/devrev/promptsource/internal/cache"
	"github.com/devrev/promptsource/internal/metrics"
	"github.com/devrev/promptsource/internal/model"
	"github.com/devrev/promptsource/internal/util/workerpool"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PromptFetcher fetches accepted content from a tenant repository
type PromptFetcher interface {
	FetchPrompt(ctx context.Context, cfg *model.TenantRepositoryConfig, rc model.RequestContext) (*FetchedPrompt, error)
	FetchLegacy(ctx context.Context, cfg *model.TenantRepositoryConfig, rc model.RequestContext) (*FetchedPrompt, error)
}

// RefreshScheduler re-resolves cache keys in the background. A key already
// queued or running is not scheduled again and a full queue drops the request.
type RefreshScheduler struct {
	pool    *workerpool.WorkerPool
	origin  PromptFetcher
	cache   *cache.MultiTierCache
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewRefreshScheduler creates a scheduler over a worker pool
func NewRefreshScheduler(
	pool *workerpool.WorkerPool,
	origin PromptFetcher,
	c *cache.MultiTierCache,
	timeout time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *RefreshScheduler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RefreshScheduler{
		pool:    pool,
		origin:  origin,
		cache:   c,
		timeout: timeout,
		metrics: m,
		logger:  logger,
	}
}

// Schedule queues a refresh of key and returns immediately
func (r *RefreshScheduler) Schedule(cfg *model.TenantRepositoryConfig, rc model.RequestContext, key string) bool {
	snapshot := *cfg
	job := workerpool.Job{
		ID:      uuid.NewString(),
		Key:     key,
		Timeout: r.timeout,
		Fn: func(ctx context.Context) error {
			return r.refresh(ctx, &snapshot, rc, key)
		},
	}

	err := r.pool.Submit(job)
	r.metrics.UpdateRefreshQueueLen(r.pool.Stats().QueuedJobs)

	switch {
	case err == nil:
		r.metrics.RecordRefresh("scheduled")
		r.logger.Debug("Scheduled background refresh",
			zap.String("tenant_id", cfg.TenantID),
			zap.String("cache_key", key),
			zap.String("job_id", job.ID))
		return true
	case stderrors.Is(err, workerpool.ErrDuplicate):
		r.metrics.RecordRefresh("deduplicated")
		return false
	default:
		r.metrics.RecordRefresh("dropped")
		r.logger.Warn("Dropped background refresh",
			zap.String("tenant_id", cfg.TenantID),
			zap.String("cache_key", key),
			zap.Error(err))
		return false
	}
}

func (r *RefreshScheduler) refresh(ctx context.Context, cfg *model.TenantRepositoryConfig, rc model.RequestContext, key string) error {
	p, err := r.origin.FetchPrompt(ctx, cfg, rc)
	if err != nil {
		r.metrics.RecordRefresh("failed")
		return err
	}

	if _, err := r.cache.Store(ctx, cache.StoreInput{
		Key:           key,
		TenantID:      cfg.TenantID,
		FilePath:      p.FilePath,
		Content:       p.Content,
		SchemaVersion: cfg.SchemaVersion,
		TTL:           cfg.CacheTTL,
	}); err != nil {
		r.metrics.RecordRefresh("failed")
		return err
	}

	r.metrics.RecordRefresh("succeeded")
	r.logger.Info("Background refresh stored fresh content",
		zap.String("tenant_id", cfg.TenantID),
		zap.String("cache_key", key),
		zap.String("file_path", p.FilePath))
	return nil
}
