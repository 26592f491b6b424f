package service

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/devrev/promptsource/internal/cache"
	"github.com/devrev/promptsource/internal/errors"
	"github.com/devrev/promptsource/internal/metrics"
	"github.com/devrev/promptsource/internal/model"
	"github.com/devrev/promptsource/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var errTenantDisabled = stderrors.New("tenant repository disabled")

// TenantConfigs looks up tenant repository configuration
type TenantConfigs interface {
	GetRepositoryConfig(ctx context.Context, tenantID string) (*model.TenantRepositoryConfig, error)
}

// ResolutionService resolves a prompt for a tenant and request context.
// Resolution never fails: every failure is handed to the fallback chain.
type ResolutionService struct {
	tenants  TenantConfigs
	cache    *cache.MultiTierCache
	origin   PromptFetcher
	fallback *FallbackService
	group    singleflight.Group
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewResolutionService creates a new resolution service
func NewResolutionService(
	tenants TenantConfigs,
	c *cache.MultiTierCache,
	origin PromptFetcher,
	fallback *FallbackService,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ResolutionService {
	return &ResolutionService{
		tenants:  tenants,
		cache:    c,
		origin:   origin,
		fallback: fallback,
		metrics:  m,
		logger:   logger,
	}
}

// Resolve returns content and the label of the source that produced it
func (s *ResolutionService) Resolve(ctx context.Context, rc model.RequestContext) *model.ResolvedPrompt {
	start := time.Now()
	res := s.resolve(ctx, rc)
	s.metrics.RecordResolution(res.Source, time.Since(start).Seconds())
	return res
}

func (s *ResolutionService) resolve(ctx context.Context, rc model.RequestContext) *model.ResolvedPrompt {
	tenantID := rc.TenantID()

	cfg, err := s.tenants.GetRepositoryConfig(ctx, tenantID)
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			s.logger.Debug("No repository configured for tenant", zap.String("tenant_id", tenantID))
		} else {
			s.logger.Warn("Failed to load tenant repository config",
				zap.String("tenant_id", tenantID),
				zap.Error(err))
		}
		return s.fallback.Execute(ctx, FallbackInput{Context: rc, Failure: err})
	}
	if !cfg.Enabled {
		return s.fallback.Execute(ctx, FallbackInput{Context: rc, Failure: errTenantDisabled})
	}

	key := cache.BuildKey(cfg, rc)

	if entry, tier, ok := s.cache.Lookup(ctx, key); ok {
		return &model.ResolvedPrompt{
			Content:  entry.Content,
			Source:   model.CacheSource(tier),
			FilePath: entry.FilePath,
			CacheKey: key,
		}
	}

	res, err := s.resolveOrigin(ctx, cfg, rc, key)
	if err != nil {
		s.logger.Warn("Prompt resolution failed",
			zap.String("tenant_id", tenantID),
			zap.String("cache_key", key),
			zap.String("repository", cfg.Repository),
			zap.String("file_path", failurePath(err)),
			zap.String("failure_kind", failureKind(err)),
			zap.Error(err))
		return s.fallback.Execute(ctx, FallbackInput{
			Config:   cfg,
			CacheKey: key,
			Context:  rc,
			Failure:  err,
		})
	}
	return res
}

// resolveOrigin fetches and caches content. Concurrent calls for one key
// share a single fetch, which keeps running if the caller goes away.
func (s *ResolutionService) resolveOrigin(ctx context.Context, cfg *model.TenantRepositoryConfig, rc model.RequestContext, key string) (*model.ResolvedPrompt, error) {
	detached := context.WithoutCancel(ctx)

	ch := s.group.DoChan(key, func() (interface{}, error) {
		p, err := s.origin.FetchPrompt(detached, cfg, rc)
		if err != nil {
			return nil, err
		}

		if _, err := s.cache.Store(detached, cache.StoreInput{
			Key:           key,
			TenantID:      cfg.TenantID,
			FilePath:      p.FilePath,
			Content:       p.Content,
			SchemaVersion: cfg.SchemaVersion,
			TTL:           cfg.CacheTTL,
		}); err != nil {
			s.logger.Warn("Failed to cache resolved prompt",
				zap.String("tenant_id", cfg.TenantID),
				zap.String("cache_key", key),
				zap.Error(err))
		}

		return &model.ResolvedPrompt{
			Content:  p.Content,
			Source:   model.SourceOrigin,
			FilePath: p.FilePath,
			CacheKey: key,
		}, nil
	})

	select {
	case <-ctx.Done():
		return nil, errors.Timeout(ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		res := *r.Val.(*model.ResolvedPrompt)
		return &res, nil
	}
}

func failurePath(err error) string {
	if fe, ok := errors.AsFetchError(err); ok {
		return fe.Path
	}
	return ""
}
