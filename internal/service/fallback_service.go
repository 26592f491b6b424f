package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/devrev/promptsource/internal/cache"
	"github.com/devrev/promptsource/internal/errors"
	"github.com/devrev/promptsource/internal/metrics"
	"github.com/devrev/promptsource/internal/model"
	"github.com/devrev/promptsource/internal/prompts"
	"go.uber.org/zap"
)

// staleLookupTimeout bounds the stale-cache read once the caller's context is done
const staleLookupTimeout = 2 * time.Second

// Refresher schedules a detached re-resolution of a cache key
type Refresher interface {
	Schedule(cfg *model.TenantRepositoryConfig, rc model.RequestContext, key string) bool
}

// FallbackInput carries what failed and where
type FallbackInput struct {
	Config   *model.TenantRepositoryConfig // nil when the tenant has none
	CacheKey string                        // empty when no key could be built
	Context  model.RequestContext
	Failure  error
}

// FallbackService walks the degraded-service steps in order: stale cache,
// minimum-schema layout, built-in default, emergency text. It always returns
// content.
type FallbackService struct {
	cache     *cache.MultiTierCache
	origin    PromptFetcher
	refresher Refresher
	defaults  *prompts.Defaults
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewFallbackService creates a new fallback service
func NewFallbackService(
	c *cache.MultiTierCache,
	origin PromptFetcher,
	refresher Refresher,
	defaults *prompts.Defaults,
	m *metrics.Metrics,
	logger *zap.Logger,
) *FallbackService {
	return &FallbackService{
		cache:     c,
		origin:    origin,
		refresher: refresher,
		defaults:  defaults,
		metrics:   m,
		logger:    logger,
	}
}

type fallbackStep struct {
	name string
	run  func(ctx context.Context, in FallbackInput) (*model.ResolvedPrompt, error)
}

var errStepSkipped = stderrors.New("step not applicable")

// Execute returns the first content a fallback step produces
func (s *FallbackService) Execute(ctx context.Context, in FallbackInput) *model.ResolvedPrompt {
	steps := []fallbackStep{
		{model.SourceStale, s.staleCache},
		{model.SourceDegradedSchema, s.degradedSchema},
		{model.SourceDefault, s.builtInDefault},
	}

	fields := []zap.Field{
		zap.String("tenant_id", in.Context.TenantID()),
		zap.String("cache_key", in.CacheKey),
		zap.String("failure_kind", failureKind(in.Failure)),
		zap.NamedError("failure", in.Failure),
	}

	for _, step := range steps {
		res, err := s.attempt(ctx, step, in)
		if err == nil {
			s.metrics.RecordFallbackStep(step.name, "success")
			s.logger.Info("Served prompt from fallback",
				append(fields, zap.String("source", res.Source))...)
			return res
		}
		if stderrors.Is(err, errStepSkipped) {
			continue
		}
		s.metrics.RecordFallbackStep(step.name, "failed")
		s.logger.Warn("Fallback step failed",
			append(fields, zap.String("step", step.name), zap.Error(err))...)
	}

	s.metrics.RecordFallbackStep(model.SourceEmergency, "success")
	s.logger.Error("Serving emergency prompt", fields...)
	return &model.ResolvedPrompt{
		Content:  prompts.EmergencyPrompt,
		Source:   model.SourceEmergency,
		CacheKey: in.CacheKey,
	}
}

// attempt isolates a step so a panic in one does not stop the next.
func (s *FallbackService) attempt(ctx context.Context, step fallbackStep, in FallbackInput) (res *model.ResolvedPrompt, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("%s step panicked: %v", step.name, r)
		}
	}()
	return step.run(ctx, in)
}

func (s *FallbackService) staleCache(ctx context.Context, in FallbackInput) (*model.ResolvedPrompt, error) {
	if in.CacheKey == "" {
		return nil, errStepSkipped
	}

	// The caller may already have given up; the stale read still gets its own budget.
	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), staleLookupTimeout)
	defer cancel()

	entry, tier, ok := s.cache.LookupStale(lookupCtx, in.CacheKey)
	if !ok {
		return nil, fmt.Errorf("no stale entry for %s", in.CacheKey)
	}

	if in.Config != nil && s.refresher != nil {
		s.refresher.Schedule(in.Config, in.Context, in.CacheKey)
	}

	s.logger.Debug("Found stale entry",
		zap.String("cache_key", in.CacheKey),
		zap.String("tier", string(tier)),
		zap.Time("expires_at", entry.ExpiresAt))

	return &model.ResolvedPrompt{
		Content:  entry.Content,
		Source:   model.SourceStale,
		FilePath: entry.FilePath,
		CacheKey: in.CacheKey,
	}, nil
}

func (s *FallbackService) degradedSchema(ctx context.Context, in FallbackInput) (*model.ResolvedPrompt, error) {
	if in.Config == nil || in.Config.SchemaVersion <= model.MinSupportedSchemaVersion {
		return nil, errStepSkipped
	}

	p, err := s.origin.FetchLegacy(ctx, in.Config, in.Context)
	if err != nil {
		return nil, err
	}

	return &model.ResolvedPrompt{
		Content:  p.Content,
		Source:   model.SourceDegradedSchema,
		FilePath: p.FilePath,
		CacheKey: in.CacheKey,
	}, nil
}

func (s *FallbackService) builtInDefault(ctx context.Context, in FallbackInput) (*model.ResolvedPrompt, error) {
	p, err := s.defaults.For(in.Context)
	if err != nil {
		return nil, err
	}

	return &model.ResolvedPrompt{
		Content:  p.Text,
		Source:   model.SourceDefault,
		CacheKey: in.CacheKey,
	}, nil
}

func failureKind(err error) string {
	if err == nil {
		return "none"
	}
	if fe, ok := errors.AsFetchError(err); ok {
		return fe.Kind.String()
	}
	return "internal"
}
