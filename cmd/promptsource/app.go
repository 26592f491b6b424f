package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/devrev/promptsource/internal/cache"
	"github.com/devrev/promptsource/internal/client"
	"github.com/devrev/promptsource/internal/config"
	"github.com/devrev/promptsource/internal/errors"
	"github.com/devrev/promptsource/internal/handler"
	"github.com/devrev/promptsource/internal/health"
	"github.com/devrev/promptsource/internal/metrics"
	"github.com/devrev/promptsource/internal/prompts"
	"github.com/devrev/promptsource/internal/routing"
	"github.com/devrev/promptsource/internal/service"
	"github.com/devrev/promptsource/internal/store"
	"github.com/devrev/promptsource/internal/util/workerpool"
	"github.com/devrev/promptsource/internal/validation"
)

// app holds every wired component of one process.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	memory      *store.MemoryTier
	redisTier   *store.RedisTier
	pgTier      *store.PostgresTier
	configStore store.TenantConfigStore
	configCache *store.ConfigCache
	cache       *cache.MultiTierCache
	janitor     *cache.Janitor
	pool        *workerpool.WorkerPool
	repoClient  *client.RepositoryClient

	tenants    *service.TenantService
	resolution *service.ResolutionService

	handlers    *handler.Handlers
	errorWriter *handler.ErrorWriter
	health      *health.HealthChecker

	closers []func()
}

func buildApp(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.NewMetricsWithRegistry(reg)}

	a.memory = store.NewMemoryTier(store.MemoryTierConfig{
		MaxEntries:      cfg.Cache.MemoryMaxEntries,
		MaxBytes:        cfg.Cache.MemoryMaxBytes,
		Retention:       cfg.Cache.StaleWindow,
		CleanupInterval: cfg.Cache.CleanupInterval,
	}, logger)
	a.closers = append(a.closers, a.memory.Close)
	tiers := []store.Tier{a.memory}

	if cfg.Redis.Enabled {
		rc := store.NewRedisClient(store.RedisOptions{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		a.redisTier = store.NewRedisTier(rc, cfg.Redis.KeyPrefix, cfg.Cache.StaleWindow, logger)
		a.closers = append(a.closers, func() { a.redisTier.Close() })
		tiers = append(tiers, a.redisTier)

		// The shared tier is only a cache: an outage degrades readiness and
		// lookups skip it until it comes back.
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := a.redisTier.Ping(pingCtx)
		cancel()
		if err != nil {
			logger.Warn("Shared cache tier unreachable, continuing without it until it recovers",
				zap.String("host", cfg.Redis.Host),
				zap.Int("port", cfg.Redis.Port),
				zap.Error(err))
		} else {
			logger.Info("Shared cache tier initialized", zap.String("host", cfg.Redis.Host))
		}
	}

	if cfg.Database.Enabled {
		pool, err := store.NewPostgresPool(ctx, store.PostgresOptions{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			Database:        cfg.Database.Database,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			MaxConns:        cfg.Database.MaxConnections,
			MinConns:        cfg.Database.MinConnections,
			MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if cfg.Database.EnsureSchema {
			if err := store.EnsureSchema(ctx, pool); err != nil {
				a.close()
				return nil, err
			}
		}
		a.pgTier = store.NewPostgresTier(pool, logger)
		a.configStore = store.NewPostgresTenantConfigStore(pool, logger)
		tiers = append(tiers, a.pgTier)
		logger.Info("Durable cache tier and tenant config store initialized",
			zap.String("database_host", cfg.Database.Host),
			zap.String("database_name", cfg.Database.Database))
	} else {
		a.configStore = store.NewMemoryTenantConfigStore()
		logger.Warn("Database disabled, tenant configuration is held in memory")
	}

	a.cache = cache.NewMultiTierCache(tiers, cache.Config{
		DefaultTTL:  cfg.Cache.DefaultTTL,
		StaleWindow: cfg.Cache.StaleWindow,
	}, a.metrics, logger)
	a.janitor = cache.NewJanitor(a.cache, cfg.Cache.EvictionInterval, cfg.Cache.DurableMaxBytes, logger)

	a.configCache = store.NewConfigCache(cfg.Cache.TenantConfigTTL)
	a.closers = append(a.closers, a.configCache.Close)
	a.tenants = service.NewTenantService(a.configStore, a.configCache, a.cache, store.NewEnvCredentialResolver(), logger)

	a.repoClient = client.NewRepositoryClient(client.RepositoryClientConfig{
		BaseURL:           cfg.Repository.BaseURL,
		Timeout:           cfg.Repository.Timeout,
		MaxAttempts:       cfg.Repository.MaxAttempts,
		BaseBackoff:       cfg.Repository.BaseBackoff,
		MaxRateLimitWait:  cfg.Repository.MaxRateLimitWait,
		RequestsPerSecond: cfg.Repository.RequestsPerSecond,
		Burst:             cfg.Repository.Burst,
		UserAgent:         cfg.Repository.UserAgent,
	}, logger)
	a.repoClient.SetObserver(func(repository string, err error, attempts uint, d time.Duration) {
		a.metrics.RecordFetch(fetchOutcome(err), attempts, d.Seconds())
	})

	a.pool = workerpool.NewWorkerPool(&workerpool.Config{
		Name:       "refresh",
		MaxWorkers: cfg.Refresh.Workers,
		QueueSize:  cfg.Refresh.QueueSize,
		Logger:     logger,
	})

	origin := service.NewOriginFetcher(a.repoClient, a.tenants, routing.NewRouter(logger), validation.NewValidator(), a.metrics, logger)
	refresher := service.NewRefreshScheduler(a.pool, origin, a.cache, cfg.Refresh.Timeout, a.metrics, logger)
	fallback := service.NewFallbackService(a.cache, origin, refresher, prompts.MustLoadDefaults(), a.metrics, logger)
	a.resolution = service.NewResolutionService(a.tenants, a.cache, origin, fallback, a.metrics, logger)

	a.errorWriter = handler.NewErrorWriter(logger)
	a.handlers = handler.NewHandlers(a.resolution, a.tenants, a.cache, a.errorWriter,
		cfg.Cache.DurableMaxBytes, cfg.Server.RequestTimeout, logger)
	a.health = health.NewHealthChecker(a.configStore, a.cache.Tiers(), logger)

	return a, nil
}

// applyReload pushes hot-reloadable settings into running components.
func (a *app) applyReload(cfg *config.Config) {
	a.cache.SetDefaultTTL(cfg.Cache.DefaultTTL)
	a.cache.SetStaleWindow(cfg.Cache.StaleWindow)
	a.memory.SetRetention(cfg.Cache.StaleWindow)
	if a.redisTier != nil {
		a.redisTier.SetRetention(cfg.Cache.StaleWindow)
	}
	a.janitor.SetMaxBytes(cfg.Cache.DurableMaxBytes)
	a.handlers.SetMaxBytes(cfg.Cache.DurableMaxBytes)

	a.logger.Info("Applied reloaded cache settings",
		zap.Duration("default_ttl", cfg.Cache.DefaultTTL),
		zap.Duration("stale_window", cfg.Cache.StaleWindow),
		zap.Int64("durable_max_bytes", cfg.Cache.DurableMaxBytes))
}

func (a *app) close() {
	if a.pool != nil {
		if err := a.pool.Stop(a.cfg.Refresh.Timeout); err != nil {
			a.logger.Warn("Refresh pool did not drain", zap.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func fetchOutcome(err error) string {
	if err == nil {
		return "success"
	}
	return errors.KindOf(err).String()
}
