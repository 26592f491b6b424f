package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/devrev/promptsource/internal/config"
	"github.com/devrev/promptsource/internal/server"
)

var watchConfig bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the prompt resolution API",
	Long: `Start the HTTP API.

The server provides:
  - /v1/tenants/{tenant_id}/prompt      resolve a prompt
  - /v1/tenants/{tenant_id}/repository  manage a tenant's repository config
  - /health/live and /health/ready      health checks
  - metrics on a separate port`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := config.NewManager(cfgFile, zap.NewNop())
		if err != nil {
			return err
		}
		cfg := mgr.Get()

		logger, level := initLogger(cfg.Logging)
		defer logger.Sync()

		logger.Info("Starting promptsource",
			zap.Int("port", cfg.Server.Port),
			zap.Bool("redis_enabled", cfg.Redis.Enabled),
			zap.Bool("database_enabled", cfg.Database.Enabled),
			zap.String("repository_base_url", cfg.Repository.BaseURL))

		a, err := buildApp(ctx, cfg, prometheus.DefaultRegisterer, logger)
		if err != nil {
			logger.Error("Failed to initialize", zap.Error(err))
			return err
		}
		defer a.close()

		srv := server.NewServer(cfg, a.handlers, a.errorWriter, a.health, a.metrics, prometheus.DefaultGatherer, logger)

		if watchConfig {
			mgr.OnChange(func(next *config.Config) {
				level.SetLevel(parseLevel(next.Logging.Level))
				a.applyReload(next)
				if rl := srv.RateLimiter(); rl != nil {
					rl.SetLimit(next.RateLimiter.RequestsPerSecond, next.RateLimiter.BurstSize)
				}
			})
			mgr.WatchConfig()
		}

		a.janitor.Start()
		defer a.janitor.Stop()

		serverErrors := make(chan error, 1)
		go func() {
			serverErrors <- srv.Start()
		}()

		select {
		case err := <-serverErrors:
			if err != nil {
				logger.Error("Server error", zap.Error(err))
				return err
			}
			return nil
		case <-ctx.Done():
			logger.Info("Shutting down gracefully")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down: %w", err)
		}
		logger.Info("promptsource stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&watchConfig, "watch-config", true, "reload log level, cache lifetimes and limits when the config file changes")
	rootCmd.AddCommand(serveCmd)
}
