package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config represents the prompt service configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Repository  RepositoryConfig  `mapstructure:"repository"`
	Refresh     RefreshConfig     `mapstructure:"refresh"`
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig represents the PostgreSQL durable tier and tenant config store
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// RedisConfig represents the shared cache tier
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	PoolSize  int    `mapstructure:"pool_size"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// CacheConfig represents cache sizing and lifetimes
type CacheConfig struct {
	MemoryMaxEntries int           `mapstructure:"memory_max_entries"`
	MemoryMaxBytes   int64         `mapstructure:"memory_max_bytes"`
	DefaultTTL       time.Duration `mapstructure:"default_ttl"`
	StaleWindow      time.Duration `mapstructure:"stale_window"`
	DurableMaxBytes  int64         `mapstructure:"durable_max_bytes"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval"`
	EvictionInterval time.Duration `mapstructure:"eviction_interval"`
	TenantConfigTTL  time.Duration `mapstructure:"tenant_config_ttl"`
}

// RepositoryConfig represents the remote repository client
type RepositoryConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxAttempts       uint          `mapstructure:"max_attempts"`
	BaseBackoff       time.Duration `mapstructure:"base_backoff"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxRateLimitWait  time.Duration `mapstructure:"max_rate_limit_wait"`
	UserAgent         string        `mapstructure:"user_agent"`
}

// RefreshConfig represents the background refresh pool
type RefreshConfig struct {
	Workers   int           `mapstructure:"workers"`
	QueueSize int           `mapstructure:"queue_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// RateLimiterConfig represents the inbound API rate limiter
type RateLimiterConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.Metrics.Enabled && c.Metrics.Port == c.Server.Port {
		return errors.New("metrics.port must differ from server.port")
	}
	if c.Database.Enabled {
		if c.Database.Host == "" {
			return errors.New("database.host is required")
		}
		if c.Database.Database == "" {
			return errors.New("database.database is required")
		}
		if c.Database.User == "" {
			return errors.New("database.user is required")
		}
	}
	if c.Redis.Enabled && c.Redis.Host == "" {
		return errors.New("redis.host is required")
	}
	if c.Cache.DefaultTTL <= 0 {
		return errors.New("cache.default_ttl must be positive")
	}
	if c.Cache.StaleWindow < 0 {
		return errors.New("cache.stale_window must not be negative")
	}
	if c.Cache.DurableMaxBytes < 0 {
		return errors.New("cache.durable_max_bytes must not be negative")
	}
	if _, err := url.ParseRequestURI(c.Repository.BaseURL); err != nil {
		return fmt.Errorf("repository.base_url is invalid: %w", err)
	}
	if c.Repository.MaxAttempts == 0 {
		return errors.New("repository.max_attempts must be at least 1")
	}
	if c.Repository.RequestsPerSecond <= 0 {
		return errors.New("repository.requests_per_second must be positive")
	}
	if c.Refresh.Workers <= 0 {
		return errors.New("refresh.workers must be positive")
	}
	if c.RateLimiter.Enabled && c.RateLimiter.RequestsPerSecond <= 0 {
		return errors.New("rate_limiter.requests_per_second must be positive")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if !isValidLogFormat(c.Logging.Format) {
		return errors.New("logging.format must be one of: json, console")
	}
	return nil
}

func isValidLogFormat(format string) bool {
	switch format {
	case "json", "console":
		return true
	default:
		return false
	}
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			RequestTimeout:  20 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			Enabled:         false,
			Host:            "localhost",
			Port:            5432,
			Database:        "promptsource",
			User:            "promptsource",
			MaxConnections:  20,
			MinConnections:  2,
			ConnMaxLifetime: 30 * time.Minute,
			EnsureSchema:    true,
		},
		Redis: RedisConfig{
			Enabled:   false,
			Host:      "localhost",
			Port:      6379,
			PoolSize:  50,
			KeyPrefix: "promptsource:",
		},
		Cache: CacheConfig{
			MemoryMaxEntries: 10000,
			MemoryMaxBytes:   64 << 20,
			DefaultTTL:       time.Hour,
			StaleWindow:      24 * time.Hour,
			DurableMaxBytes:  512 << 20,
			CleanupInterval:  time.Minute,
			EvictionInterval: 10 * time.Minute,
			TenantConfigTTL:  5 * time.Minute,
		},
		Repository: RepositoryConfig{
			BaseURL:           "https://api.github.com",
			Timeout:           5 * time.Second,
			MaxAttempts:       3,
			BaseBackoff:       time.Second,
			RequestsPerSecond: 10,
			Burst:             10,
			MaxRateLimitWait:  10 * time.Second,
			UserAgent:         "promptsource",
		},
		Refresh: RefreshConfig{
			Workers:   4,
			QueueSize: 256,
			Timeout:   30 * time.Second,
		},
		RateLimiter: RateLimiterConfig{
			Enabled:           true,
			RequestsPerSecond: 500,
			BurstSize:         1000,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
