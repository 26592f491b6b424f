package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix prefixes every environment override, e.g. PROMPTSOURCE_REDIS_HOST.
const EnvPrefix = "PROMPTSOURCE"

// Manager loads configuration and reloads it when the file changes.
type Manager struct {
	v         *viper.Viper
	logger    *zap.Logger
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	m, err := NewManager(configPath, zap.NewNop())
	if err != nil {
		return nil, err
	}
	return m.Get(), nil
}

// NewManager creates a config manager and loads the initial config. An empty
// path searches ./config.yaml and /etc/promptsource/config.yaml; a missing
// file leaves defaults and environment overrides in effect.
func NewManager(configPath string, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		v:      viper.New(),
		logger: logger,
	}

	if err := m.initViper(configPath); err != nil {
		return nil, err
	}

	cfg, err := m.load()
	if err != nil {
		return nil, err
	}
	m.config = cfg
	return m, nil
}

func (m *Manager) initViper(configPath string) error {
	setDefaults(m.v, DefaultConfig())

	m.v.SetEnvPrefix(EnvPrefix)
	m.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	m.v.AutomaticEnv()

	if configPath != "" {
		m.v.SetConfigFile(configPath)
	} else {
		m.v.SetConfigName("config")
		m.v.SetConfigType("yaml")
		m.v.AddConfigPath(".")
		m.v.AddConfigPath("/etc/promptsource")
	}

	if err := m.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("No config file found, using defaults and environment",
				zap.String("path", configPath))
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	m.logger.Info("Loaded config file", zap.String("path", m.v.ConfigFileUsed()))
	return nil
}

// load parses the current viper state into a validated Config.
func (m *Manager) load() (*Config, error) {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// OnChange registers a callback for reloaded configuration
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// WatchConfig reloads the file on change. A reload that fails validation
// is logged and the previous configuration stays in effect.
func (m *Manager) WatchConfig() {
	m.v.OnConfigChange(func(e fsnotify.Event) {
		m.reload(e.Name)
	})
	m.v.WatchConfig()
}

func (m *Manager) reload(name string) {
	cfg, err := m.load()
	if err != nil {
		m.logger.Error("Ignoring invalid config change",
			zap.String("file", name),
			zap.Error(err))
		return
	}

	m.mu.Lock()
	m.config = cfg
	callbacks := make([]func(*Config), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	m.logger.Info("Config reloaded", zap.String("file", name))
	for _, fn := range callbacks {
		fn(cfg)
	}
}

// setDefaults registers every key so environment overrides apply to keys
// absent from the file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)

	v.SetDefault("database.enabled", d.Database.Enabled)
	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.database", d.Database.Database)
	v.SetDefault("database.user", d.Database.User)
	v.SetDefault("database.password", d.Database.Password)
	v.SetDefault("database.max_connections", d.Database.MaxConnections)
	v.SetDefault("database.min_connections", d.Database.MinConnections)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)
	v.SetDefault("database.ensure_schema", d.Database.EnsureSchema)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.host", d.Redis.Host)
	v.SetDefault("redis.port", d.Redis.Port)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.pool_size", d.Redis.PoolSize)
	v.SetDefault("redis.key_prefix", d.Redis.KeyPrefix)

	v.SetDefault("cache.memory_max_entries", d.Cache.MemoryMaxEntries)
	v.SetDefault("cache.memory_max_bytes", d.Cache.MemoryMaxBytes)
	v.SetDefault("cache.default_ttl", d.Cache.DefaultTTL)
	v.SetDefault("cache.stale_window", d.Cache.StaleWindow)
	v.SetDefault("cache.durable_max_bytes", d.Cache.DurableMaxBytes)
	v.SetDefault("cache.cleanup_interval", d.Cache.CleanupInterval)
	v.SetDefault("cache.eviction_interval", d.Cache.EvictionInterval)
	v.SetDefault("cache.tenant_config_ttl", d.Cache.TenantConfigTTL)

	v.SetDefault("repository.base_url", d.Repository.BaseURL)
	v.SetDefault("repository.timeout", d.Repository.Timeout)
	v.SetDefault("repository.max_attempts", d.Repository.MaxAttempts)
	v.SetDefault("repository.base_backoff", d.Repository.BaseBackoff)
	v.SetDefault("repository.requests_per_second", d.Repository.RequestsPerSecond)
	v.SetDefault("repository.burst", d.Repository.Burst)
	v.SetDefault("repository.max_rate_limit_wait", d.Repository.MaxRateLimitWait)
	v.SetDefault("repository.user_agent", d.Repository.UserAgent)

	v.SetDefault("refresh.workers", d.Refresh.Workers)
	v.SetDefault("refresh.queue_size", d.Refresh.QueueSize)
	v.SetDefault("refresh.timeout", d.Refresh.Timeout)

	v.SetDefault("rate_limiter.enabled", d.RateLimiter.Enabled)
	v.SetDefault("rate_limiter.requests_per_second", d.RateLimiter.RequestsPerSecond)
	v.SetDefault("rate_limiter.burst_size", d.RateLimiter.BurstSize)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.port", d.Metrics.Port)
	v.SetDefault("metrics.path", d.Metrics.Path)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}
