package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/devrev/promptsource/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisOptions holds the shared tier connection settings
type RedisOptions struct {
	Host        string
	Port        int
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

// NewRedisClient creates a Redis client. Connections are dialled lazily, so
// an unreachable server surfaces through RedisTier.Ping and failed
// operations rather than here.
func NewRedisClient(opts RedisOptions) *redis.Client {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 2 * time.Second
	}
	return redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Password:    opts.Password,
		DB:          opts.DB,
		PoolSize:    opts.PoolSize,
		DialTimeout: opts.DialTimeout,
	})
}

// RedisTier is the shared tier. Entries are JSON values with a TTL covering
// expiry plus the retention window; a per-tenant set indexes keys for invalidation.
type RedisTier struct {
	client    *redis.Client
	prefix    string
	retention atomic.Int64 // nanoseconds
	logger    *zap.Logger
	now       func() time.Time
}

// NewRedisTier creates a shared tier over an existing client
func NewRedisTier(client *redis.Client, prefix string, retention time.Duration, logger *zap.Logger) *RedisTier {
	if prefix == "" {
		prefix = "promptsource:"
	}
	s := &RedisTier{
		client: client,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
	}
	s.retention.Store(int64(retention))
	return s
}

// Name returns the tier label
func (s *RedisTier) Name() model.Tier {
	return model.TierShared
}

func (s *RedisTier) entryKey(key string) string {
	return s.prefix + "entry:" + key
}

func (s *RedisTier) tenantKey(tenantID string) string {
	return s.prefix + "tenant:" + tenantID
}

// Get retrieves an entry
func (s *RedisTier) Get(ctx context.Context, key string) (*model.CacheEntry, error) {
	data, err := s.client.Get(ctx, s.entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}

	var entry model.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return &entry, nil
}

// Set stores an entry and records it in the tenant index
func (s *RedisTier) Set(ctx context.Context, entry *model.CacheEntry) error {
	ttl := entry.ExpiresAt.Add(time.Duration(s.retention.Load())).Sub(s.now())
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.entryKey(entry.Key), data, ttl)
		// The index lives as long as its longest-lived entry.
		index := s.tenantKey(entry.TenantID)
		pipe.SAdd(ctx, index, entry.Key)
		pipe.ExpireNX(ctx, index, ttl)
		pipe.ExpireGT(ctx, index, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set entry: %w", err)
	}
	return nil
}

// Delete removes an entry
func (s *RedisTier) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.entryKey(key)).Err()
}

// DeleteTenant removes every indexed entry of a tenant
func (s *RedisTier) DeleteTenant(ctx context.Context, tenantID string) (int64, error) {
	indexKey := s.tenantKey(tenantID)

	keys, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list tenant keys: %w", err)
	}

	toDelete := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		toDelete = append(toDelete, s.entryKey(k))
	}

	var removed int64
	if len(toDelete) > 0 {
		removed, err = s.client.Del(ctx, toDelete...).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to delete tenant entries: %w", err)
		}
	}

	if err := s.client.Del(ctx, indexKey).Err(); err != nil {
		return removed, fmt.Errorf("failed to delete tenant index: %w", err)
	}

	s.logger.Debug("Deleted shared tier entries",
		zap.String("tenant_id", tenantID),
		zap.Int64("removed", removed))
	return removed, nil
}

// Ping checks the Redis connection
func (s *RedisTier) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// SetRetention changes how long expired entries are kept
func (s *RedisTier) SetRetention(d time.Duration) {
	s.retention.Store(int64(d))
}

// Close closes the Redis client
func (s *RedisTier) Close() error {
	return s.client.Close()
}
