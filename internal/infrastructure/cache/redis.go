package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/config"
)

// RedisSharedStore keeps filter results in Redis so several API instances
// share one warm tier. Entries are JSON documents under KeyPrefix+hash and
// expire through Redis TTLs.
type RedisSharedStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisSharedStore connects to Redis and verifies the connection
func NewRedisSharedStore(cfg *config.RedisConfig, ttl time.Duration, logger *zap.Logger) (*RedisSharedStore, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	if ttl <= 0 {
		return nil, fmt.Errorf("ttl must be positive")
	}

	opts := &redis.Options{
		Addr:         cfg.URL,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	client := redis.NewClient(opts)

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("redis result store initialized",
		zap.String("addr", cfg.URL),
		zap.Int("db", cfg.DB),
		zap.String("prefix", cfg.KeyPrefix),
		zap.Duration("ttl", ttl))

	return &RedisSharedStore{
		client: client,
		prefix: cfg.KeyPrefix,
		ttl:    ttl,
		logger: logger,
	}, nil
}

// Get loads the entry for key. Redis failures and undecodable payloads are
// logged and reported as misses.
func (r *RedisSharedStore) Get(ctx context.Context, key string) (Entry, bool) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("redis get failed", zap.String("key", key), zap.Error(err))
		}
		return Entry{}, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		r.logger.Warn("discarding corrupt cache entry", zap.String("key", key), zap.Error(err))
		_ = r.client.Del(ctx, r.prefix+key).Err()
		return Entry{}, false
	}
	if entry.QueryHash != "" && entry.QueryHash != key {
		r.logger.Warn("discarding mismatched cache entry", zap.String("key", key), zap.String("query_hash", entry.QueryHash))
		return Entry{}, false
	}

	return entry, true
}

// Set stores entry under key with the store's TTL
func (r *RedisSharedStore) Set(ctx context.Context, key string, entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		r.logger.Error("json marshal failed", zap.String("key", key), zap.Error(err))
		return
	}

	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(); err != nil {
		r.logger.Warn("redis set failed",
			zap.String("key", key),
			zap.Duration("ttl", r.ttl),
			zap.Error(err))
	}
}

// Clear deletes every key under the store's prefix
func (r *RedisSharedStore) Clear(ctx context.Context) {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	keys := make([]string, 0, 100)
	flush := func() {
		if len(keys) == 0 {
			return
		}
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			r.logger.Warn("redis delete failed", zap.Int("keys", len(keys)), zap.Error(err))
		}
		keys = keys[:0]
	}

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == cap(keys) {
			flush()
		}
	}
	flush()

	if err := iter.Err(); err != nil {
		r.logger.Warn("redis scan failed", zap.String("prefix", r.prefix), zap.Error(err))
	}
}

// Ping checks connectivity
func (r *RedisSharedStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the cache connection
func (r *RedisSharedStore) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("redis close failed", zap.Error(err))
		return fmt.Errorf("redis close failed: %w", err)
	}

	r.logger.Info("redis result store connection closed")
	return nil
}
