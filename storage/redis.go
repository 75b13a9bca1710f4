package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"obuoy/core"
	"obuoy/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// maxCacheValueSize bounds a single cached value
const maxCacheValueSize = 10 * 1024 * 1024

// Cache keys
const (
	CacheKeyMarkers = "obuoy:markers"
)

// RedisCache provides a Redis-based cache shared between instances
type RedisCache struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(addr, password string, db, poolSize int, logger *zap.SugaredLogger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	return &RedisCache{
		client: client,
		logger: logger,
	}
}

// Ping tests the Redis connection
func (rc *RedisCache) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// Set stores a value as JSON with expiration
func (rc *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("redis", "marshal").Inc()
		return fmt.Errorf("failed to marshal cache value for %s: %w", key, err)
	}

	if len(data) > maxCacheValueSize {
		rc.logger.Warnw("Cache value exceeds size limit, rejecting",
			"key", key,
			"size", len(data),
			"limit", maxCacheValueSize)
		metrics.CacheErrors.WithLabelValues("redis", "size_limit").Inc()
		return fmt.Errorf("cache value size %d bytes exceeds maximum allowed size %d bytes", len(data), maxCacheValueSize)
	}

	if err := rc.client.Set(ctx, key, data, expiration).Err(); err != nil {
		metrics.CacheErrors.WithLabelValues("redis", "set").Inc()
		return err
	}
	return nil
}

// Get decodes the value stored under key into dest. It reports false when
// the key does not exist.
func (rc *RedisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := rc.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.CacheMisses.WithLabelValues("redis").Inc()
			return false, nil
		}
		metrics.CacheErrors.WithLabelValues("redis", "get").Inc()
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		metrics.CacheErrors.WithLabelValues("redis", "unmarshal").Inc()
		return false, fmt.Errorf("failed to unmarshal cache value for %s: %w", key, err)
	}

	metrics.CacheHits.WithLabelValues("redis").Inc()
	return true, nil
}

// Delete removes a key from the cache
func (rc *RedisCache) Delete(ctx context.Context, key string) error {
	return rc.client.Del(ctx, key).Err()
}

// MarkerCache stores the rendered marker list in Redis
type MarkerCache struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewMarkerCache creates a marker cache with the given expiry
func NewMarkerCache(rc *RedisCache, ttl time.Duration) *MarkerCache {
	return &MarkerCache{redis: rc, ttl: ttl}
}

// Get returns the cached markers, if any
func (mc *MarkerCache) Get(ctx context.Context) ([]core.Marker, bool, error) {
	var markers []core.Marker
	found, err := mc.redis.Get(ctx, CacheKeyMarkers, &markers)
	if err != nil || !found {
		return nil, false, err
	}
	return markers, true, nil
}

// Set caches markers
func (mc *MarkerCache) Set(ctx context.Context, markers []core.Marker) error {
	return mc.redis.Set(ctx, CacheKeyMarkers, markers, mc.ttl)
}

// Invalidate drops the cached markers
func (mc *MarkerCache) Invalidate(ctx context.Context) error {
	return mc.redis.Delete(ctx, CacheKeyMarkers)
}
