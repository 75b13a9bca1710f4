package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"obuoy/config"
	"obuoy/storage"

	"go.uber.org/zap"
)

// StorageComponents holds the connected stores. Redis is nil when disabled.
type StorageComponents struct {
	MongoDB      *storage.MongoDB
	Buoys        *storage.BuoyStorage
	Observations *storage.ObservationStorage
	Redis        *storage.RedisCache
}

// StorageFunc connects the stores. uri is the resolved MongoDB connection
// string.
type StorageFunc func(ctx context.Context, cfg *config.Config, uri string, sugar *zap.SugaredLogger) (*StorageComponents, error)

// Close releases every connection
func (sc *StorageComponents) Close(ctx context.Context, sugar *zap.SugaredLogger) {
	if sc == nil {
		return
	}
	if sc.Redis != nil {
		if err := sc.Redis.Close(); err != nil {
			sugar.Errorw("Failed to close Redis connection", "error", err)
		}
	}
	if sc.MongoDB != nil {
		if err := sc.MongoDB.Close(ctx); err != nil {
			sugar.Errorw("Failed to close MongoDB connection", "error", err)
		}
	}
}

// InitStorage connects MongoDB and, when enabled, Redis
func InitStorage(ctx context.Context, cfg *config.Config, uri string, sugar *zap.SugaredLogger) (*StorageComponents, error) {
	mongoDB, err := InitMongoDB(ctx, cfg, uri, sugar)
	if err != nil {
		return nil, err
	}

	sc := &StorageComponents{
		MongoDB:      mongoDB,
		Buoys:        storage.NewBuoyStorage(mongoDB),
		Observations: storage.NewObservationStorage(mongoDB),
	}

	if err := sc.Buoys.EnsureIndexes(ctx); err != nil {
		sc.Close(context.Background(), sugar)
		return nil, fmt.Errorf("failed to create buoy indexes: %w", err)
	}
	if err := sc.Observations.EnsureIndexes(ctx); err != nil {
		sc.Close(context.Background(), sugar)
		return nil, fmt.Errorf("failed to create observation indexes: %w", err)
	}

	if cfg.Cache.Redis.Enabled {
		redisCache, err := InitRedis(ctx, cfg, sugar)
		if err != nil {
			if !cfg.IsGracefulMode() {
				sc.Close(context.Background(), sugar)
				return nil, err
			}
			sugar.Warnw("Continuing without the shared marker cache", "error", err)
		} else {
			sc.Redis = redisCache
		}
	}

	return sc, nil
}

// InitMongoDB connects to MongoDB with retries
func InitMongoDB(ctx context.Context, cfg *config.Config, uri string, sugar *zap.SugaredLogger) (*storage.MongoDB, error) {
	const maxRetries = 3
	retryDelays := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

	var mongoDB *storage.MongoDB
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			sugar.Infow("Retrying MongoDB connection",
				"attempt", attempt,
				"max_retries", maxRetries,
				"delay", retryDelays[attempt-1])
			select {
			case <-time.After(retryDelays[attempt-1]):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		mongoDB, lastErr = storage.NewMongoDB(ctx, uri, cfg.MongoDB.Database, cfg.MongoDB.MaxPoolSize, cfg.MongoDB.Timeout, sugar)
		if lastErr == nil {
			break
		}

		sugar.Warnw("MongoDB connection attempt failed",
			"attempt", attempt+1,
			"error", lastErr)
	}

	if lastErr != nil {
		errMsg := ClassifyConnectionError(lastErr, "MongoDB", redactURI(uri))
		fmt.Fprintf(os.Stderr, "\n========================================\n")
		fmt.Fprintf(os.Stderr, "MongoDB Connection Failed\n")
		fmt.Fprintf(os.Stderr, "========================================\n")
		fmt.Fprintf(os.Stderr, "%s\n", errMsg)
		fmt.Fprintf(os.Stderr, "========================================\n\n")
		return nil, fmt.Errorf("failed to connect to MongoDB after %d attempts: %w", maxRetries+1, lastErr)
	}

	return mongoDB, nil
}

// InitRedis connects the shared cache
func InitRedis(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*storage.RedisCache, error) {
	rc := storage.NewRedisCache(cfg.Cache.Redis.Addr, cfg.Cache.Redis.Password, cfg.Cache.Redis.DB, cfg.Cache.Redis.PoolSize, sugar)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %s", ClassifyConnectionError(err, "Redis", cfg.Cache.Redis.Addr))
	}

	sugar.Infow("Connected to Redis", "addr", cfg.Cache.Redis.Addr)
	return rc, nil
}
