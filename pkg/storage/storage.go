package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/credits/pkg/credits"
	"github.com/platinummonkey/credits/pkg/observability"
	"github.com/platinummonkey/credits/pkg/storage/cache"
	"github.com/platinummonkey/credits/pkg/storage/sqlstore"
)

// Backend is an opened store plus its optional cache
type Backend struct {
	Store *sqlstore.Store
	// Cache is nil when caching is disabled
	Cache credits.BalanceCache
	// Redis is the client behind a redis cache, for health checks
	Redis *redis.Client
}

// Open connects the store described by cfg and builds its cache
func Open(ctx context.Context, cfg Config, logger *observability.Logger, metrics *observability.Metrics) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid storage config: %w", err)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	dialect, _ := sqlstore.ParseDialect(cfg.Driver)
	store, err := sqlstore.Open(cfg.connectionConfig(dialect),
		sqlstore.WithRetry(cfg.retryConfig()),
		sqlstore.WithLogger(logger),
		sqlstore.WithMetrics(metrics),
	)
	if err != nil {
		return nil, err
	}

	backend := &Backend{Store: store}

	if cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			backend.Close()
			return nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
	}

	switch cfg.Cache {
	case CacheMemory:
		backend.Cache = cache.NewMemoryCache(cfg.CacheSize, cfg.CacheTTL)
	case CacheRedis:
		client, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			URL:        cfg.RedisURL,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			MaxRetries: cfg.RedisMaxRetries,
			PoolSize:   cfg.RedisPoolSize,
		})
		if err != nil {
			backend.Close()
			return nil, err
		}
		backend.Redis = client
		backend.Cache = cache.NewRedisCache(client, cfg.CacheTTL)
	}

	logger.WithFields(map[string]interface{}{
		"driver": string(dialect),
		"cache":  cacheName(backend.Cache),
	}).Info("storage backend opened")

	return backend, nil
}

func cacheName(c credits.BalanceCache) string {
	if c == nil {
		return CacheNone
	}
	return c.Name()
}

// Close closes the redis client and the database connections
func (b *Backend) Close() error {
	var errs []error
	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}
	if b.Store != nil {
		if err := b.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
