package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/credits/pkg/credits"
)

const defaultKeyPrefix = "credits:balance:"

// RedisConfig holds the connection settings for NewRedisClient
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// NewRedisClient parses the URL, applies overrides and pings the server
func NewRedisClient(ctx context.Context, config RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.Password != "" {
		opts.Password = config.Password
	}
	if config.DB > 0 {
		opts.DB = config.DB
	}
	if config.MaxRetries > 0 {
		opts.MaxRetries = config.MaxRetries
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// RedisCache stores balances as JSON under a key prefix with a TTL
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ credits.BalanceCache = (*RedisCache)(nil)

// NewRedisCache wraps a connected client. The caller owns the client.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisCache{
		client: client,
		prefix: defaultKeyPrefix,
		ttl:    ttl,
	}
}

func (c *RedisCache) key(userID string) string {
	return c.prefix + userID
}

func (c *RedisCache) Get(ctx context.Context, userID string) (*credits.Balance, bool, error) {
	key := c.key(userID)

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var b credits.Balance
	if err := json.Unmarshal(data, &b); err != nil {
		// drop corrupt entries so the next read repopulates them
		c.client.Del(ctx, key)
		return nil, false, fmt.Errorf("failed to unmarshal balance: %w", err)
	}
	if err := b.Validate(); err != nil {
		c.client.Del(ctx, key)
		return nil, false, err
	}
	return &b, true, nil
}

func (c *RedisCache) Set(ctx context.Context, b *credits.Balance) error {
	if b == nil || b.UserID == "" {
		return ErrInvalidBalance
	}

	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal balance: %w", err)
	}
	return c.client.Set(ctx, c.key(b.UserID), data, c.ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, userID string) error {
	return c.client.Del(ctx, c.key(userID)).Err()
}

func (c *RedisCache) Name() string {
	return "redis"
}
