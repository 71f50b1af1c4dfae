package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/credits/pkg/credits"
)

func sqliteConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.URL = filepath.Join(t.TempDir(), "credits.db")
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Driver = "mysql" }, "unsupported storage driver"},
		{"missing url", func(c *Config) { c.URL = "" }, "storage URL is required"},
		{"min over max", func(c *Config) { c.MinConns = 50 }, "exceed max connections"},
		{"redis without url", func(c *Config) { c.Cache = CacheRedis }, "redis URL is required"},
		{"unknown cache", func(c *Config) { c.Cache = "memcached" }, "unknown cache backend"},
		{"memory without ttl", func(c *Config) { c.Cache = CacheMemory; c.CacheTTL = 0 }, "cache TTL must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfig_RetryConfigOverrides(t *testing.T) {
	cfg := Config{MaxRetries: 9, RetryInitial: time.Second}
	retry := cfg.retryConfig()
	assert.Equal(t, uint64(9), retry.MaxRetries)
	assert.Equal(t, time.Second, retry.InitialInterval)
	assert.Equal(t, 500*time.Millisecond, retry.MaxInterval)
}

func TestOpen_SQLiteWithoutCache(t *testing.T) {
	backend, err := Open(context.Background(), sqliteConfig(t), nil, nil)
	require.NoError(t, err)
	defer backend.Close()

	assert.Nil(t, backend.Cache)
	assert.Nil(t, backend.Redis)
	assert.NoError(t, backend.Store.Ping(context.Background()))

	_, err = backend.Store.GetBalance(context.Background(), "nobody")
	assert.ErrorIs(t, err, credits.ErrNotFound, "schema was migrated")
}

func TestOpen_MemoryCache(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Cache = CacheMemory

	backend, err := Open(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	defer backend.Close()

	require.NotNil(t, backend.Cache)
	assert.Equal(t, "memory", backend.Cache.Name())
}

func TestOpen_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := sqliteConfig(t)
	cfg.Cache = CacheRedis
	cfg.RedisURL = "redis://" + mr.Addr()

	backend, err := Open(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	defer backend.Close()

	require.NotNil(t, backend.Redis)
	assert.Equal(t, "redis", backend.Cache.Name())
}

func TestOpen_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := sqliteConfig(t)
	cfg.Cache = CacheRedis
	cfg.RedisURL = "redis://" + addr

	_, err := Open(context.Background(), cfg, nil, nil)
	assert.ErrorContains(t, err, "failed to connect to redis")
}

func TestOpen_InvalidConfig(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle", URL: "x"}, nil, nil)
	assert.ErrorContains(t, err, "invalid storage config")
}

func TestOpen_UnreachableDatabase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = filepath.Join(t.TempDir(), "no", "such", "dir", "credits.db")

	_, err := Open(context.Background(), cfg, nil, nil)
	assert.ErrorIs(t, err, credits.ErrStoreUnavailable)
}
