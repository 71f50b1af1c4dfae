package storage

import (
	"fmt"
	"time"

	"github.com/platinummonkey/credits/pkg/storage/sqlstore"
)

// Cache backends
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config for the ledger backend
type Config struct {
	// Driver is "postgres" or "sqlite"
	Driver      string
	URL         string
	ReplicaURLs []string

	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration

	// AutoMigrate applies the schema on Open
	AutoMigrate bool

	// Conflict retry policy for WithUserTx
	MaxRetries   uint64
	RetryInitial time.Duration
	RetryMax     time.Duration

	// Cache config
	Cache     string
	CacheTTL  time.Duration
	CacheSize int

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	retry := sqlstore.DefaultRetryConfig()
	return Config{
		Driver:          "sqlite",
		URL:             "credits.db",
		MaxConns:        20,
		MinConns:        2,
		Timeout:         10 * time.Second,
		MaxLifetime:     30 * time.Minute,
		MaxIdleTime:     5 * time.Minute,
		AutoMigrate:     true,
		MaxRetries:      retry.MaxRetries,
		RetryInitial:    retry.InitialInterval,
		RetryMax:        retry.MaxInterval,
		Cache:           CacheNone,
		CacheTTL:        30 * time.Second,
		CacheSize:       10000,
		RedisMaxRetries: 3,
		RedisPoolSize:   10,
	}
}

// Validate checks the backend settings
func (c Config) Validate() error {
	if _, err := sqlstore.ParseDialect(c.Driver); err != nil {
		return err
	}
	if c.URL == "" {
		return fmt.Errorf("storage URL is required")
	}
	if c.MaxConns < 0 || c.MinConns < 0 {
		return fmt.Errorf("connection limits must not be negative")
	}
	if c.MaxConns > 0 && c.MinConns > c.MaxConns {
		return fmt.Errorf("min connections (%d) exceed max connections (%d)", c.MinConns, c.MaxConns)
	}

	switch c.Cache {
	case "", CacheNone, CacheMemory:
	case CacheRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis cache")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache)
	}
	if c.Cache != "" && c.Cache != CacheNone && c.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	return nil
}

func (c Config) connectionConfig(d sqlstore.Dialect) sqlstore.ConnectionConfig {
	return sqlstore.ConnectionConfig{
		Dialect:     d,
		PrimaryURL:  c.URL,
		ReplicaURLs: c.ReplicaURLs,
		MaxConns:    c.MaxConns,
		MinConns:    c.MinConns,
		Timeout:     c.Timeout,
		MaxLifetime: c.MaxLifetime,
		MaxIdleTime: c.MaxIdleTime,
	}
}

func (c Config) retryConfig() sqlstore.RetryConfig {
	retry := sqlstore.DefaultRetryConfig()
	if c.MaxRetries > 0 {
		retry.MaxRetries = c.MaxRetries
	}
	if c.RetryInitial > 0 {
		retry.InitialInterval = c.RetryInitial
	}
	if c.RetryMax > 0 {
		retry.MaxInterval = c.RetryMax
	}
	return retry
}
