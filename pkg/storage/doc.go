// Package storage assembles the ledger backend from configuration.
//
// Open connects the credits.Store implementation in sqlstore to PostgreSQL or
// SQLite, optionally applies the schema, and builds the configured balance
// cache:
//
//	backend, err := storage.Open(ctx, storage.Config{
//		Driver:      "postgres",
//		URL:         "postgres://localhost/credits?sslmode=disable",
//		MaxConns:    20,
//		Cache:       storage.CacheRedis,
//		RedisURL:    "redis://localhost:6379/0",
//		CacheTTL:    30 * time.Second,
//	}, logger, metrics)
//	if err != nil {
//		return err
//	}
//	defer backend.Close()
//
//	svc := credits.NewService(backend.Store, credits.WithCache(backend.Cache))
//
// The cache is a read cache for balance lookups only; see package cache.
package storage
