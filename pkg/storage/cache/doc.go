// Package cache provides credits.BalanceCache implementations.
//
// MemoryCache is a per-process expirable LRU. RedisCache shares entries
// between server replicas. Both are read caches for the balance endpoint only;
// the credits service invalidates an entry after every committed mutation and
// never consults the cache when deciding a debit, grant or expiry.
package cache
