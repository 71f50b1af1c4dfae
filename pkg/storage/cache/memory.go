package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/credits/pkg/credits"
)

const (
	defaultMemoryEntries = 10000
	defaultTTL           = 30 * time.Second
)

// MemoryCache is an in-process LRU of balances with a fixed TTL
type MemoryCache struct {
	cache *lru.LRU[string, credits.Balance]
}

var _ credits.BalanceCache = (*MemoryCache)(nil)

// NewMemoryCache creates a cache holding at most size balances for ttl each
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = defaultMemoryEntries
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &MemoryCache{
		cache: lru.NewLRU[string, credits.Balance](size, nil, ttl),
	}
}

// Values are stored by value so callers cannot mutate cached entries
func (c *MemoryCache) Get(_ context.Context, userID string) (*credits.Balance, bool, error) {
	b, ok := c.cache.Get(userID)
	if !ok {
		return nil, false, nil
	}
	return &b, true, nil
}

func (c *MemoryCache) Set(_ context.Context, b *credits.Balance) error {
	if b == nil || b.UserID == "" {
		return ErrInvalidBalance
	}
	c.cache.Add(b.UserID, *b)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, userID string) error {
	c.cache.Remove(userID)
	return nil
}

// Len returns the number of live entries
func (c *MemoryCache) Len() int {
	return c.cache.Len()
}

func (c *MemoryCache) Name() string {
	return "memory"
}
