package config

import (
	"github.com/platinummonkey/credits/pkg/credits"
	"github.com/platinummonkey/credits/pkg/middleware"
)

// ServiceOptions returns the credits.Service options implied by the configuration.
// Logger, metrics, tracer and cache are added by the caller.
func (c *Config) ServiceOptions() []credits.Option {
	return []credits.Option{
		credits.WithPricing(c.Pricing),
		credits.WithFreeCredits(c.FreeCredits),
		credits.WithSweepOptions(c.Sweeper.BatchSize, c.Sweeper.Workers),
	}
}

// RateLimit converts the server settings for the rate limiters
func (s ServerConfig) RateLimit() *middleware.RateLimitConfig {
	return &middleware.RateLimitConfig{
		RequestsPerWindow: s.RateLimitRequests,
		WindowDuration:    s.RateLimitWindow,
		BurstSize:         s.RateLimitBurst,
	}
}
