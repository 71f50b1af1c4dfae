// Package middleware provides HTTP middleware for authentication, credit gating, and rate limiting.
//
// # Middleware Components
//
// AuthMiddleware: Bearer token authentication
//
//	authMW := middleware.NewAuthMiddleware(authenticator, false, logger)
//	router.Use(authMW.Handler)
//	// Verifies the token, puts the user ID and *auth.Identity in the request context
//
// CreditGate: charge credits before a paid operation runs
//
//	gate := middleware.NewCreditGate(creditService, 1, logger)
//	router.Handle("/v1/generate", gate.Handler(generator))
//	// 402 {"error":"insufficient_credits","remaining":0} when the balance is short
//
// SecretAuth: shared-secret protection for scheduler and admin endpoints
//
//	router.Use(middleware.SecretAuth(cfg.CronSecret, logger))
//
// RateLimitMiddleware: per-user (or per-IP) request limits
//
//	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
//	// or, shared across replicas:
//	limiter := middleware.NewDistributedRateLimiter(redisClient, cfg, "ratelimit:api")
//	router.Use(middleware.NewRateLimitMiddleware(limiter, logger).Handler)
//
// # Ordering
//
// CreditGate and the per-user rate limit read the user ID set by
// AuthMiddleware, so they must be mounted inside it:
//
//	api.Use(authMW.Handler)         // 1. sets user ID
//	api.Use(rateLimit.Handler)      // 2. keys on user ID
//	api.Handle(path, gate.Handler(h)) // 3. charges the user
//
// A CreditGate that finds no user ID answers 401 rather than letting the
// request through for free.
//
// # Related Packages
//
//   - pkg/auth: Authenticators
//   - pkg/credits: Require, used by CreditGate
//   - pkg/httputil: JSON responses and error mapping
package middleware
