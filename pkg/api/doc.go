// Package api provides the HTTP API for the credits service.
//
// # Routes
//
// Authenticated (bearer ID token, see pkg/auth):
//
//	POST /v1/account/init            grant free credits on first sign-in (idempotent)
//	GET  /v1/credits                 current balance
//	GET  /v1/credits/transactions    ledger history, newest first (?limit=)
//	GET  /v1/credits/subscriptions   captured payments, newest first (?limit=)
//	POST /v1/credits/consume         {"amount":n}; 402 insufficient_credits when short
//	POST /v1/generate                proxied to the generation upstream after charging one credit
//
// Payment provider (X-Credits-Signature HMAC of the body):
//
//	POST /v1/payments/captured       apply a captured payment
//
// Scheduler and operators (Authorization: Bearer <secret>):
//
//	GET|POST /v1/cron/expire-credits        run the expiration sweep
//	GET      /v1/admin/ledger/{userID}/verify compare ledger sum with the stored total
//
// Operational: /health, /health/live, /health/ready, /metrics.
//
// # Usage
//
//	server, err := api.NewServer(cfg, api.Dependencies{
//		Credits:       creditService,
//		Authenticator: authenticator,
//		Logger:        logger,
//	})
//	http.ListenAndServe(":8080", server)
//
// # Related Packages
//
//   - pkg/credits: Ledger operations
//   - pkg/payments: Capture notifications
//   - pkg/middleware: Auth, CreditGate, rate limiting
package api
