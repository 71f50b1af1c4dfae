// Package config loads service configuration from the environment.
//
// An optional .env file is read first (CREDITS_ENV_FILE overrides its path) and
// variables already present in the process environment take precedence. Every
// variable carries the CREDITS_ prefix.
//
// Server settings:
//
//	CREDITS_HOST="0.0.0.0"
//	CREDITS_PORT="8080"
//	CREDITS_ALLOWED_ORIGINS="https://app.example.com"
//	CREDITS_GENERATE_UPSTREAM="http://generator:8000/api/generate"
//	CREDITS_GENERATE_COST="1"
//	CREDITS_MAX_CONSUME_AMOUNT="1000"
//	CREDITS_RATE_LIMIT_REQUESTS="120"
//	CREDITS_RATE_LIMIT_FAIL_OPEN="true"
//
// Storage settings:
//
//	CREDITS_STORAGE_DRIVER="postgres"  # postgres, sqlite
//	CREDITS_DATABASE_URL="postgres://localhost/credits"
//	CREDITS_CACHE="redis"              # none, memory, redis
//	CREDITS_REDIS_URL="redis://localhost:6379/0"
//
// Security settings:
//
//	CREDITS_OIDC_ISSUER="https://accounts.example.com"
//	CREDITS_OIDC_CLIENT_ID="credits-web"
//	CREDITS_STATIC_TOKENS="credits_xxxxxxxxxxxxxxxx:service-user"
//	CREDITS_CRON_SECRET="..."
//	CREDITS_WEBHOOK_SECRET="..."
//
// Credits and sweeper settings:
//
//	CREDITS_FREE_CREDITS="10"
//	CREDITS_PRICING_FILE="/etc/credits/pricing.yaml"
//	CREDITS_SWEEP_SCHEDULE="@hourly"
//	CREDITS_SWEEP_WORKERS="4"
//
// Observability settings:
//
//	CREDITS_LOG_LEVEL="info"  # debug, info, warn, error
//	CREDITS_METRICS_ENABLED="true"
//	CREDITS_OTEL_ENABLED="true"
//	CREDITS_OTEL_ENDPOINT="otel-collector:4317"
//
// Usage:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(cfg.Server.Addr(), cfg.Storage.Driver)
package config
