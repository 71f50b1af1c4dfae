package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/credits/pkg/api"
	"github.com/platinummonkey/credits/pkg/auth"
	"github.com/platinummonkey/credits/pkg/config"
	"github.com/platinummonkey/credits/pkg/credits"
	"github.com/platinummonkey/credits/pkg/middleware"
	"github.com/platinummonkey/credits/pkg/observability"
	"github.com/platinummonkey/credits/pkg/storage"
)

var version = "dev"

// replicaCheckInterval is how often unreachable read replicas are dropped
const replicaCheckInterval = 30 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Fatalf("Invalid server configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "credits-server").
		WithField("version", version)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("credits-server stopped with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx := context.Background()

	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	var (
		registry *prometheus.Registry
		metrics  *observability.Metrics
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	backend, err := storage.Open(ctx, cfg.Storage, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	if registry != nil {
		observability.RegisterDBStats(registry, backend.Store.DB(), "primary")
	}

	opts := append(cfg.ServiceOptions(),
		credits.WithLogger(logger),
		credits.WithMetrics(metrics),
		credits.WithTracer(observability.Tracer()),
	)
	if backend.Cache != nil {
		opts = append(opts, credits.WithCache(backend.Cache))
	}
	svc := credits.NewService(backend.Store, opts...)

	authn, err := newAuthenticator(ctx, cfg.Security)
	if err != nil {
		backend.Close()
		return err
	}

	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()

	backend.Store.StartReplicaMonitor(bgCtx, replicaCheckInterval)

	var limiter middleware.Limiter
	if cfg.Server.RateLimitEnabled {
		if backend.Redis != nil {
			limiter = middleware.NewDistributedRateLimiter(backend.Redis, cfg.Server.RateLimit(), "credits:ratelimit:")
		} else {
			mem := middleware.NewRateLimiter(cfg.Server.RateLimit())
			mem.StartCleanup(bgCtx)
			limiter = mem
		}
	}

	apiCfg := api.DefaultConfig()
	apiCfg.CronSecret = cfg.Security.CronSecret
	apiCfg.AdminSecret = cfg.Security.AdminSecret
	apiCfg.WebhookSecret = cfg.Security.WebhookSecret
	apiCfg.AllowedOrigins = cfg.Server.AllowedOrigins
	apiCfg.GenerateUpstream = cfg.Server.GenerateUpstream
	apiCfg.GenerateCost = cfg.Server.GenerateCost
	apiCfg.MaxConsumeAmount = cfg.Server.MaxConsumeAmount
	apiCfg.RateLimitFailOpen = cfg.Server.RateLimitFailOpen
	apiCfg.MaxBodyBytes = cfg.Server.MaxBodyBytes
	apiCfg.ServiceName = cfg.Observability.OTelServiceName

	server, err := api.NewServer(apiCfg, api.Dependencies{
		Credits:       svc,
		Authenticator: authn,
		Limiter:       limiter,
		Health:        observability.NewHealthChecker(backend.Store.DB(), backend.Redis, version),
		Metrics:       metrics,
		Registry:      registry,
		Logger:        logger,
	})
	if err != nil {
		backend.Close()
		return fmt.Errorf("failed to build server: %w", err)
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		stopBackground()
		return backend.Close()
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var serveErr error
	go func() {
		logger.Infof("Starting credits server on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
			cancel()
		}
	}()

	if err := shutdown.WaitForShutdown(waitCtx); err != nil {
		return err
	}
	if serveErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serveErr)
	}
	logger.Info("credits server stopped")
	return nil
}

func newAuthenticator(ctx context.Context, sec config.SecurityConfig) (auth.Authenticator, error) {
	var authenticators []auth.Authenticator

	if sec.StaticTokens != "" {
		tokens, err := auth.ParseStaticTokens(sec.StaticTokens)
		if err != nil {
			return nil, fmt.Errorf("invalid static tokens: %w", err)
		}
		static, err := auth.NewStaticTokenAuthenticator(tokens)
		if err != nil {
			return nil, fmt.Errorf("invalid static tokens: %w", err)
		}
		authenticators = append(authenticators, static)
	}

	if sec.OIDCIssuer != "" {
		verifier, err := auth.NewOIDCAuthenticator(ctx, sec.OIDCIssuer, sec.OIDCClientID)
		if err != nil {
			return nil, fmt.Errorf("failed to discover OIDC issuer: %w", err)
		}
		authenticators = append(authenticators, verifier)
	}

	return auth.Chain(authenticators...), nil
}
