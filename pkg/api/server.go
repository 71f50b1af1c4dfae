package api

import (
	"fmt"
	"net/http"
	stdhttputil "net/http/httputil"
	"net/url"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/credits/pkg/auth"
	"github.com/platinummonkey/credits/pkg/credits"
	"github.com/platinummonkey/credits/pkg/httputil"
	"github.com/platinummonkey/credits/pkg/middleware"
	"github.com/platinummonkey/credits/pkg/observability"
	"github.com/platinummonkey/credits/pkg/payments"
)

// Config holds the HTTP surface settings
type Config struct {
	// CronSecret protects the sweep trigger; empty disables it
	CronSecret string
	// AdminSecret protects admin routes; falls back to CronSecret when empty
	AdminSecret string
	// WebhookSecret verifies payment capture notifications; empty rejects them all
	WebhookSecret string
	// AllowedOrigins for browser clients; empty disables CORS headers
	AllowedOrigins []string
	// GenerateUpstream is proxied at /v1/generate behind a credit gate when set
	GenerateUpstream string
	// GenerateCost is the credits charged per generation request
	GenerateCost int64
	// MaxConsumeAmount caps a single consume request; zero or less disables the cap
	MaxConsumeAmount int64
	// RateLimitFailOpen admits requests when the limiter backend errors
	RateLimitFailOpen bool
	// MaxBodyBytes caps request bodies
	MaxBodyBytes int64
	// ServiceName names the otelhttp server spans
	ServiceName string
}

// DefaultConfig returns default HTTP settings
func DefaultConfig() Config {
	return Config{
		GenerateCost:      1,
		MaxConsumeAmount:  1000,
		RateLimitFailOpen: true,
		MaxBodyBytes:      1 << 20,
		ServiceName:       "credits-api",
	}
}

// Dependencies are the collaborators the server routes to
type Dependencies struct {
	Credits       *credits.Service
	Authenticator auth.Authenticator
	// Limiter rate-limits authenticated routes when set
	Limiter  middleware.Limiter
	Health   *observability.HealthChecker
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	Logger   *observability.Logger
}

// Server is the credits HTTP API
type Server struct {
	cfg     Config
	router  *mux.Router
	handler http.Handler
	logger  *observability.Logger

	creditHandlers  *CreditHandlers
	paymentHandlers *PaymentHandlers
	adminHandlers   *AdminHandlers
}

// NewServer creates the API server and wires its routes
func NewServer(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Credits == nil {
		return nil, fmt.Errorf("credits service is required")
	}
	if deps.Authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultConfig().ServiceName
	}
	if cfg.AdminSecret == "" {
		cfg.AdminSecret = cfg.CronSecret
	}

	s := &Server{
		cfg:             cfg,
		router:          mux.NewRouter(),
		logger:          deps.Logger.WithField("component", "api"),
		creditHandlers:  NewCreditHandlers(deps.Credits, cfg.MaxConsumeAmount),
		paymentHandlers: NewPaymentHandlers(payments.NewProcessor(deps.Credits, deps.Logger), cfg.WebhookSecret, deps.Logger),
		adminHandlers:   NewAdminHandlers(deps.Credits, deps.Logger),
	}

	if err := s.setupRoutes(deps); err != nil {
		return nil, err
	}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "route not found")
	})

	s.handler = httputil.Chain(
		httputil.RecoveryMiddleware(deps.Logger),
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(deps.Logger),
		httputil.MaxBytesMiddleware(cfg.MaxBodyBytes),
	)(s.router)

	if len(cfg.AllowedOrigins) > 0 {
		s.handler = cors.New(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", httputil.RequestIDHeader},
			ExposedHeaders:   []string{httputil.RequestIDHeader, middleware.RemainingHeader, "Retry-After"},
			AllowCredentials: true,
			MaxAge:           3600,
		}).Handler(s.handler)
	}

	s.handler = otelhttp.NewHandler(s.handler, cfg.ServiceName)
	return s, nil
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(deps Dependencies) error {
	if deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	}

	if deps.Health != nil {
		observability.RegisterHealthRoutes(s.router, deps.Health)
	}
	if deps.Registry != nil {
		observability.RegisterMetricsEndpoint(s.router, deps.Registry)
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.Use(httputil.ContentTypeMiddleware)

	// Payment provider and scheduler authenticate with shared secrets, not user tokens
	s.paymentHandlers.RegisterRoutes(v1)

	cron := v1.PathPrefix("/cron").Subrouter()
	cron.Use(middleware.SecretAuth(s.cfg.CronSecret, deps.Logger))
	s.adminHandlers.RegisterCronRoutes(cron)

	admin := v1.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.SecretAuth(s.cfg.AdminSecret, deps.Logger))
	s.adminHandlers.RegisterRoutes(admin)

	// Everything else acts on behalf of the signed-in user
	user := v1.NewRoute().Subrouter()
	user.Use(middleware.NewAuthMiddleware(deps.Authenticator, false, deps.Logger).Handler)
	user.Use(middleware.RequireUser)
	if deps.Limiter != nil {
		limit := middleware.NewRateLimitMiddleware(deps.Limiter, deps.Logger)
		limit.SetFailOpen(s.cfg.RateLimitFailOpen)
		user.Use(limit.Handler)
	}
	s.creditHandlers.RegisterRoutes(user)

	if s.cfg.GenerateUpstream != "" {
		proxy, err := newUpstreamProxy(s.cfg.GenerateUpstream, s.logger)
		if err != nil {
			return err
		}
		gate := middleware.NewCreditGate(deps.Credits, s.cfg.GenerateCost, deps.Logger)
		user.Handle("/generate", gate.Handler(proxy)).Methods(http.MethodPost)
		s.logger.WithField("cost", gate.Cost()).Infof("Proxying /v1/generate to %s", s.cfg.GenerateUpstream)
	}

	return nil
}

// newUpstreamProxy forwards gated requests to the paid upstream
func newUpstreamProxy(rawURL string, logger *observability.Logger) (http.Handler, error) {
	target, err := url.Parse(rawURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid generate upstream URL %q", rawURL)
	}

	proxy := &stdhttputil.ReverseProxy{
		Rewrite: func(r *stdhttputil.ProxyRequest) {
			r.SetURL(target)
			r.Out.URL.Path = target.Path
			r.Out.URL.RawPath = ""
			r.SetXForwarded()
			// The upstream trusts this service, not the end user's token
			r.Out.Header.Del("Authorization")
			r.Out.Header.Set("X-Credits-User", middleware.UserID(r.In))
			r.Out.Header.Del("X-Credits-User-Email")
			if identity := middleware.GetIdentity(r.In); identity != nil && identity.Email != "" {
				r.Out.Header.Set("X-Credits-User-Email", identity.Email)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.WithError(err).WithField("user_id", middleware.UserID(r)).Error("Generate upstream failed")
			httputil.WriteErrorMessage(w, http.StatusBadGateway, "generation upstream unavailable")
		},
	}
	return proxy, nil
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}
