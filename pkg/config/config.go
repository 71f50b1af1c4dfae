package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/credits/pkg/credits"
	"github.com/platinummonkey/credits/pkg/observability"
	"github.com/platinummonkey/credits/pkg/storage"
	"github.com/platinummonkey/credits/pkg/storage/sqlstore"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "CREDITS"

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration, including the balance cache
	Storage storage.Config

	// Security holds authentication settings and shared secrets
	Security SecurityConfig

	// Pricing is the price table applied to captured payments
	Pricing credits.Pricing

	// FreeCredits is granted once when an account is created
	FreeCredits int64

	// Sweeper configuration
	Sweeper SweeperConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	AllowedOrigins []string
	MaxBodyBytes   int64

	// GenerateUpstream enables the credit-gated proxy at /v1/generate
	GenerateUpstream string
	GenerateCost     int64

	// MaxConsumeAmount caps one /v1/credits/consume request; 0 disables the cap
	MaxConsumeAmount int64

	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
	RateLimitBurst    int
	// RateLimitFailOpen admits requests when the limiter backend is unreachable
	RateLimitFailOpen bool
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, s.Port)
}

// SecurityConfig holds authentication settings
type SecurityConfig struct {
	OIDCIssuer   string
	OIDCClientID string

	// StaticTokens is a comma separated list of token:user pairs
	StaticTokens string

	CronSecret    string
	AdminSecret   string
	WebhookSecret string
}

// HasAuthenticator reports whether any bearer authenticator is configured
func (s SecurityConfig) HasAuthenticator() bool {
	return s.OIDCIssuer != "" || s.StaticTokens != ""
}

// SweeperConfig controls the expiration sweep
type SweeperConfig struct {
	// Schedule is a standard cron expression or descriptor such as @hourly
	Schedule  string
	BatchSize int
	Workers   int
	// Timeout bounds a single sweep run
	Timeout time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// OTel converts the settings for observability.InitOTel
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// environment is the flat variable layout read by envconfig
type environment struct {
	Host             string        `envconfig:"HOST" default:"0.0.0.0"`
	Port             string        `envconfig:"PORT" default:"8080"`
	ReadTimeout      time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout     time.Duration `envconfig:"WRITE_TIMEOUT" default:"60s"`
	IdleTimeout      time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout  time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	AllowedOrigins   []string      `envconfig:"ALLOWED_ORIGINS"`
	MaxBodyBytes     int64         `envconfig:"MAX_BODY_BYTES" default:"1048576"`
	GenerateUpstream string        `envconfig:"GENERATE_UPSTREAM"`
	GenerateCost     int64         `envconfig:"GENERATE_COST" default:"1"`
	MaxConsumeAmount int64         `envconfig:"MAX_CONSUME_AMOUNT" default:"1000"`

	RateLimitEnabled  bool          `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"120"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
	RateLimitBurst    int           `envconfig:"RATE_LIMIT_BURST" default:"20"`
	RateLimitFailOpen bool          `envconfig:"RATE_LIMIT_FAIL_OPEN" default:"true"`

	StorageDriver   string        `envconfig:"STORAGE_DRIVER" default:"sqlite"`
	DatabaseURL     string        `envconfig:"DATABASE_URL" default:"credits.db"`
	ReplicaURLs     string        `envconfig:"DATABASE_REPLICA_URLS"`
	MaxConns        int           `envconfig:"DATABASE_MAX_CONNS" default:"20"`
	MinConns        int           `envconfig:"DATABASE_MIN_CONNS" default:"2"`
	DatabaseTimeout time.Duration `envconfig:"DATABASE_TIMEOUT" default:"10s"`
	AutoMigrate     bool          `envconfig:"AUTO_MIGRATE" default:"true"`
	MaxRetries      uint64        `envconfig:"STORE_MAX_RETRIES"`
	RetryInitial    time.Duration `envconfig:"STORE_RETRY_INITIAL"`
	RetryMax        time.Duration `envconfig:"STORE_RETRY_MAX"`

	Cache           string        `envconfig:"CACHE" default:"none"`
	CacheTTL        time.Duration `envconfig:"CACHE_TTL" default:"30s"`
	CacheSize       int           `envconfig:"CACHE_SIZE" default:"10000"`
	RedisURL        string        `envconfig:"REDIS_URL"`
	RedisPassword   string        `envconfig:"REDIS_PASSWORD"`
	RedisDB         int           `envconfig:"REDIS_DB" default:"0"`
	RedisMaxRetries int           `envconfig:"REDIS_MAX_RETRIES" default:"3"`
	RedisPoolSize   int           `envconfig:"REDIS_POOL_SIZE" default:"10"`

	OIDCIssuer    string `envconfig:"OIDC_ISSUER"`
	OIDCClientID  string `envconfig:"OIDC_CLIENT_ID"`
	StaticTokens  string `envconfig:"STATIC_TOKENS"`
	CronSecret    string `envconfig:"CRON_SECRET"`
	AdminSecret   string `envconfig:"ADMIN_SECRET"`
	WebhookSecret string `envconfig:"WEBHOOK_SECRET"`

	PricingFile string `envconfig:"PRICING_FILE"`
	FreeCredits int64  `envconfig:"FREE_CREDITS" default:"10"`

	SweepSchedule  string        `envconfig:"SWEEP_SCHEDULE" default:"@hourly"`
	SweepBatchSize int           `envconfig:"SWEEP_BATCH_SIZE" default:"500"`
	SweepWorkers   int           `envconfig:"SWEEP_WORKERS" default:"4"`
	SweepTimeout   time.Duration `envconfig:"SWEEP_TIMEOUT" default:"10m"`

	LogLevel           string  `envconfig:"LOG_LEVEL" default:"info"`
	MetricsEnabled     bool    `envconfig:"METRICS_ENABLED" default:"true"`
	OTelEnabled        bool    `envconfig:"OTEL_ENABLED" default:"false"`
	OTelEndpoint       string  `envconfig:"OTEL_ENDPOINT" default:"localhost:4317"`
	OTelServiceName    string  `envconfig:"OTEL_SERVICE_NAME" default:"credits"`
	OTelServiceVersion string  `envconfig:"OTEL_SERVICE_VERSION" default:"1.0.0"`
	OTelInsecure       bool    `envconfig:"OTEL_INSECURE" default:"true"`
	OTelSampleRatio    float64 `envconfig:"OTEL_SAMPLE_RATIO" default:"1"`
}

// LoadConfig loads an optional .env file and then the environment.
// CREDITS_ENV_FILE overrides the .env location. Variables already set win over the file.
func LoadConfig() (*Config, error) {
	if err := loadDotEnv(os.Getenv(EnvPrefix + "_ENV_FILE")); err != nil {
		return nil, err
	}
	return FromEnv()
}

// FromEnv builds and validates configuration from environment variables only
func FromEnv() (*Config, error) {
	var env environment
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg, err := env.config()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if path == "" {
		// The default file is optional
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func (e environment) config() (*Config, error) {
	pricing := credits.DefaultPricing()
	if e.PricingFile != "" {
		p, err := LoadPricing(e.PricingFile)
		if err != nil {
			return nil, err
		}
		pricing = p
	}

	storageCfg := storage.DefaultConfig()
	storageCfg.Driver = strings.ToLower(e.StorageDriver)
	storageCfg.URL = e.DatabaseURL
	storageCfg.ReplicaURLs = sqlstore.ParseReplicaURLs(e.ReplicaURLs)
	storageCfg.MaxConns = e.MaxConns
	storageCfg.MinConns = e.MinConns
	storageCfg.Timeout = e.DatabaseTimeout
	storageCfg.AutoMigrate = e.AutoMigrate
	if e.MaxRetries > 0 {
		storageCfg.MaxRetries = e.MaxRetries
	}
	if e.RetryInitial > 0 {
		storageCfg.RetryInitial = e.RetryInitial
	}
	if e.RetryMax > 0 {
		storageCfg.RetryMax = e.RetryMax
	}
	storageCfg.Cache = strings.ToLower(e.Cache)
	storageCfg.CacheTTL = e.CacheTTL
	storageCfg.CacheSize = e.CacheSize
	storageCfg.RedisURL = e.RedisURL
	storageCfg.RedisPassword = e.RedisPassword
	storageCfg.RedisDB = e.RedisDB
	storageCfg.RedisMaxRetries = e.RedisMaxRetries
	storageCfg.RedisPoolSize = e.RedisPoolSize

	return &Config{
		Server: ServerConfig{
			Host:              e.Host,
			Port:              e.Port,
			ReadTimeout:       e.ReadTimeout,
			WriteTimeout:      e.WriteTimeout,
			IdleTimeout:       e.IdleTimeout,
			ShutdownTimeout:   e.ShutdownTimeout,
			AllowedOrigins:    e.AllowedOrigins,
			MaxBodyBytes:      e.MaxBodyBytes,
			GenerateUpstream:  e.GenerateUpstream,
			GenerateCost:      e.GenerateCost,
			MaxConsumeAmount:  e.MaxConsumeAmount,
			RateLimitEnabled:  e.RateLimitEnabled,
			RateLimitRequests: e.RateLimitRequests,
			RateLimitWindow:   e.RateLimitWindow,
			RateLimitBurst:    e.RateLimitBurst,
			RateLimitFailOpen: e.RateLimitFailOpen,
		},
		Storage: storageCfg,
		Security: SecurityConfig{
			OIDCIssuer:    e.OIDCIssuer,
			OIDCClientID:  e.OIDCClientID,
			StaticTokens:  e.StaticTokens,
			CronSecret:    e.CronSecret,
			AdminSecret:   e.AdminSecret,
			WebhookSecret: e.WebhookSecret,
		},
		Pricing:     pricing,
		FreeCredits: e.FreeCredits,
		Sweeper: SweeperConfig{
			Schedule:  e.SweepSchedule,
			BatchSize: e.SweepBatchSize,
			Workers:   e.SweepWorkers,
			Timeout:   e.SweepTimeout,
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.ParseLogLevel(strings.ToLower(e.LogLevel)),
			MetricsEnabled:     e.MetricsEnabled,
			OTelEnabled:        e.OTelEnabled,
			OTelEndpoint:       e.OTelEndpoint,
			OTelServiceName:    e.OTelServiceName,
			OTelServiceVersion: e.OTelServiceVersion,
			OTelInsecure:       e.OTelInsecure,
			OTelSampleRatio:    e.OTelSampleRatio,
		},
	}, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}
	if c.Server.GenerateUpstream != "" {
		u, err := url.Parse(c.Server.GenerateUpstream)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid generate upstream %q", c.Server.GenerateUpstream)
		}
		if c.Server.GenerateCost <= 0 {
			return fmt.Errorf("generate cost must be positive")
		}
	}
	if c.Server.MaxConsumeAmount < 0 {
		return fmt.Errorf("max consume amount must not be negative")
	}
	if c.Server.RateLimitEnabled {
		if c.Server.RateLimitRequests <= 0 || c.Server.RateLimitWindow <= 0 {
			return fmt.Errorf("rate limit requires positive requests and window")
		}
		if c.Server.RateLimitBurst < 0 {
			return fmt.Errorf("rate limit burst must not be negative")
		}
	}

	if err := c.Storage.Validate(); err != nil {
		return err
	}

	if c.Security.OIDCIssuer != "" && c.Security.OIDCClientID == "" {
		return fmt.Errorf("OIDC client ID is required when an issuer is set")
	}

	if err := c.Pricing.Validate(); err != nil {
		return fmt.Errorf("invalid pricing: %w", err)
	}
	if c.FreeCredits < 0 {
		return fmt.Errorf("free credits must not be negative, got %d", c.FreeCredits)
	}

	if c.Sweeper.BatchSize <= 0 || c.Sweeper.Workers <= 0 {
		return fmt.Errorf("sweeper batch size and workers must be positive")
	}
	if c.Sweeper.Timeout <= 0 {
		return fmt.Errorf("sweeper timeout must be positive")
	}
	if _, err := cron.ParseStandard(c.Sweeper.Schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", c.Sweeper.Schedule, err)
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// ValidateServer adds the checks only the HTTP server needs
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if !c.Security.HasAuthenticator() {
		return fmt.Errorf("an OIDC issuer or static tokens must be configured")
	}
	return nil
}
