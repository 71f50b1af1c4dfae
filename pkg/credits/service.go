package credits

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/credits/pkg/observability"
)

const (
	defaultSweepBatchSize = 500
	defaultSweepWorkers   = 4
	defaultHistoryLimit   = 50
	maxHistoryLimit       = 500
)

// Service implements the credit operations on top of a Store
type Service struct {
	store       Store
	cache       BalanceCache
	pricing     Pricing
	freeCredits int64
	now         func() time.Time
	logger      *observability.Logger
	metrics     *observability.Metrics
	tracer      trace.Tracer

	sweepBatchSize int
	sweepWorkers   int
}

// Option configures a Service
type Option func(*Service)

// WithPricing sets the price table
func WithPricing(p Pricing) Option {
	return func(s *Service) { s.pricing = p }
}

// WithFreeCredits sets the quota granted by GrantInitialCredits
func WithFreeCredits(n int64) Option {
	return func(s *Service) { s.freeCredits = n }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer sets the tracer
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithCache enables the balance read cache
func WithCache(c BalanceCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithSweepOptions sets the sweep page size and worker count
func WithSweepOptions(batchSize, workers int) Option {
	return func(s *Service) {
		if batchSize > 0 {
			s.sweepBatchSize = batchSize
		}
		if workers > 0 {
			s.sweepWorkers = workers
		}
	}
}

// NewService creates a credit service
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:          store,
		pricing:        DefaultPricing(),
		freeCredits:    DefaultFreeCredits,
		now:            time.Now,
		sweepBatchSize: defaultSweepBatchSize,
		sweepWorkers:   defaultSweepWorkers,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = observability.NopLogger()
	}
	if s.tracer == nil {
		s.tracer = observability.Tracer()
	}
	s.logger = s.logger.WithField("component", "credits")
	return s
}

// Pricing returns the active price table
func (s *Service) Pricing() Pricing {
	return s.pricing
}

// Store returns the underlying store
func (s *Service) Store() Store {
	return s.store
}

// Now returns the service clock's current time
func (s *Service) Now() time.Time {
	return s.timestamp()
}

// timestamp returns the current UTC time at the precision every backend keeps
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Service) startSpan(ctx context.Context, name, userID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "credits."+name, trace.WithAttributes(attribute.String("credits.user_id", userID)))
}

// finish closes the span and records the operation outcome
func (s *Service) finish(span trace.Span, operation, outcome string, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordStoreError(operation, errorType(err))
	}
	span.SetAttributes(attribute.String("credits.outcome", outcome))
	span.End()
	s.metrics.RecordOperation(operation, outcome, time.Since(start))
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStoreUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInvariantViolation):
		return "invariant"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidArgument):
		return "invalid"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}

func outcomeFor(err error) string {
	if err == nil {
		return "success"
	}
	return errorType(err)
}

// invalidate drops the cached balance after a committed mutation
func (s *Service) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("failed to invalidate cached balance")
	}
}

// GetBalance returns the user's balance, consulting the cache first when one is configured
func (s *Service) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}

	if s.cache != nil {
		b, ok, err := s.cache.Get(ctx, userID)
		switch {
		case err != nil:
			s.metrics.RecordCache(s.cache.Name(), "error")
			s.logger.WithError(err).WithField("user_id", userID).Warn("balance cache read failed")
		case ok:
			s.metrics.RecordCache(s.cache.Name(), "hit")
			return b, nil
		default:
			s.metrics.RecordCache(s.cache.Name(), "miss")
		}
	}

	b, err := s.store.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, b); err != nil {
			s.logger.WithError(err).WithField("user_id", userID).Warn("balance cache write failed")
		}
	}
	return b, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	return min(limit, maxHistoryLimit)
}

// ListTransactions returns the user's most recent ledger entries
func (s *Service) ListTransactions(ctx context.Context, userID string, limit int) ([]*Transaction, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	return s.store.ListTransactions(ctx, userID, clampLimit(limit))
}

// ListSubscriptions returns the user's most recent subscription records
func (s *Service) ListSubscriptions(ctx context.Context, userID string, limit int) ([]*Subscription, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	return s.store.ListSubscriptions(ctx, userID, clampLimit(limit))
}
