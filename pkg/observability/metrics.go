package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
// All Record* methods are safe to call on a nil *Metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Credit ledger metrics
	CreditOperationsTotal   *prometheus.CounterVec
	CreditOperationDuration *prometheus.HistogramVec
	CreditsGrantedTotal     *prometheus.CounterVec
	CreditsConsumedTotal    prometheus.Counter
	CreditsExpiredTotal     prometheus.Counter

	// Sweeper metrics
	SweepRunsTotal     *prometheus.CounterVec
	SweepUsersTotal    *prometheus.CounterVec
	SweepDuration      prometheus.Histogram
	SweepLastSuccessTS prometheus.Gauge

	// Storage metrics
	StoreRetriesTotal *prometheus.CounterVec
	StoreErrorsTotal  *prometheus.CounterVec

	// Cache metrics
	CacheRequestsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credits_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credits_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credits_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),

		CreditOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credits_operations_total",
				Help: "Total number of ledger operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		CreditOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credits_operation_duration_seconds",
				Help:    "Ledger operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation"},
		),
		CreditsGrantedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credits_granted_total",
				Help: "Total credits granted by grant type",
			},
			[]string{"type"},
		),
		CreditsConsumedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "credits_consumed_total",
				Help: "Total credits consumed",
			},
		),
		CreditsExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "credits_expired_total",
				Help: "Total subscription credits forfeited by expiry or renewal",
			},
		),

		SweepRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credits_sweep_runs_total",
				Help: "Total number of expiration sweeps",
			},
			[]string{"status"},
		),
		SweepUsersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credits_sweep_users_total",
				Help: "Users processed by expiration sweeps",
			},
			[]string{"result"},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "credits_sweep_duration_seconds",
				Help:    "Expiration sweep duration in seconds",
				Buckets: []float64{.01, .1, .5, 1, 5, 10, 30, 60, 300},
			},
		),
		SweepLastSuccessTS: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "credits_sweep_last_success_timestamp_seconds",
				Help: "Unix time of the last sweep that listed candidates successfully",
			},
		),

		StoreRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credits_store_retries_total",
				Help: "Transactions retried after a transient conflict",
			},
			[]string{"backend"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credits_store_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"operation", "error_type"},
		),

		CacheRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credits_cache_requests_total",
				Help: "Balance cache lookups by result",
			},
			[]string{"backend", "result"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.CreditOperationsTotal,
		m.CreditOperationDuration,
		m.CreditsGrantedTotal,
		m.CreditsConsumedTotal,
		m.CreditsExpiredTotal,
		m.SweepRunsTotal,
		m.SweepUsersTotal,
		m.SweepDuration,
		m.SweepLastSuccessTS,
		m.StoreRetriesTotal,
		m.StoreErrorsTotal,
		m.CacheRequestsTotal,
	)

	return m
}

// RegisterDBStats exports connection pool statistics for db
func RegisterDBStats(registry *prometheus.Registry, db *sql.DB, name string) {
	registry.MustRegister(collectors.NewDBStatsCollector(db, name))
}

// RecordOperation records the outcome and latency of a ledger operation
func (m *Metrics) RecordOperation(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CreditOperationsTotal.WithLabelValues(operation, outcome).Inc()
	m.CreditOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordGranted adds granted credits of a grant type
func (m *Metrics) RecordGranted(grantType string, credits int64) {
	if m == nil || credits <= 0 {
		return
	}
	m.CreditsGrantedTotal.WithLabelValues(grantType).Add(float64(credits))
}

// RecordConsumed adds consumed credits
func (m *Metrics) RecordConsumed(credits int64) {
	if m == nil || credits <= 0 {
		return
	}
	m.CreditsConsumedTotal.Add(float64(credits))
}

// RecordExpired adds forfeited subscription credits
func (m *Metrics) RecordExpired(credits int64) {
	if m == nil || credits <= 0 {
		return
	}
	m.CreditsExpiredTotal.Add(float64(credits))
}

// RecordSweep records a completed sweep
func (m *Metrics) RecordSweep(expired, failed int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(duration.Seconds())
	m.SweepUsersTotal.WithLabelValues("expired").Add(float64(expired))
	m.SweepUsersTotal.WithLabelValues("failed").Add(float64(failed))
	if err != nil {
		m.SweepRunsTotal.WithLabelValues("error").Inc()
		return
	}
	m.SweepRunsTotal.WithLabelValues("success").Inc()
	m.SweepLastSuccessTS.SetToCurrentTime()
}

// RecordStoreRetry counts a retried transaction
func (m *Metrics) RecordStoreRetry(backend string) {
	if m == nil {
		return
	}
	m.StoreRetriesTotal.WithLabelValues(backend).Inc()
}

// RecordStoreError counts a storage error
func (m *Metrics) RecordStoreError(operation, errorType string) {
	if m == nil {
		return
	}
	m.StoreErrorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordCache counts a balance cache lookup; result is hit, miss or error
func (m *Metrics) RecordCache(backend, result string) {
	if m == nil {
		return
	}
	m.CacheRequestsTotal.WithLabelValues(backend, result).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel prefers the mux route template so user IDs in paths do not
// explode label cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
