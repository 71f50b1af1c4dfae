package observability

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	require.NotNil(t, metrics)

	assert.Panics(t, func() { NewMetrics(registry) }, "registering twice must panic")
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordOperation("consume", "success", time.Millisecond)
		m.RecordGranted("grant_initial", 10)
		m.RecordConsumed(1)
		m.RecordExpired(5)
		m.RecordSweep(1, 0, time.Second, nil)
		m.RecordStoreRetry("sqlite")
		m.RecordStoreError("consume", "unavailable")
		m.RecordCache("lru", "hit")
	})
}

func TestMetrics_CreditMetrics(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.RecordOperation("consume", "success", 10*time.Millisecond)
	metrics.RecordOperation("consume", "insufficient", 5*time.Millisecond)
	metrics.RecordOperation("consume", "success", time.Millisecond)
	metrics.RecordGranted("grant_subscription", 100)
	metrics.RecordGranted("grant_subscription", 0)
	metrics.RecordConsumed(3)
	metrics.RecordExpired(40)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CreditOperationsTotal.WithLabelValues("consume", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CreditOperationsTotal.WithLabelValues("consume", "insufficient")))
	assert.Equal(t, float64(100), testutil.ToFloat64(metrics.CreditsGrantedTotal.WithLabelValues("grant_subscription")))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.CreditsConsumedTotal))
	assert.Equal(t, float64(40), testutil.ToFloat64(metrics.CreditsExpiredTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.CreditOperationDuration))
}

func TestMetrics_SweepMetrics(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.RecordSweep(3, 1, 2*time.Second, nil)
	metrics.RecordSweep(0, 0, time.Second, errors.New("list failed"))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SweepRunsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SweepRunsTotal.WithLabelValues("error")))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.SweepUsersTotal.WithLabelValues("expired")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SweepUsersTotal.WithLabelValues("failed")))
	assert.Greater(t, testutil.ToFloat64(metrics.SweepLastSuccessTS), float64(0))
}

func TestMetrics_StoreAndCacheMetrics(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.RecordStoreRetry("postgres")
	metrics.RecordStoreRetry("postgres")
	metrics.RecordStoreError("grant", "unavailable")
	metrics.RecordCache("redis", "hit")
	metrics.RecordCache("redis", "miss")

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.StoreRetriesTotal.WithLabelValues("postgres")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.StoreErrorsTotal.WithLabelValues("grant", "unavailable")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheRequestsTotal.WithLabelValues("redis", "hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheRequestsTotal.WithLabelValues("redis", "miss")))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	t.Run("records HTTP metrics by route template", func(t *testing.T) {
		metrics := NewMetrics(prometheus.NewRegistry())

		router := mux.NewRouter()
		router.Use(HTTPMetricsMiddleware(metrics))
		router.HandleFunc("/v1/admin/ledger/{userID}/verify", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})

		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/admin/ledger/u1/verify", nil))
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/admin/ledger/u2/verify", nil))

		expected := `
# HELP credits_http_requests_total Total number of HTTP requests
# TYPE credits_http_requests_total counter
credits_http_requests_total{method="GET",route="/v1/admin/ledger/{userID}/verify",status="200"} 2
`
		assert.NoError(t, testutil.CollectAndCompare(metrics.HTTPRequestsTotal, strings.NewReader(expected)))
		assert.Equal(t, 1, testutil.CollectAndCount(metrics.HTTPRequestDuration))
		assert.Equal(t, 1, testutil.CollectAndCount(metrics.HTTPResponseSize))
	})

	t.Run("falls back to raw path without a router", func(t *testing.T) {
		metrics := NewMetrics(prometheus.NewRegistry())

		handler := HTTPMetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusPaymentRequired)
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/credits/consume", nil))

		assert.Equal(t, float64(1), testutil.ToFloat64(
			metrics.HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/v1/credits/consume", "402")))
	})
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.RecordConsumed(7)

	router := mux.NewRouter()
	RegisterMetricsEndpoint(router, registry)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "credits_consumed_total 7")
}

func TestRegisterDBStats(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	registry := prometheus.NewRegistry()
	RegisterDBStats(registry, db, "primary")

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
