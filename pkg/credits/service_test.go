package credits_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/credits/pkg/credits"
	"github.com/platinummonkey/credits/pkg/observability"
)

func TestGetBalance(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.GetBalance(ctx, "u1")
	assert.ErrorIs(t, err, credits.ErrNotFound)

	onboard(t, svc, "u1")
	b, err := svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), b.TotalCredits)

	_, err = svc.GetBalance(ctx, "")
	assert.ErrorIs(t, err, credits.ErrInvalidArgument)
}

func TestGetBalance_ReadThroughCache(t *testing.T) {
	cache := newFakeCache()
	svc, _, _ := newTestService(t, credits.WithCache(cache))
	ctx := context.Background()
	onboard(t, svc, "u1")

	_, err := svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, cache.cached("u1"), "miss populates the cache")

	// a consume invalidates so the next read sees the new balance
	_, err = svc.Consume(ctx, "u1", 2)
	require.NoError(t, err)
	assert.False(t, cache.cached("u1"))

	b, err := svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(8), b.TotalCredits)
}

func TestGetBalance_MutationsInvalidate(t *testing.T) {
	cache := newFakeCache()
	svc, _, clk := newTestService(t, credits.WithCache(cache))
	ctx := context.Background()
	onboard(t, svc, "u1")

	_, err := svc.GrantSubscriptionCredits(ctx, "u1", "pay_1", 1900)
	require.NoError(t, err)
	_, err = svc.HandleResubscription(ctx, "u1", "pay_2", 1900)
	require.NoError(t, err)
	clk.Set(testStart.AddDate(0, 3, 0))
	_, err = svc.SweepExpired(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, cache.deletes)
}

func TestGetBalance_CacheErrorFallsBackToStore(t *testing.T) {
	cache := newFakeCache()
	cache.getErr = errors.New("redis down")
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	svc, _, _ := newTestService(t, credits.WithCache(cache), credits.WithMetrics(metrics))
	onboard(t, svc, "u1")

	b, err := svc.GetBalance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), b.TotalCredits)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheRequestsTotal.WithLabelValues("fake", "error")))
}

func TestCacheIsNotConsultedForDebits(t *testing.T) {
	cache := newFakeCache()
	svc, _, _ := newTestService(t, credits.WithCache(cache))
	ctx := context.Background()
	onboard(t, svc, "u1")

	// a stale cached balance must not let a consume through
	require.NoError(t, cache.Set(ctx, &credits.Balance{UserID: "u1", TotalCredits: 500, FreeCredits: 500}))

	res, err := svc.Consume(ctx, "u1", 50)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, int64(10), res.Remaining)
}

func TestListHistory(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	onboard(t, svc, "u1")
	_, err := svc.GrantSubscriptionCredits(ctx, "u1", "pay_1", 1900)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := svc.Consume(ctx, "u1", 1)
		require.NoError(t, err)
	}

	txns, err := svc.ListTransactions(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, txns, 5)

	txns, err = svc.ListTransactions(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Len(t, txns, 2)

	subs, err := svc.ListSubscriptions(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	none, err := svc.ListTransactions(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = svc.ListSubscriptions(ctx, "", 10)
	assert.ErrorIs(t, err, credits.ErrInvalidArgument)
}

func TestOperationMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	svc, _, _ := newTestService(t, credits.WithMetrics(metrics))
	ctx := context.Background()

	onboard(t, svc, "u1")
	_, err := svc.GrantInitialCredits(ctx, "u1")
	require.NoError(t, err)
	_, err = svc.Consume(ctx, "u1", 4)
	require.NoError(t, err)
	_, err = svc.Consume(ctx, "u1", 40)
	require.NoError(t, err)
	_, err = svc.Consume(ctx, "ghost", 1)
	require.Error(t, err)

	ops := metrics.CreditOperationsTotal
	assert.Equal(t, float64(1), testutil.ToFloat64(ops.WithLabelValues("grant_initial", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(ops.WithLabelValues("grant_initial", "already_granted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(ops.WithLabelValues("consume", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(ops.WithLabelValues("consume", "insufficient")))
	assert.Equal(t, float64(1), testutil.ToFloat64(ops.WithLabelValues("consume", "not_found")))
	assert.Equal(t, float64(4), testutil.ToFloat64(metrics.CreditsConsumedTotal))
	assert.Equal(t, float64(10), testutil.ToFloat64(metrics.CreditsGrantedTotal.WithLabelValues("grant_initial")))
}
