package credits_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/credits/pkg/credits"
)

// subscribeAndSpend leaves the user with 10 free and sub subscription credits
func subscribeAndSpend(t *testing.T, svc *credits.Service, userID string, sub int64) {
	t.Helper()
	ctx := context.Background()
	onboard(t, svc, userID)
	_, err := svc.GrantSubscriptionCredits(ctx, userID, "pay_"+userID, 1900)
	require.NoError(t, err)
	if spent := 100 - sub; spent > 0 {
		_, err = svc.Consume(ctx, userID, spent)
		require.NoError(t, err)
	}
}

func TestSweepExpired(t *testing.T) {
	svc, store, clk := newTestService(t)
	ctx := context.Background()
	subscribeAndSpend(t, svc, "u1", 40)
	requireBalance(t, store, "u1", 10, 40)

	clk.Set(testStart.AddDate(0, 2, 0))
	res, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExpiredCount)
	assert.Equal(t, 0, res.FailedCount)
	assert.Empty(t, res.Errors)

	requireBalance(t, store, "u1", 10, 0)

	txns, err := store.ListTransactions(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, credits.TransactionExpire, txns[0].Type)
	assert.Equal(t, int64(-40), txns[0].Amount)
	assert.NotEmpty(t, txns[0].Metadata["expired_at"])

	// a second run finds nothing
	res, err = svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExpiredCount)
	requireBalance(t, store, "u1", 10, 0)

	all, err := store.ListTransactions(ctx, "u1", 50)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestSweepExpired_LeavesActiveSubscriptions(t *testing.T) {
	svc, store, clk := newTestService(t)
	ctx := context.Background()
	subscribeAndSpend(t, svc, "u1", 100)

	clk.Set(testStart.AddDate(0, 0, 10))
	res, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExpiredCount)
	requireBalance(t, store, "u1", 10, 100)
}

func TestSweepExpired_SpentSubscriptionLeavesFreeCredits(t *testing.T) {
	svc, store, clk := newTestService(t)
	ctx := context.Background()
	onboard(t, svc, "u1")
	_, err := svc.GrantSubscriptionCredits(ctx, "u1", "pay_1", 1900)
	require.NoError(t, err)

	_, err = svc.Consume(ctx, "u1", 105)
	require.NoError(t, err)
	requireBalance(t, store, "u1", 5, 0)

	clk.Set(testStart.AddDate(0, 2, 0))
	res, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExpiredCount)

	b := requireBalance(t, store, "u1", 5, 0)
	assert.Equal(t, b.FreeCredits, b.TotalCredits)
}

func TestSweepExpired_ManyUsersAcrossPages(t *testing.T) {
	svc, store, clk := newTestService(t, credits.WithSweepOptions(3, 2))
	ctx := context.Background()

	users := make([]string, 10)
	for i := range users {
		users[i] = fmt.Sprintf("user-%02d", i)
		subscribeAndSpend(t, svc, users[i], int64(10*(i+1)))
	}

	clk.Set(testStart.AddDate(0, 2, 0))
	res, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(users), res.ExpiredCount)

	for _, u := range users {
		requireBalance(t, store, u, 10, 0)
	}
}

func TestSweepExpired_IsolatesFailures(t *testing.T) {
	store := newTestStore(t)
	clk := newClock(testStart)
	setup := credits.NewService(store, credits.WithClock(clk.Now))
	for _, u := range []string{"a", "b", "c", "d"} {
		subscribeAndSpend(t, setup, u, 50)
	}

	faulty := &faultyStore{
		Store:      store,
		failUsers:  map[string]error{"b": errors.New("disk on fire")},
		panicUsers: map[string]bool{"c": true},
	}
	svc := credits.NewService(faulty, credits.WithClock(clk.Now), credits.WithSweepOptions(10, 1))

	clk.Set(testStart.AddDate(0, 2, 0))
	res, err := svc.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.ExpiredCount)
	assert.Equal(t, 2, res.FailedCount)

	failed := map[string]string{}
	for _, ue := range res.Errors {
		failed[ue.UserID] = ue.Err.Error()
	}
	assert.Contains(t, failed["b"], "disk on fire")
	assert.Contains(t, failed["c"], "panic")

	requireBalance(t, store, "a", 10, 0)
	requireBalance(t, store, "b", 10, 50)
	requireBalance(t, store, "c", 10, 50)
	requireBalance(t, store, "d", 10, 0)
}

// listFailStore cannot list sweep candidates
type listFailStore struct {
	credits.Store
}

func (listFailStore) ListExpiredUsers(context.Context, time.Time, string, int) ([]string, error) {
	return nil, fmt.Errorf("%w: connection refused", credits.ErrStoreUnavailable)
}

func TestSweepExpired_ListingFailure(t *testing.T) {
	svc := credits.NewService(listFailStore{Store: newTestStore(t)})

	res, err := svc.SweepExpired(context.Background())
	assert.ErrorIs(t, err, credits.ErrStoreUnavailable)
	require.NotNil(t, res)
	assert.Equal(t, 0, res.ExpiredCount)
}

func TestExpireUser(t *testing.T) {
	svc, store, clk := newTestService(t)
	ctx := context.Background()
	subscribeAndSpend(t, svc, "u1", 30)

	forfeited, err := svc.ExpireUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), forfeited, "subscription still active")

	clk.Set(testStart.AddDate(0, 1, 0).Add(time.Second))
	forfeited, err = svc.ExpireUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), forfeited)
	requireBalance(t, store, "u1", 10, 0)

	_, err = svc.ExpireUser(ctx, "ghost")
	assert.ErrorIs(t, err, credits.ErrNotFound)

	_, err = svc.ExpireUser(ctx, "")
	assert.ErrorIs(t, err, credits.ErrInvalidArgument)
}

func TestExpireUser_ExactlyAtExpiryIsStillActive(t *testing.T) {
	svc, store, clk := newTestService(t)
	subscribeAndSpend(t, svc, "u1", 30)

	clk.Set(testStart.AddDate(0, 1, 0))
	forfeited, err := svc.ExpireUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), forfeited)
	requireBalance(t, store, "u1", 10, 30)
}

func TestSweepExpired_ConcurrentWithConsume(t *testing.T) {
	svc, store, clk := newTestService(t)
	ctx := context.Background()

	const users = 8
	for i := 0; i < users; i++ {
		subscribeAndSpend(t, svc, fmt.Sprintf("u%d", i), 100)
	}
	clk.Set(testStart.AddDate(0, 2, 0))

	var wg sync.WaitGroup
	var sweep *credits.SweepResult
	var sweepErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweep, sweepErr = svc.SweepExpired(ctx)
	}()

	// three debits of 4 per user: two fit in the 10 free credits, the third must not
	for i := 0; i < users; i++ {
		userID := fmt.Sprintf("u%d", i)
		for j := 0; j < 3; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Consume(ctx, userID, 4)
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	require.NoError(t, sweepErr)
	assert.Equal(t, 0, sweep.FailedCount)
	assert.LessOrEqual(t, sweep.ExpiredCount, users)

	for i := 0; i < users; i++ {
		userID := fmt.Sprintf("u%d", i)
		b := requireBalance(t, store, userID, 2, 0)
		assert.GreaterOrEqual(t, b.TotalCredits, int64(0))

		report, err := svc.VerifyLedger(ctx, userID)
		require.NoError(t, err)
		assert.True(t, report.Consistent)

		txns, err := store.ListTransactions(ctx, userID, 50)
		require.NoError(t, err)
		var expires int
		for _, txn := range txns {
			if txn.Type == credits.TransactionExpire {
				expires++
				assert.Equal(t, int64(-100), txn.Amount)
			}
		}
		assert.Equal(t, 1, expires, "subscription credits forfeited exactly once for %s", userID)
	}
}
