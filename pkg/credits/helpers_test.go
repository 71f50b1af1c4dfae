package credits_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/credits/pkg/credits"
	"github.com/platinummonkey/credits/pkg/storage/sqlstore"
)

var testStart = time.Date(2026, 1, 31, 9, 30, 0, 0, time.UTC)

// clock is a settable time source for the service
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock {
	return &clock{now: t}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	store, err := sqlstore.Open(sqlstore.ConnectionConfig{
		Dialect:    sqlstore.SQLite,
		PrimaryURL: filepath.Join(t.TempDir(), "credits.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

// newTestService returns a service over a fresh SQLite store with a fixed clock
func newTestService(t *testing.T, opts ...credits.Option) (*credits.Service, *sqlstore.Store, *clock) {
	t.Helper()
	store := newTestStore(t)
	clk := newClock(testStart)
	opts = append([]credits.Option{credits.WithClock(clk.Now)}, opts...)
	return credits.NewService(store, opts...), store, clk
}

// requireBalance asserts the stored components and the ledger sum
func requireBalance(t *testing.T, store credits.Store, userID string, free, sub int64) *credits.Balance {
	t.Helper()
	b, err := store.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, free, b.FreeCredits, "free credits")
	require.Equal(t, sub, b.SubscriptionCredits, "subscription credits")
	require.Equal(t, free+sub, b.TotalCredits, "total credits")

	sum, err := store.SumTransactions(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, b.TotalCredits, sum, "ledger sum")
	return b
}

func onboard(t *testing.T, svc *credits.Service, userID string) {
	t.Helper()
	res, err := svc.GrantInitialCredits(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, res.Granted)
}

// fakeCache is an in-memory BalanceCache that records calls
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]credits.Balance
	deletes int
	getErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]credits.Balance{}}
}

func (c *fakeCache) Get(_ context.Context, userID string) (*credits.Balance, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	b, ok := c.entries[userID]
	if !ok {
		return nil, false, nil
	}
	return &b, true, nil
}

func (c *fakeCache) Set(_ context.Context, b *credits.Balance) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[b.UserID] = *b
	return nil
}

func (c *fakeCache) Delete(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	c.deletes++
	return nil
}

func (c *fakeCache) Name() string { return "fake" }

func (c *fakeCache) cached(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[userID]
	return ok
}

// faultyStore fails or panics inside WithUserTx for selected users
type faultyStore struct {
	credits.Store
	failUsers  map[string]error
	panicUsers map[string]bool
}

func (s *faultyStore) WithUserTx(ctx context.Context, userID string, fn func(ctx context.Context, tx credits.Tx) error) error {
	if s.panicUsers[userID] {
		panic("boom for " + userID)
	}
	if err, ok := s.failUsers[userID]; ok {
		return err
	}
	return s.Store.WithUserTx(ctx, userID, fn)
}
