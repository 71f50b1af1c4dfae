package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/credits/pkg/credits"
	"github.com/platinummonkey/credits/pkg/storage/sqlstore"
)

type cliEnv struct {
	t     *testing.T
	store *sqlstore.Store
	svc   *credits.Service
	now   time.Time
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	store, err := sqlstore.Open(sqlstore.ConnectionConfig{
		Dialect:    sqlstore.SQLite,
		PrimaryURL: filepath.Join(t.TempDir(), "credits.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	env := &cliEnv{t: t, store: store, now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	env.svc = credits.NewService(store, credits.WithClock(func() time.Time { return env.now }))
	return env
}

func (e *cliEnv) opener() Opener {
	return func(ctx context.Context) (*App, error) {
		return &App{Service: e.svc, Migrate: e.store.Migrate}, nil
	}
}

func executeCLI(t *testing.T, open Opener, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCommand(open)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestHelpDoesNotOpenLedger(t *testing.T) {
	failing := func(context.Context) (*App, error) {
		t.Fatal("ledger opened for --help")
		return nil, nil
	}

	stdout, _, err := executeCLI(t, failing, "--help")
	require.NoError(t, err)
	for _, name := range []string{"balance", "history", "subscriptions", "grant-initial", "capture", "expire", "sweep", "verify", "pricing", "migrate"} {
		assert.Contains(t, stdout, name)
	}
}

func TestOpenError(t *testing.T) {
	failing := func(context.Context) (*App, error) {
		return nil, errors.New("connection refused")
	}
	_, _, err := executeCLI(t, failing, "balance", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open ledger: connection refused")
}

func TestArgumentValidation(t *testing.T) {
	env := newCLIEnv(t)

	_, _, err := executeCLI(t, env.opener(), "balance")
	assert.Error(t, err)

	_, _, err = executeCLI(t, env.opener(), "sweep", "extra")
	assert.Error(t, err)

	_, _, err = executeCLI(t, env.opener(), "capture", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "ref" not set`)

	_, _, err = executeCLI(t, env.opener(), "capture", "alice", "--ref", "pay_1", "--amount", "19.999")
	assert.ErrorIs(t, err, credits.ErrInvalidAmount)
}

func TestBalanceAndGrantInitial(t *testing.T) {
	env := newCLIEnv(t)

	_, _, err := executeCLI(t, env.opener(), "balance", "alice")
	assert.ErrorIs(t, err, credits.ErrNotFound)

	stdout, _, err := executeCLI(t, env.opener(), "grant-initial", "alice")
	require.NoError(t, err)
	assert.Equal(t, "granted 10 free credits to alice\n", stdout)

	stdout, _, err = executeCLI(t, env.opener(), "grant-initial", "alice")
	require.NoError(t, err)
	assert.Equal(t, "user alice already has a balance\n", stdout)

	stdout, _, err = executeCLI(t, env.opener(), "balance", "alice")
	require.NoError(t, err)
	assert.Contains(t, stdout, "total         10")
	assert.Contains(t, stdout, "expires       -")

	stdout, _, err = executeCLI(t, env.opener(), "balance", "alice", "--json")
	require.NoError(t, err)
	var b credits.Balance
	require.NoError(t, json.Unmarshal([]byte(stdout), &b))
	assert.Equal(t, int64(10), b.TotalCredits)
	assert.Equal(t, int64(10), b.FreeCredits)
}

func TestCaptureRenewalAndHistory(t *testing.T) {
	env := newCLIEnv(t)

	stdout, _, err := executeCLI(t, env.opener(), "capture", "bob", "--ref", "pay_1")
	require.NoError(t, err)
	assert.Equal(t, "granted 100 subscription credits to bob\n", stdout)

	stdout, _, err = executeCLI(t, env.opener(), "capture", "bob", "--ref", "pay_1")
	require.NoError(t, err)
	assert.Equal(t, "payment pay_1 was already applied\n", stdout)

	stdout, _, err = executeCLI(t, env.opener(), "capture", "bob", "--ref", "pay_2", "--amount", "29.00")
	require.NoError(t, err)
	assert.Equal(t, "renewed bob: 200 credits, 100 forfeited\n", stdout)

	stdout, _, err = executeCLI(t, env.opener(), "history", "bob", "--json")
	require.NoError(t, err)
	var txns []credits.Transaction
	require.NoError(t, json.Unmarshal([]byte(stdout), &txns))
	require.Len(t, txns, 4)
	assert.Equal(t, credits.TransactionGrantSubscription, txns[0].Type)
	assert.Equal(t, int64(200), txns[0].Amount)
	var sum int64
	for _, txn := range txns {
		sum += txn.Amount
	}
	assert.Equal(t, int64(210), sum)

	stdout, _, err = executeCLI(t, env.opener(), "history", "bob", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "CREATED")
	assert.Contains(t, stdout, "+200")
	assert.NotContains(t, stdout, "grant_initial")

	stdout, _, err = executeCLI(t, env.opener(), "subscriptions", "bob")
	require.NoError(t, err)
	assert.Contains(t, stdout, "pay_2")
	assert.Contains(t, stdout, "29.00")
	assert.Contains(t, stdout, "pay_1")

	stdout, _, err = executeCLI(t, env.opener(), "history", "nobody", "--json")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", stdout)
}

func TestSweepAndExpire(t *testing.T) {
	env := newCLIEnv(t)

	_, _, err := executeCLI(t, env.opener(), "capture", "carol", "--ref", "pay_c")
	require.NoError(t, err)
	_, _, err = executeCLI(t, env.opener(), "capture", "dave", "--ref", "pay_d")
	require.NoError(t, err)

	stdout, _, err := executeCLI(t, env.opener(), "expire", "carol")
	require.NoError(t, err)
	assert.Equal(t, "expired 0 credits for carol\n", stdout)

	stdout, _, err = executeCLI(t, env.opener(), "sweep", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"expired":0,"failed":0}`, stdout)

	env.now = env.now.AddDate(0, 2, 0)

	stdout, _, err = executeCLI(t, env.opener(), "expire", "carol", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"user_id":"carol","forfeited":100}`, stdout)

	stdout, _, err = executeCLI(t, env.opener(), "sweep")
	require.NoError(t, err)
	assert.Contains(t, stdout, "expired 1 users, 0 failed")

	stdout, _, err = executeCLI(t, env.opener(), "balance", "dave", "--json")
	require.NoError(t, err)
	var b credits.Balance
	require.NoError(t, json.Unmarshal([]byte(stdout), &b))
	assert.Equal(t, int64(10), b.TotalCredits)
	assert.Equal(t, int64(0), b.SubscriptionCredits)
}

func TestVerify(t *testing.T) {
	env := newCLIEnv(t)

	_, _, err := executeCLI(t, env.opener(), "grant-initial", "erin")
	require.NoError(t, err)

	stdout, _, err := executeCLI(t, env.opener(), "verify", "erin")
	require.NoError(t, err)
	assert.Equal(t, "erin: total 10, ledger sum 10, consistent\n", stdout)

	_, err = env.store.DB().Exec(`INSERT INTO credit_transactions (id, user_id, amount, transaction_type, description, metadata, created_at)
		VALUES ('stray', 'erin', 3, 'grant_initial', '', '{}', ?)`, env.now)
	require.NoError(t, err)

	stdout, _, err = executeCLI(t, env.opener(), "verify", "erin")
	assert.ErrorIs(t, err, credits.ErrInvariantViolation)
	assert.Equal(t, "erin: total 10, ledger sum 13, INCONSISTENT\n", stdout)

	stdout, _, err = executeCLI(t, env.opener(), "verify", "erin", "--json")
	assert.ErrorIs(t, err, credits.ErrInvariantViolation)
	var report credits.LedgerReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.False(t, report.Consistent)

	_, _, err = executeCLI(t, env.opener(), "verify", "nobody")
	assert.ErrorIs(t, err, credits.ErrNotFound)
}

func TestPricing(t *testing.T) {
	env := newCLIEnv(t)

	stdout, _, err := executeCLI(t, env.opener(), "pricing")
	require.NoError(t, err)
	assert.Equal(t, "AMOUNT  CREDITS\n19.00   100\n29.00   200\n49.00   500\nother   100\n", stdout)

	stdout, _, err = executeCLI(t, env.opener(), "pricing", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"tiers":[{"amount":"19.00","credits":100},{"amount":"29.00","credits":200},{"amount":"49.00","credits":500}],"default":100}`, stdout)
}

func TestMigrate(t *testing.T) {
	env := newCLIEnv(t)

	stdout, _, err := executeCLI(t, env.opener(), "migrate")
	require.NoError(t, err)
	assert.Equal(t, "schema is up to date\n", stdout)

	noMigrate := func(context.Context) (*App, error) {
		return &App{Service: env.svc}, nil
	}
	_, _, err = executeCLI(t, noMigrate, "migrate")
	assert.Error(t, err)
}

func TestCloseIsCalled(t *testing.T) {
	env := newCLIEnv(t)
	closed := 0
	open := func(context.Context) (*App, error) {
		return &App{Service: env.svc, Close: func() error { closed++; return nil }}, nil
	}

	_, _, err := executeCLI(t, open, "grant-initial", "frank")
	require.NoError(t, err)
	assert.Equal(t, 1, closed)
}
