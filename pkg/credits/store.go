package credits

import (
	"context"
	"time"
)

// Store persists balances, ledger entries and subscription records.
//
// All mutations go through WithUserTx. Implementations serialize concurrent
// transactions for the same user and retry transient conflicts; a failure that
// survives the retries is reported as ErrStoreUnavailable.
type Store interface {
	// GetBalance returns ErrNotFound when the user has no balance
	GetBalance(ctx context.Context, userID string) (*Balance, error)

	// WithUserTx runs fn in one transaction holding the user's row lock.
	// The transaction commits only if fn returns nil. fn may run more than once.
	WithUserTx(ctx context.Context, userID string, fn func(ctx context.Context, tx Tx) error) error

	// ListExpiredUsers returns up to limit users, ordered by user id and strictly
	// after afterUserID, whose subscription expired before now with credits left
	ListExpiredUsers(ctx context.Context, now time.Time, afterUserID string, limit int) ([]string, error)

	// ListTransactions returns the newest ledger entries first
	ListTransactions(ctx context.Context, userID string, limit int) ([]*Transaction, error)

	// ListSubscriptions returns the newest subscription records first
	ListSubscriptions(ctx context.Context, userID string, limit int) ([]*Subscription, error)

	// SumTransactions returns the sum of all ledger amounts for the user
	SumTransactions(ctx context.Context, userID string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// Tx is a transaction bound to one user. It is only valid inside WithUserTx.
type Tx interface {
	// Balance reads the locked balance row, or ErrNotFound
	Balance(ctx context.Context) (*Balance, error)

	// CreateBalance inserts the balance. It reports false without error when a
	// concurrent writer created the row first.
	CreateBalance(ctx context.Context, b *Balance) (bool, error)

	UpdateBalance(ctx context.Context, b *Balance) error

	// AppendTransaction assigns an ID when t.ID is empty
	AppendTransaction(ctx context.Context, t *Transaction) error

	SubscriptionExists(ctx context.Context, paymentRef string) (bool, error)

	// InsertSubscription returns ErrDuplicatePayment when the payment reference exists
	InsertSubscription(ctx context.Context, s *Subscription) error
}

// BalanceCache is an optional read-through cache for GetBalance.
// It never participates in consume, grant or expiry decisions.
type BalanceCache interface {
	Get(ctx context.Context, userID string) (*Balance, bool, error)
	Set(ctx context.Context, b *Balance) error
	Delete(ctx context.Context, userID string) error
	Name() string
}
