package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/platinummonkey/credits/pkg/credits"
	"github.com/platinummonkey/credits/pkg/observability"
)

// RetryConfig bounds the retries of a conflicting transaction
type RetryConfig struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns the retry policy used when none is configured
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      5,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
	}
}

// Store is a credits.Store on database/sql
type Store struct {
	primary *sql.DB
	reader  func() *sql.DB
	conns   *ConnectionManager
	dialect Dialect
	retry   RetryConfig
	logger  *observability.Logger
	metrics *observability.Metrics
}

var _ credits.Store = (*Store)(nil)

// Option configures a Store
type Option func(*Store)

// WithRetry sets the conflict retry policy
func WithRetry(cfg RetryConfig) Option {
	return func(s *Store) { s.retry = cfg }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New wraps an open database. History reads use the same connection.
func New(db *sql.DB, d Dialect, opts ...Option) *Store {
	s := &Store{
		primary: db,
		dialect: d,
		retry:   DefaultRetryConfig(),
	}
	s.reader = func() *sql.DB { return s.primary }
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = observability.NopLogger()
	}
	s.logger = s.logger.WithField("component", "sqlstore")
	return s
}

// Open connects through a ConnectionManager and routes history reads to replicas
func Open(cfg ConnectionConfig, opts ...Option) (*Store, error) {
	s := New(nil, cfg.Dialect, opts...)

	cm, err := NewConnectionManager(cfg, s.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", credits.ErrStoreUnavailable, err)
	}
	s.conns = cm
	s.primary = cm.Primary()
	s.reader = cm.Replica
	return s, nil
}

// DB returns the primary connection
func (s *Store) DB() *sql.DB {
	return s.primary
}

// Dialect returns the SQL dialect in use
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Migrate creates the schema on the primary
func (s *Store) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.primary, s.dialect)
}

// Ping checks the primary connection
func (s *Store) Ping(ctx context.Context) error {
	if s.conns != nil {
		return s.conns.HealthCheck(ctx)
	}
	return s.primary.PingContext(ctx)
}

// Replicas returns the number of live read replicas
func (s *Store) Replicas() int {
	if s.conns == nil {
		return 0
	}
	return s.conns.ReplicaCount()
}

// StartReplicaMonitor pings the read replicas every interval and drops the
// ones that stop answering, so history reads fall back to healthy connections.
// It returns immediately when there are no replicas and stops with ctx.
func (s *Store) StartReplicaMonitor(ctx context.Context, interval time.Duration) {
	if s.Replicas() == 0 {
		return
	}
	go func() {
		defer observability.RecoverPanic(s.logger, "replica monitor")

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(ctx, s.conns.config.Timeout)
				removed := s.conns.RemoveUnhealthyReplicas(pingCtx)
				cancel()
				if removed == 0 {
					continue
				}
				remaining := s.conns.ReplicaCount()
				s.logger.WithFields(map[string]interface{}{
					"removed":   removed,
					"remaining": remaining,
				}).Warn("dropped unhealthy read replicas")
				if remaining == 0 {
					return
				}
			}
		}
	}()
}

// Close closes every connection
func (s *Store) Close() error {
	if s.conns != nil {
		return s.conns.Close()
	}
	return s.primary.Close()
}

// classify maps driver failures onto the credits error taxonomy
func (s *Store) classify(operation string, err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) || isUnavailable(err) {
		s.metrics.RecordStoreError(operation, "unavailable")
		return fmt.Errorf("%w: %s: %w", credits.ErrStoreUnavailable, operation, err)
	}
	return err
}

func (s *Store) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.retry.InitialInterval
	exp.MaxInterval = s.retry.MaxInterval
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, s.retry.MaxRetries), ctx)
}

// WithUserTx runs fn in a transaction that holds the user's row lock and
// retries it on serialization failures, deadlocks and busy databases
func (s *Store) WithUserTx(ctx context.Context, userID string, fn func(ctx context.Context, tx credits.Tx) error) error {
	attempt := 0
	op := func() error {
		attempt++
		err := s.runTx(ctx, userID, fn)
		if err == nil {
			return nil
		}
		if isTransient(err) {
			s.metrics.RecordStoreRetry(string(s.dialect))
			s.logger.WithError(err).WithField("user_id", userID).Debugf("retrying transaction after attempt %d", attempt)
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(op, s.newBackOff(ctx))
	return s.classify("transaction", err)
}

func (s *Store) runTx(ctx context.Context, userID string, fn func(ctx context.Context, tx credits.Tx) error) (err error) {
	sqlTx, err := s.primary.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.WithError(rbErr).Warn("rollback failed")
			}
		}
	}()

	if err := fn(ctx, &userTx{tx: sqlTx, userID: userID, dialect: s.dialect}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

const balanceColumns = `user_id, total_credits, free_credits, subscription_credits,
	subscription_expires_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBalance(row rowScanner) (*credits.Balance, error) {
	var b credits.Balance
	var expiresAt sql.NullTime
	if err := row.Scan(
		&b.UserID,
		&b.TotalCredits,
		&b.FreeCredits,
		&b.SubscriptionCredits,
		&expiresAt,
		&b.CreatedAt,
		&b.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, credits.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan balance: %w", err)
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		b.SubscriptionExpiresAt = &t
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()

	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBalance reads the balance from the primary
func (s *Store) GetBalance(ctx context.Context, userID string) (*credits.Balance, error) {
	query := s.dialect.rebind(`SELECT ` + balanceColumns + ` FROM user_credits WHERE user_id = ?`)
	b, err := scanBalance(s.primary.QueryRowContext(ctx, query, userID))
	return b, s.classify("get_balance", err)
}

// ListExpiredUsers pages through users whose subscription credits have lapsed
func (s *Store) ListExpiredUsers(ctx context.Context, now time.Time, afterUserID string, limit int) ([]string, error) {
	query := s.dialect.rebind(`
		SELECT user_id
		FROM user_credits
		WHERE subscription_credits > 0
			AND subscription_expires_at < ?
			AND user_id > ?
		ORDER BY user_id
		LIMIT ?
	`)

	rows, err := s.primary.QueryContext(ctx, query, now.UTC(), afterUserID, limit)
	if err != nil {
		return nil, s.classify("list_expired", fmt.Errorf("failed to list expired users: %w", err))
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		users = append(users, userID)
	}
	return users, s.classify("list_expired", rows.Err())
}

// ListTransactions returns the newest ledger entries first
func (s *Store) ListTransactions(ctx context.Context, userID string, limit int) ([]*credits.Transaction, error) {
	query := s.dialect.rebind(`
		SELECT id, user_id, amount, transaction_type, description, metadata, created_at
		FROM credit_transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`)

	rows, err := s.reader().QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, s.classify("list_transactions", fmt.Errorf("failed to list transactions: %w", err))
	}
	defer rows.Close()

	txns := []*credits.Transaction{}
	for rows.Next() {
		var t credits.Transaction
		var txType string
		var metadata sql.NullString
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &txType, &t.Description, &metadata, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.Type = credits.TransactionType(txType)
		t.CreatedAt = t.CreatedAt.UTC()
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &t.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata of transaction %s: %w", t.ID, err)
			}
		}
		txns = append(txns, &t)
	}
	return txns, s.classify("list_transactions", rows.Err())
}

// ListSubscriptions returns the newest subscription records first
func (s *Store) ListSubscriptions(ctx context.Context, userID string, limit int) ([]*credits.Subscription, error) {
	query := s.dialect.rebind(`
		SELECT id, user_id, payment_ref, amount_cents, status, credits_granted, expires_at, created_at
		FROM subscriptions
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`)

	rows, err := s.reader().QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, s.classify("list_subscriptions", fmt.Errorf("failed to list subscriptions: %w", err))
	}
	defer rows.Close()

	subs := []*credits.Subscription{}
	for rows.Next() {
		var sub credits.Subscription
		var status string
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.PaymentRef, &sub.AmountCents, &status,
			&sub.CreditsGranted, &sub.ExpiresAt, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		sub.Status = credits.SubscriptionStatus(status)
		sub.ExpiresAt = sub.ExpiresAt.UTC()
		sub.CreatedAt = sub.CreatedAt.UTC()
		subs = append(subs, &sub)
	}
	return subs, s.classify("list_subscriptions", rows.Err())
}

// SumTransactions returns the ledger sum for a user
func (s *Store) SumTransactions(ctx context.Context, userID string) (int64, error) {
	query := s.dialect.rebind(`SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE user_id = ?`)

	var sum int64
	if err := s.primary.QueryRowContext(ctx, query, userID).Scan(&sum); err != nil {
		return 0, s.classify("sum_transactions", fmt.Errorf("failed to sum transactions: %w", err))
	}
	return sum, nil
}
