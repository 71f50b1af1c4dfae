package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/credits/pkg/credits"
)

// userTx implements credits.Tx for one user inside a database transaction
type userTx struct {
	tx      *sql.Tx
	userID  string
	dialect Dialect
}

var _ credits.Tx = (*userTx)(nil)

func (t *userTx) checkOwner(userID string) error {
	if userID != t.userID {
		return fmt.Errorf("%w: transaction for %s cannot write user %s", credits.ErrInvalidArgument, t.userID, userID)
	}
	return nil
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return id.String(), nil
}

func nullTime(b *credits.Balance) any {
	if b.SubscriptionExpiresAt == nil {
		return nil
	}
	return b.SubscriptionExpiresAt.UTC()
}

func (t *userTx) Balance(ctx context.Context) (*credits.Balance, error) {
	query := t.dialect.rebind(`SELECT ` + balanceColumns + ` FROM user_credits WHERE user_id = ?` + t.dialect.lockClause())
	return scanBalance(t.tx.QueryRowContext(ctx, query, t.userID))
}

func (t *userTx) CreateBalance(ctx context.Context, b *credits.Balance) (bool, error) {
	if err := t.checkOwner(b.UserID); err != nil {
		return false, err
	}
	if err := b.Validate(); err != nil {
		return false, err
	}

	query := t.dialect.rebind(`
		INSERT INTO user_credits (` + balanceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO NOTHING
	`)

	res, err := t.tx.ExecContext(ctx, query,
		b.UserID, b.TotalCredits, b.FreeCredits, b.SubscriptionCredits,
		nullTime(b), b.CreatedAt.UTC(), b.UpdatedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to create balance: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

func (t *userTx) UpdateBalance(ctx context.Context, b *credits.Balance) error {
	if err := t.checkOwner(b.UserID); err != nil {
		return err
	}
	if err := b.Validate(); err != nil {
		return err
	}

	query := t.dialect.rebind(`
		UPDATE user_credits
		SET total_credits = ?, free_credits = ?, subscription_credits = ?,
			subscription_expires_at = ?, updated_at = ?
		WHERE user_id = ?
	`)

	res, err := t.tx.ExecContext(ctx, query,
		b.TotalCredits, b.FreeCredits, b.SubscriptionCredits,
		nullTime(b), b.UpdatedAt.UTC(), b.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return credits.ErrNotFound
	}
	return nil
}

func (t *userTx) AppendTransaction(ctx context.Context, txn *credits.Transaction) error {
	if err := t.checkOwner(txn.UserID); err != nil {
		return err
	}
	if !txn.Type.Valid() {
		return fmt.Errorf("%w: unknown transaction type %q", credits.ErrInvalidArgument, txn.Type)
	}

	if txn.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}
		txn.ID = id
	}

	var metadata any
	if len(txn.Metadata) > 0 {
		raw, err := json.Marshal(txn.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadata = string(raw)
	}

	query := t.dialect.rebind(`
		INSERT INTO credit_transactions (id, user_id, amount, transaction_type, description, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	if _, err := t.tx.ExecContext(ctx, query,
		txn.ID, txn.UserID, txn.Amount, string(txn.Type), txn.Description, metadata, txn.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (t *userTx) SubscriptionExists(ctx context.Context, paymentRef string) (bool, error) {
	query := t.dialect.rebind(`SELECT 1 FROM subscriptions WHERE payment_ref = ?`)

	var one int
	err := t.tx.QueryRowContext(ctx, query, paymentRef).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check payment reference: %w", err)
	}
	return true, nil
}

func (t *userTx) InsertSubscription(ctx context.Context, sub *credits.Subscription) error {
	if err := t.checkOwner(sub.UserID); err != nil {
		return err
	}

	if sub.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}
		sub.ID = id
	}

	query := t.dialect.rebind(`
		INSERT INTO subscriptions (id, user_id, payment_ref, amount_cents, status, credits_granted, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)

	if _, err := t.tx.ExecContext(ctx, query,
		sub.ID, sub.UserID, sub.PaymentRef, sub.AmountCents, string(sub.Status),
		sub.CreditsGranted, sub.ExpiresAt.UTC(), sub.CreatedAt.UTC(),
	); err != nil {
		if isUniqueViolation(err) {
			return credits.ErrDuplicatePayment
		}
		return fmt.Errorf("failed to insert subscription: %w", err)
	}
	return nil
}
