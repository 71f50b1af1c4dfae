package credits

import (
	"fmt"
	"time"
)

// TransactionType classifies a ledger entry
type TransactionType string

const (
	TransactionConsume           TransactionType = "consume"
	TransactionGrantInitial      TransactionType = "grant_initial"
	TransactionGrantSubscription TransactionType = "grant_subscription"
	TransactionExpire            TransactionType = "expire"
)

// Valid reports whether t is a known transaction type
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionConsume, TransactionGrantInitial, TransactionGrantSubscription, TransactionExpire:
		return true
	}
	return false
}

// SubscriptionStatus represents the status of a subscription record
type SubscriptionStatus string

const (
	SubscriptionStatusActive SubscriptionStatus = "active"
)

// Balance is the current credit state of one user
type Balance struct {
	UserID                string     `json:"user_id"`
	TotalCredits          int64      `json:"total_credits"`
	FreeCredits           int64      `json:"free_credits"`
	SubscriptionCredits   int64      `json:"subscription_credits"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Validate checks the balance invariants. Stores call it before every write and
// after every read so a corrupted row is never persisted or served.
func (b *Balance) Validate() error {
	if b.UserID == "" {
		return fmt.Errorf("%w: balance has no user id", ErrInvariantViolation)
	}
	if b.TotalCredits < 0 || b.FreeCredits < 0 || b.SubscriptionCredits < 0 {
		return fmt.Errorf("%w: negative credits for user %s (total=%d free=%d subscription=%d)",
			ErrInvariantViolation, b.UserID, b.TotalCredits, b.FreeCredits, b.SubscriptionCredits)
	}
	if b.TotalCredits != b.FreeCredits+b.SubscriptionCredits {
		return fmt.Errorf("%w: total %d != free %d + subscription %d for user %s",
			ErrInvariantViolation, b.TotalCredits, b.FreeCredits, b.SubscriptionCredits, b.UserID)
	}
	if b.SubscriptionCredits > 0 && b.SubscriptionExpiresAt == nil {
		return fmt.Errorf("%w: subscription credits without expiry for user %s", ErrInvariantViolation, b.UserID)
	}
	return nil
}

// HasActiveSubscription reports whether the balance holds unexpired subscription credits at now
func (b *Balance) HasActiveSubscription(now time.Time) bool {
	return b.SubscriptionCredits > 0 && b.SubscriptionExpiresAt != nil && !b.SubscriptionExpiresAt.Before(now)
}

// Lapsed reports whether the subscription component should be forfeited at now
func (b *Balance) Lapsed(now time.Time) bool {
	return b.SubscriptionCredits > 0 && b.SubscriptionExpiresAt != nil && b.SubscriptionExpiresAt.Before(now)
}

// debit removes amount from the balance, drawing on subscription credits first
// because they expire. The caller checks TotalCredits >= amount.
func (b *Balance) debit(amount int64) {
	fromSubscription := min(amount, b.SubscriptionCredits)
	b.SubscriptionCredits -= fromSubscription
	b.FreeCredits -= amount - fromSubscription
	b.TotalCredits = b.FreeCredits + b.SubscriptionCredits
}

// Transaction is an append-only ledger entry. Amount is signed.
type Transaction struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	Amount      int64             `json:"amount"`
	Type        TransactionType   `json:"transaction_type"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Subscription records one captured payment. PaymentRef is unique across all users.
type Subscription struct {
	ID             string             `json:"id"`
	UserID         string             `json:"user_id"`
	PaymentRef     string             `json:"payment_ref"`
	AmountCents    int64              `json:"amount_cents"`
	Status         SubscriptionStatus `json:"status"`
	CreditsGranted int64              `json:"credits_granted"`
	ExpiresAt      time.Time          `json:"expires_at"`
	CreatedAt      time.Time          `json:"created_at"`
}

// ReasonInsufficientCredits is the consume failure reason reported to callers
const ReasonInsufficientCredits = "insufficient_credits"

// ConsumeResult is the outcome of a Consume call
type ConsumeResult struct {
	Success   bool   `json:"success"`
	Remaining int64  `json:"remaining"`
	Reason    string `json:"reason,omitempty"`
}

// InitialGrantResult is the outcome of GrantInitialCredits
type InitialGrantResult struct {
	Granted        bool  `json:"granted"`
	AlreadyGranted bool  `json:"already_granted"`
	Amount         int64 `json:"amount"`
}

// GrantResult is the outcome of a subscription grant or renewal
type GrantResult struct {
	Granted   bool       `json:"granted"`
	Duplicate bool       `json:"duplicate"`
	Renewal   bool       `json:"renewal"`
	Credits   int64      `json:"credits"`
	Forfeited int64      `json:"forfeited,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// UserError pairs a user with the error that stopped their processing
type UserError struct {
	UserID string `json:"user_id"`
	Err    error  `json:"-"`
}

func (e UserError) Error() string {
	return fmt.Sprintf("user %s: %v", e.UserID, e.Err)
}

// SweepResult is the outcome of one expiration sweep
type SweepResult struct {
	ExpiredCount int           `json:"expired"`
	FailedCount  int           `json:"failed"`
	Errors       []UserError   `json:"-"`
	Duration     time.Duration `json:"-"`
}

// LedgerReport compares a balance with the sum of its ledger entries
type LedgerReport struct {
	UserID       string `json:"user_id"`
	TotalCredits int64  `json:"total_credits"`
	LedgerSum    int64  `json:"ledger_sum"`
	Consistent   bool   `json:"consistent"`
}
