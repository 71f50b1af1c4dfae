package payments

import (
	"context"
	"fmt"

	"github.com/platinummonkey/credits/pkg/credits"
	"github.com/platinummonkey/credits/pkg/observability"
)

// Ledger is the part of credits.Service a Processor needs
type Ledger interface {
	GrantInitialCredits(ctx context.Context, userID string) (*credits.InitialGrantResult, error)
	GrantSubscriptionCredits(ctx context.Context, userID, paymentRef string, amountCents int64) (*credits.GrantResult, error)
	HandleResubscription(ctx context.Context, userID, paymentRef string, amountCents int64) (*credits.GrantResult, error)
	Store() credits.Store
}

// Outcome reports what a capture did
type Outcome struct {
	Capture Capture                     `json:"capture"`
	Account *credits.InitialGrantResult `json:"account"`
	Grant   *credits.GrantResult        `json:"grant"`
}

// Processor applies captured payments to the ledger
type Processor struct {
	ledger Ledger
	logger *observability.Logger
}

// NewProcessor creates a processor
func NewProcessor(ledger Ledger, logger *observability.Logger) *Processor {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Processor{
		ledger: ledger,
		logger: logger.WithField("component", "payments"),
	}
}

// HandleCapture grants the credits bought by a captured payment.
//
// A user with subscription credits left is renewed (remaining credits are
// replaced); anyone else gets a fresh grant on top of their free credits. The
// balance is read from the store, not the cache. The choice is advisory: both
// operations lock the row and are idempotent per payment reference.
func (p *Processor) HandleCapture(ctx context.Context, c Capture) (*Outcome, error) {
	if c.UserID == "" || c.PaymentRef == "" {
		return nil, fmt.Errorf("%w: user id and payment reference are required", credits.ErrInvalidArgument)
	}

	account, err := p.ledger.GrantInitialCredits(ctx, c.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure account: %w", err)
	}

	b, err := p.ledger.Store().GetBalance(ctx, c.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}

	var grant *credits.GrantResult
	if b.SubscriptionCredits > 0 {
		grant, err = p.ledger.HandleResubscription(ctx, c.UserID, c.PaymentRef, c.AmountCents)
	} else {
		grant, err = p.ledger.GrantSubscriptionCredits(ctx, c.UserID, c.PaymentRef, c.AmountCents)
	}
	if err != nil {
		return nil, err
	}

	p.logger.WithFields(map[string]interface{}{
		"user_id":      c.UserID,
		"payment_ref":  c.PaymentRef,
		"amount_cents": c.AmountCents,
		"renewal":      grant.Renewal,
		"duplicate":    grant.Duplicate,
	}).Info("payment capture processed")

	return &Outcome{Capture: c, Account: account, Grant: grant}, nil
}
