package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Metadata keys written on ledger entries
const (
	MetadataPaymentRef = "payment_ref"
	MetadataAmount     = "amount"
)

// GrantInitialCredits creates the user's balance with the free quota.
// It is idempotent: an existing balance, including one created by a concurrent
// caller, is reported as AlreadyGranted.
func (s *Service) GrantInitialCredits(ctx context.Context, userID string) (*InitialGrantResult, error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "GrantInitialCredits", userID)

	result, err := s.grantInitial(ctx, userID)

	outcome := outcomeFor(err)
	if err == nil && result.AlreadyGranted {
		outcome = "already_granted"
	}
	s.finish(span, "grant_initial", outcome, start, err)
	return result, err
}

func (s *Service) grantInitial(ctx context.Context, userID string) (*InitialGrantResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}

	now := s.timestamp()
	quota := s.freeCredits
	var result *InitialGrantResult

	err := s.store.WithUserTx(ctx, userID, func(ctx context.Context, tx Tx) error {
		_, err := tx.Balance(ctx)
		if err == nil {
			result = &InitialGrantResult{AlreadyGranted: true}
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		created, err := tx.CreateBalance(ctx, &Balance{
			UserID:       userID,
			TotalCredits: quota,
			FreeCredits:  quota,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			return err
		}
		if !created {
			result = &InitialGrantResult{AlreadyGranted: true}
			return nil
		}

		if quota > 0 {
			if err := tx.AppendTransaction(ctx, &Transaction{
				UserID:      userID,
				Amount:      quota,
				Type:        TransactionGrantInitial,
				Description: "Initial free credits",
				CreatedAt:   now,
			}); err != nil {
				return err
			}
		}

		result = &InitialGrantResult{Granted: true, Amount: quota}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to grant initial credits: %w", err)
	}

	if result.Granted {
		s.metrics.RecordGranted(string(TransactionGrantInitial), quota)
		s.logger.WithField("user_id", userID).Infof("granted %d initial free credits", quota)
	}
	return result, nil
}

// GrantSubscriptionCredits adds the credits bought by a captured payment on top
// of the current balance and sets the subscription expiry to one calendar month
// from now. A repeated payment reference is a no-op reported as Duplicate.
func (s *Service) GrantSubscriptionCredits(ctx context.Context, userID, paymentRef string, amountCents int64) (*GrantResult, error) {
	return s.observeGrant(ctx, "GrantSubscriptionCredits", "grant_subscription", userID, paymentRef, amountCents, false)
}

// HandleResubscription applies a renewal payment. Remaining subscription
// credits are replaced, not stacked: the forfeited amount is written to the
// ledger as an expire entry before the new grant.
func (s *Service) HandleResubscription(ctx context.Context, userID, paymentRef string, amountCents int64) (*GrantResult, error) {
	return s.observeGrant(ctx, "HandleResubscription", "resubscribe", userID, paymentRef, amountCents, true)
}

func (s *Service) observeGrant(ctx context.Context, spanName, operation, userID, paymentRef string, amountCents int64, renewal bool) (*GrantResult, error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, spanName, userID)
	span.SetAttributes(
		attribute.String("credits.payment_ref", paymentRef),
		attribute.Int64("credits.amount_cents", amountCents),
	)

	result, err := s.grantSubscription(ctx, userID, paymentRef, amountCents, renewal)

	outcome := outcomeFor(err)
	if err == nil && result.Duplicate {
		outcome = "duplicate"
	}
	s.finish(span, operation, outcome, start, err)
	return result, err
}

func (s *Service) grantSubscription(ctx context.Context, userID, paymentRef string, amountCents int64, renewal bool) (*GrantResult, error) {
	if userID == "" || paymentRef == "" {
		return nil, fmt.Errorf("%w: user id and payment reference are required", ErrInvalidArgument)
	}
	if amountCents <= 0 {
		return nil, fmt.Errorf("%w: payment amount must be positive, got %d cents", ErrInvalidAmount, amountCents)
	}

	now := s.timestamp()
	expiresAt := now.AddDate(0, 1, 0)
	credits := s.pricing.CreditsFor(amountCents)
	amount := FormatAmount(amountCents)
	var result *GrantResult

	err := s.store.WithUserTx(ctx, userID, func(ctx context.Context, tx Tx) error {
		exists, err := tx.SubscriptionExists(ctx, paymentRef)
		if err != nil {
			return err
		}
		if exists {
			result = &GrantResult{Duplicate: true}
			return nil
		}

		b, err := tx.Balance(ctx)
		if err != nil {
			return err
		}

		var forfeited int64
		description := fmt.Sprintf("Subscription credits ($%s)", amount)
		if renewal {
			forfeited = b.SubscriptionCredits
			b.SubscriptionCredits = credits
			description = fmt.Sprintf("Repeat subscription credits ($%s)", amount)
		} else {
			b.SubscriptionCredits += credits
		}
		b.TotalCredits = b.FreeCredits + b.SubscriptionCredits
		b.SubscriptionExpiresAt = &expiresAt
		b.UpdatedAt = now

		if err := tx.UpdateBalance(ctx, b); err != nil {
			return err
		}

		if err := tx.InsertSubscription(ctx, &Subscription{
			UserID:         userID,
			PaymentRef:     paymentRef,
			AmountCents:    amountCents,
			Status:         SubscriptionStatusActive,
			CreditsGranted: credits,
			ExpiresAt:      expiresAt,
			CreatedAt:      now,
		}); err != nil {
			return err
		}

		metadata := map[string]string{
			MetadataPaymentRef: paymentRef,
			MetadataAmount:     amount,
		}

		if forfeited > 0 {
			if err := tx.AppendTransaction(ctx, &Transaction{
				UserID:      userID,
				Amount:      -forfeited,
				Type:        TransactionExpire,
				Description: "Subscription credits replaced by renewal",
				Metadata:    metadata,
				CreatedAt:   now,
			}); err != nil {
				return err
			}
		}

		if err := tx.AppendTransaction(ctx, &Transaction{
			UserID:      userID,
			Amount:      credits,
			Type:        TransactionGrantSubscription,
			Description: description,
			Metadata:    metadata,
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		result = &GrantResult{
			Granted:   true,
			Renewal:   renewal,
			Credits:   credits,
			Forfeited: forfeited,
			ExpiresAt: &expiresAt,
		}
		return nil
	})
	if errors.Is(err, ErrDuplicatePayment) {
		// lost a race with another callback for the same reference; everything rolled back
		return &GrantResult{Duplicate: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to grant subscription credits: %w", err)
	}

	log := s.logger.WithFields(map[string]interface{}{
		"user_id":     userID,
		"payment_ref": paymentRef,
	})
	if result.Duplicate {
		log.Info("ignoring duplicate payment reference")
		return result, nil
	}

	s.invalidate(ctx, userID)
	s.metrics.RecordGranted(string(TransactionGrantSubscription), credits)
	s.metrics.RecordExpired(result.Forfeited)
	log.WithFields(map[string]interface{}{
		"credits":   credits,
		"forfeited": result.Forfeited,
		"renewal":   renewal,
	}).Info("granted subscription credits")

	return result, nil
}
