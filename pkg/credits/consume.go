package credits

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Consume debits amount credits from the user's balance if it can cover them.
//
// An uncovered request is not an error: the result has Success false, Reason
// ReasonInsufficientCredits and the unchanged remaining balance. Errors are
// reserved for a missing balance (ErrNotFound), a non-positive amount
// (ErrInvalidAmount) and storage failures. A lapsed subscription component is
// forfeited in the same transaction before the balance is checked, so expired
// credits are never spendable even when the sweep has not run yet.
func (s *Service) Consume(ctx context.Context, userID string, amount int64) (*ConsumeResult, error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "Consume", userID)
	span.SetAttributes(attribute.Int64("credits.amount", amount))

	result, err := s.consume(ctx, userID, amount)

	outcome := outcomeFor(err)
	if err == nil && !result.Success {
		outcome = "insufficient"
	}
	s.finish(span, "consume", outcome, start, err)
	return result, err
}

func (s *Service) consume(ctx context.Context, userID string, amount int64) (*ConsumeResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: consume amount must be positive, got %d", ErrInvalidAmount, amount)
	}

	now := s.timestamp()
	var (
		result    *ConsumeResult
		forfeited int64
	)

	err := s.store.WithUserTx(ctx, userID, func(ctx context.Context, tx Tx) error {
		b, err := tx.Balance(ctx)
		if err != nil {
			return err
		}

		forfeited, err = forfeitLapsed(ctx, tx, b, now)
		if err != nil {
			return err
		}

		if b.TotalCredits < amount {
			result = &ConsumeResult{
				Success:   false,
				Remaining: b.TotalCredits,
				Reason:    ReasonInsufficientCredits,
			}
			return nil
		}

		b.debit(amount)
		b.UpdatedAt = now
		if err := tx.UpdateBalance(ctx, b); err != nil {
			return err
		}

		if err := tx.AppendTransaction(ctx, &Transaction{
			UserID:      userID,
			Amount:      -amount,
			Type:        TransactionConsume,
			Description: "Credits consumed",
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		result = &ConsumeResult{Success: true, Remaining: b.TotalCredits}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to consume credits: %w", err)
	}

	if forfeited > 0 {
		s.metrics.RecordExpired(forfeited)
	}
	if result.Success || forfeited > 0 {
		s.invalidate(ctx, userID)
	}
	if result.Success {
		s.metrics.RecordConsumed(amount)
	} else {
		s.logger.WithFields(map[string]interface{}{
			"user_id":   userID,
			"requested": amount,
			"remaining": result.Remaining,
		}).Debug("consume rejected for insufficient credits")
	}

	return result, nil
}

// Require consumes amount credits and converts an uncovered request into an
// *InsufficientCreditsError. A missing balance is reported the same way with
// zero remaining, which is what request gates want.
func (s *Service) Require(ctx context.Context, userID string, amount int64) (*ConsumeResult, error) {
	result, err := s.Consume(ctx, userID, amount)
	if err != nil {
		if IsNotFound(err) {
			return nil, &InsufficientCreditsError{UserID: userID, Requested: amount, Remaining: 0}
		}
		return nil, err
	}
	if !result.Success {
		return result, &InsufficientCreditsError{UserID: userID, Requested: amount, Remaining: result.Remaining}
	}
	return result, nil
}
