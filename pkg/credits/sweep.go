package credits

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/credits/pkg/observability"
)

// SweepExpired forfeits the subscription credits of every user whose
// subscription expired before now.
//
// Each user is reconciled in its own transaction, so one failure never rolls
// back another user; failures are counted in the result and logged. Running the
// sweep twice is safe because the expiry predicate is re-checked under the row
// lock. The returned error is non-nil only when candidates cannot be listed.
func (s *Service) SweepExpired(ctx context.Context) (*SweepResult, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "credits.SweepExpired")
	defer span.End()

	now := s.timestamp()
	result := &SweepResult{}
	var mu sync.Mutex

	var err error
	after := ""
	for {
		var users []string
		users, err = s.store.ListExpiredUsers(ctx, now, after, s.sweepBatchSize)
		if err != nil {
			err = fmt.Errorf("failed to list expired subscriptions: %w", err)
			break
		}
		if len(users) == 0 {
			break
		}

		var g errgroup.Group
		g.SetLimit(s.sweepWorkers)
		for _, userID := range users {
			g.Go(func() error {
				forfeited, expireErr := s.expireUser(ctx, userID, now)

				mu.Lock()
				defer mu.Unlock()
				if expireErr != nil {
					result.FailedCount++
					result.Errors = append(result.Errors, UserError{UserID: userID, Err: expireErr})
					s.logger.WithError(expireErr).WithField("user_id", userID).Error("failed to expire subscription credits")
					return nil
				}
				if forfeited > 0 {
					result.ExpiredCount++
				}
				return nil
			})
		}
		_ = g.Wait()

		if len(users) < s.sweepBatchSize {
			break
		}
		after = users[len(users)-1]
	}

	result.Duration = time.Since(start)
	s.metrics.RecordSweep(result.ExpiredCount, result.FailedCount, result.Duration, err)
	span.SetAttributes(
		attribute.Int("credits.sweep.expired", result.ExpiredCount),
		attribute.Int("credits.sweep.failed", result.FailedCount),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.WithError(err).Error("expiration sweep aborted")
		return result, err
	}

	s.logger.WithFields(map[string]interface{}{
		"expired":     result.ExpiredCount,
		"failed":      result.FailedCount,
		"duration_ms": result.Duration.Milliseconds(),
	}).Info("expiration sweep complete")

	return result, nil
}

// ExpireUser reconciles a single user immediately. It reports the forfeited
// credits, zero when the subscription is absent or still active.
func (s *Service) ExpireUser(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	return s.expireUser(ctx, userID, s.timestamp())
}

func (s *Service) expireUser(ctx context.Context, userID string, now time.Time) (forfeited int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			forfeited, err = 0, observability.MustRecover(r)
		}
	}()

	txErr := s.store.WithUserTx(ctx, userID, func(ctx context.Context, tx Tx) error {
		forfeited = 0

		b, err := tx.Balance(ctx)
		if err != nil {
			return err
		}
		amount, err := forfeitLapsed(ctx, tx, b, now)
		if err != nil {
			return err
		}

		forfeited = amount
		return nil
	})
	if txErr != nil {
		return 0, txErr
	}

	if forfeited > 0 {
		s.invalidate(ctx, userID)
		s.metrics.RecordExpired(forfeited)
	}
	return forfeited, nil
}

// forfeitLapsed zeroes a lapsed subscription component on the locked balance and
// records the matching expire entry. It reports zero and writes nothing when the
// subscription is absent or still active.
func forfeitLapsed(ctx context.Context, tx Tx, b *Balance, now time.Time) (int64, error) {
	if !b.Lapsed(now) {
		return 0, nil
	}

	amount := b.SubscriptionCredits
	b.SubscriptionCredits = 0
	b.TotalCredits = b.FreeCredits
	b.UpdatedAt = now
	if err := tx.UpdateBalance(ctx, b); err != nil {
		return 0, err
	}

	if err := tx.AppendTransaction(ctx, &Transaction{
		UserID:      b.UserID,
		Amount:      -amount,
		Type:        TransactionExpire,
		Description: "Subscription credits expired",
		Metadata: map[string]string{
			"expired_at": b.SubscriptionExpiresAt.UTC().Format(time.RFC3339),
		},
		CreatedAt: now,
	}); err != nil {
		return 0, err
	}
	return amount, nil
}
