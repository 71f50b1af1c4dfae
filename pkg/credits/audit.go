package credits

import (
	"context"
	"fmt"
	"time"
)

// VerifyLedger recomputes the ledger sum for a user and compares it with the
// stored total. The report is returned together with a wrapped
// ErrInvariantViolation when they disagree.
func (s *Service) VerifyLedger(ctx context.Context, userID string) (*LedgerReport, error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "VerifyLedger", userID)

	report, err := s.verifyLedger(ctx, userID)
	s.finish(span, "verify_ledger", outcomeFor(err), start, err)
	return report, err
}

func (s *Service) verifyLedger(ctx context.Context, userID string) (*LedgerReport, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}

	// read the store directly; a cached copy could hide a divergence
	b, err := s.store.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	sum, err := s.store.SumTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum ledger: %w", err)
	}

	report := &LedgerReport{
		UserID:       userID,
		TotalCredits: b.TotalCredits,
		LedgerSum:    sum,
		Consistent:   sum == b.TotalCredits,
	}
	if !report.Consistent {
		s.logger.WithFields(map[string]interface{}{
			"user_id":    userID,
			"total":      b.TotalCredits,
			"ledger_sum": sum,
		}).Error("ledger sum does not match balance")
		return report, fmt.Errorf("%w: ledger sum %d != total %d for user %s", ErrInvariantViolation, sum, b.TotalCredits, userID)
	}
	return report, nil
}
