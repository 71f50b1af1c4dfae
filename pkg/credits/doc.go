// Package credits implements the credit ledger and subscription lifecycle.
//
// # Overview
//
// Every user owns one Balance. A balance is split into free credits (granted once
// at first login) and subscription credits (granted per captured payment and
// forfeited when the subscription lapses). The total is always the sum of the two
// components, and every change to a balance is paired with an append-only
// Transaction whose amounts sum to the current total.
//
// # Operations
//
//   - Consume reserves credits before a paid operation runs.
//   - GrantInitialCredits creates the balance with the free quota, once.
//   - GrantSubscriptionCredits adds credits for a captured payment.
//   - HandleResubscription replaces any remaining subscription credits on renewal.
//   - SweepExpired forfeits subscription credits whose expiry has passed.
//   - VerifyLedger recomputes the ledger sum and compares it with the balance.
//
// # Concurrency
//
// The Service holds no mutable state of its own. Each mutation runs inside
// Store.WithUserTx, which serializes writers per user with a row lock and retries
// transient conflicts. Users are independent of each other.
//
// # Idempotency
//
// Subscription grants are keyed by the payment reference. A repeated callback for
// the same reference is reported as a duplicate with a nil error and mutates nothing.
//
// # Usage
//
//	svc := credits.NewService(store,
//		credits.WithPricing(pricing),
//		credits.WithLogger(logger),
//		credits.WithMetrics(metrics),
//	)
//
//	res, err := svc.Consume(ctx, userID, 1)
//	if err != nil {
//		return err
//	}
//	if !res.Success {
//		// reject with insufficient_credits
//	}
package credits
