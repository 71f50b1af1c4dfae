package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/platinummonkey/credits/pkg/credits"
	"github.com/platinummonkey/credits/pkg/httputil"
	"github.com/platinummonkey/credits/pkg/observability"
)

// RemainingHeader reports the balance left after a gated request was charged
const RemainingHeader = "X-Credits-Remaining"

// CreditSpender debits credits, failing with *credits.InsufficientCreditsError
// when the balance cannot cover the amount. Implemented by *credits.Service.
type CreditSpender interface {
	Require(ctx context.Context, userID string, amount int64) (*credits.ConsumeResult, error)
}

// CreditGate charges the caller before the wrapped handler runs
//
// REQUIRES: AuthMiddleware must run before this middleware
// Returns: 401 without a user, 402 when credits are short, 503 when the store is unavailable
//
// Credits are spent once the gate admits the request; a failing downstream
// handler does not refund them.
type CreditGate struct {
	spender CreditSpender
	cost    int64
	logger  *observability.Logger
}

// NewCreditGate creates a gate charging cost credits per request
func NewCreditGate(spender CreditSpender, cost int64, logger *observability.Logger) *CreditGate {
	if cost <= 0 {
		cost = 1
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &CreditGate{
		spender: spender,
		cost:    cost,
		logger:  logger.WithField("component", "credit_gate"),
	}
}

// Cost returns the credits charged per request
func (g *CreditGate) Cost() int64 {
	return g.cost
}

// Handler wraps an HTTP handler with credit consumption
func (g *CreditGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := UserID(r)
		if userID == "" {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		result, err := g.spender.Require(r.Context(), userID, g.cost)
		if err != nil {
			if !credits.IsInsufficientCredits(err) {
				g.logger.WithError(err).WithField("user_id", userID).Warn("Credit gate could not charge request")
			}
			httputil.WriteDomainError(w, r, err)
			return
		}

		w.Header().Set(RemainingHeader, strconv.FormatInt(result.Remaining, 10))
		next.ServeHTTP(w, r)
	})
}
