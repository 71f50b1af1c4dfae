package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/credits/pkg/credits"
	"github.com/platinummonkey/credits/pkg/httputil"
	"github.com/platinummonkey/credits/pkg/middleware"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// CreditHandlers serves the signed-in user's credits
type CreditHandlers struct {
	service    *credits.Service
	maxConsume int64
}

// NewCreditHandlers creates a new CreditHandlers. maxConsume caps a single
// consume request; zero or less removes the cap.
func NewCreditHandlers(service *credits.Service, maxConsume int64) *CreditHandlers {
	return &CreditHandlers{service: service, maxConsume: maxConsume}
}

// ConsumeRequest is the body of POST /v1/credits/consume. An empty body consumes one credit.
type ConsumeRequest struct {
	Amount int64 `json:"amount" validate:"gte=0"`
}

// BalanceResponse wraps a balance with derived subscription state
type BalanceResponse struct {
	*credits.Balance
	SubscriptionActive bool `json:"subscription_active"`
}

// TransactionsResponse lists ledger entries
type TransactionsResponse struct {
	Transactions []*credits.Transaction `json:"transactions"`
}

// SubscriptionsResponse lists subscription records
type SubscriptionsResponse struct {
	Subscriptions []*credits.Subscription `json:"subscriptions"`
}

// RegisterRoutes registers credit routes; the router must run AuthMiddleware
func (h *CreditHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/account/init", h.InitAccount).Methods(http.MethodPost)
	router.HandleFunc("/credits", h.GetBalance).Methods(http.MethodGet)
	router.HandleFunc("/credits/transactions", h.ListTransactions).Methods(http.MethodGet)
	router.HandleFunc("/credits/subscriptions", h.ListSubscriptions).Methods(http.MethodGet)
	router.HandleFunc("/credits/consume", h.Consume).Methods(http.MethodPost)
}

// InitAccount grants the free quota on first sign-in; repeated calls are no-ops
func (h *CreditHandlers) InitAccount(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)

	result, err := h.service.GrantInitialCredits(r.Context(), userID)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}

	status := http.StatusOK
	if result.Granted {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, result)
}

// GetBalance returns the caller's balance
func (h *CreditHandlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.service.GetBalance(r.Context(), middleware.UserID(r))
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, BalanceResponse{
		Balance:            balance,
		SubscriptionActive: balance.HasActiveSubscription(h.service.Now()),
	})
}

// ListTransactions returns the caller's ledger, newest first
func (h *CreditHandlers) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseLimit(r, defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	txns, err := h.service.ListTransactions(r.Context(), middleware.UserID(r), limit)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	if txns == nil {
		txns = []*credits.Transaction{}
	}
	httputil.WriteSuccess(w, TransactionsResponse{Transactions: txns})
}

// ListSubscriptions returns the caller's captured payments, newest first
func (h *CreditHandlers) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseLimit(r, defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	subs, err := h.service.ListSubscriptions(r.Context(), middleware.UserID(r), limit)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	if subs == nil {
		subs = []*credits.Subscription{}
	}
	httputil.WriteSuccess(w, SubscriptionsResponse{Subscriptions: subs})
}

// Consume spends credits for a paid operation performed by the caller
func (h *CreditHandlers) Consume(w http.ResponseWriter, r *http.Request) {
	req := ConsumeRequest{}
	if !httputil.DecodeOptionalAndValidate(w, r, &req) {
		return
	}
	if req.Amount == 0 {
		req.Amount = 1
	}
	if h.maxConsume > 0 && req.Amount > h.maxConsume {
		httputil.WriteBadRequest(w, fmt.Sprintf("amount: at most %d credits per request", h.maxConsume))
		return
	}

	result, err := h.service.Consume(r.Context(), middleware.UserID(r), req.Amount)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	if !result.Success {
		httputil.WriteInsufficientCredits(w, result.Remaining)
		return
	}
	httputil.WriteSuccess(w, result)
}
