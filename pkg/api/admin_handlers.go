package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/credits/pkg/credits"
	"github.com/platinummonkey/credits/pkg/httputil"
	"github.com/platinummonkey/credits/pkg/observability"
)

// AdminHandlers serves scheduler and operator endpoints
type AdminHandlers struct {
	service *credits.Service
	logger  *observability.Logger
}

// NewAdminHandlers creates a new AdminHandlers
func NewAdminHandlers(service *credits.Service, logger *observability.Logger) *AdminHandlers {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AdminHandlers{
		service: service,
		logger:  logger.WithField("component", "admin_handlers"),
	}
}

// SweepResponse reports one expiration sweep
type SweepResponse struct {
	Expired    int      `json:"expired"`
	Failed     int      `json:"failed"`
	FailedIDs  []string `json:"failed_user_ids,omitempty"`
	DurationMS int64    `json:"duration_ms"`
}

// RegisterCronRoutes registers scheduler routes; the router must run SecretAuth
func (h *AdminHandlers) RegisterCronRoutes(router *mux.Router) {
	// Hosted schedulers differ on the method they call with
	router.HandleFunc("/expire-credits", h.ExpireCredits).Methods(http.MethodGet, http.MethodPost)
}

// RegisterRoutes registers operator routes; the router must run SecretAuth
func (h *AdminHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ledger/{userID}/verify", h.VerifyLedger).Methods(http.MethodGet)
	router.HandleFunc("/users/{userID}/expire", h.ExpireUser).Methods(http.MethodPost)
}

// ExpireCredits runs the expiration sweep
func (h *AdminHandlers) ExpireCredits(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.SweepExpired(r.Context())
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}

	resp := SweepResponse{
		Expired:    result.ExpiredCount,
		Failed:     result.FailedCount,
		DurationMS: result.Duration.Milliseconds(),
	}
	for _, ue := range result.Errors {
		resp.FailedIDs = append(resp.FailedIDs, ue.UserID)
	}
	httputil.WriteSuccess(w, resp)
}

// VerifyLedger compares a user's ledger sum with the stored total.
// A divergence answers 409 with the report.
func (h *AdminHandlers) VerifyLedger(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return
	}

	report, err := h.service.VerifyLedger(r.Context(), userID)
	if err != nil {
		if report != nil {
			httputil.WriteJSON(w, http.StatusConflict, report)
			return
		}
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, report)
}

// ExpireUser forfeits one user's lapsed subscription credits without waiting for the sweep
func (h *AdminHandlers) ExpireUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return
	}

	forfeited, err := h.service.ExpireUser(r.Context(), userID)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	h.logger.WithField("user_id", userID).WithField("forfeited", forfeited).Info("Expired user on request")
	httputil.WriteSuccess(w, map[string]interface{}{
		"user_id":   userID,
		"forfeited": forfeited,
	})
}
