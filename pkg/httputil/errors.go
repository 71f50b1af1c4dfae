package httputil

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/credits/pkg/contextkeys"
	"github.com/platinummonkey/credits/pkg/credits"
	"github.com/platinummonkey/credits/pkg/observability"
)

// Error codes returned in ErrorResponse.Error
const (
	CodeInsufficientCredits = "insufficient_credits"
	CodeNotFound            = "not_found"
	CodeInvalidRequest      = "invalid_request"
	CodeUnavailable         = "service_unavailable"
	CodeInternal            = "internal_error"
)

// StatusForError maps a credits error to an HTTP status and error code
func StatusForError(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, credits.ErrInsufficientCredits):
		return http.StatusPaymentRequired, CodeInsufficientCredits
	case errors.Is(err, credits.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, credits.ErrInvalidAmount), errors.Is(err, credits.ErrInvalidArgument):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, credits.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, CodeUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// WriteDomainError writes the response for an error returned by the credits service.
// Internal details are logged, not returned.
func WriteDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var insufficient *credits.InsufficientCreditsError
	if errors.As(err, &insufficient) {
		WriteInsufficientCredits(w, insufficient.Remaining)
		return
	}

	status, code := StatusForError(err)
	resp := ErrorResponse{
		Error:     code,
		RequestID: contextkeys.GetRequestID(r.Context()),
	}

	switch status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusPaymentRequired:
		resp.Message = err.Error()
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		resp.Message = "temporarily unavailable, retry"
		observability.FromContext(r.Context()).WithError(err).Warn("Credit store unavailable")
	default:
		observability.FromContext(r.Context()).WithError(err).Error("Request failed")
	}

	WriteJSON(w, status, resp)
}
