package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/credits/pkg/httputil"
	"github.com/platinummonkey/credits/pkg/observability"
	"github.com/platinummonkey/credits/pkg/payments"
)

// PaymentHandlers receives capture notifications from the payment provider
type PaymentHandlers struct {
	processor *payments.Processor
	secret    string
	logger    *observability.Logger
}

// NewPaymentHandlers creates a new PaymentHandlers
func NewPaymentHandlers(processor *payments.Processor, secret string, logger *observability.Logger) *PaymentHandlers {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &PaymentHandlers{
		processor: processor,
		secret:    secret,
		logger:    logger.WithField("component", "payment_handlers"),
	}
}

// CaptureResponse acknowledges a processed notification
type CaptureResponse struct {
	Status  string            `json:"status"`
	Outcome *payments.Outcome `json:"outcome"`
}

// RegisterRoutes registers payment routes
func (h *PaymentHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/payments/captured", h.HandleCaptured).Methods(http.MethodPost)
}

// HandleCaptured verifies, decodes and applies a payment capture.
// Redelivered notifications answer 200 with status "duplicate" so the provider stops retrying.
func (h *PaymentHandlers) HandleCaptured(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read request body")
		return
	}

	if !payments.VerifySignature(payload, r.Header.Get(payments.SignatureHeader), h.secret) {
		h.logger.WithField("request_id", observability.GetRequestID(r.Context())).Warn("Rejected payment notification with bad signature")
		httputil.WriteUnauthorized(w, "invalid signature")
		return
	}

	notification, err := payments.DecodeNotification(bytes.NewReader(payload))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	capture, err := notification.Capture()
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	outcome, err := h.processor.HandleCapture(r.Context(), capture)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidNotification) {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		httputil.WriteDomainError(w, r, err)
		return
	}

	status := "processed"
	if outcome.Grant != nil && outcome.Grant.Duplicate {
		status = "duplicate"
	}
	h.logger.WithFields(map[string]interface{}{
		"user_id":     capture.UserID,
		"payment_ref": capture.PaymentRef,
		"status":      status,
	}).Info("Payment capture handled")

	httputil.WriteSuccess(w, CaptureResponse{Status: status, Outcome: outcome})
}
