package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/platinummonkey/credits/pkg/credits"
)

// EventCaptured is the only event type that grants credits
const EventCaptured = "payment.captured"

// DefaultAmount is assumed when a capture omits the amount
const DefaultAmount = "19.00"

const maxNotificationBytes = 64 << 10

var validate = validator.New()

// ErrInvalidNotification wraps decoding and validation failures
var ErrInvalidNotification = errors.New("invalid payment notification")

// Notification is the body of a captured-payment callback
type Notification struct {
	EventType  string `json:"event_type" validate:"required,eq=payment.captured"`
	PaymentRef string `json:"payment_ref" validate:"required,max=255"`
	UserID     string `json:"user_id" validate:"required,max=255"`
	Amount     string `json:"amount" validate:"omitempty,numeric"`
	Currency   string `json:"currency" validate:"omitempty,iso4217"`
}

// Capture is a validated payment, amount in cents
type Capture struct {
	UserID      string `json:"user_id"`
	PaymentRef  string `json:"payment_ref"`
	AmountCents int64  `json:"amount_cents"`
}

// DecodeNotification reads and validates a notification body
func DecodeNotification(r io.Reader) (*Notification, error) {
	var n Notification
	dec := json.NewDecoder(io.LimitReader(r, maxNotificationBytes))
	if err := dec.Decode(&n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	if err := validate.Struct(n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNotification, describe(err))
	}
	return &n, nil
}

// Capture converts the notification into a capture
func (n *Notification) Capture() (Capture, error) {
	amount := n.Amount
	if amount == "" {
		amount = DefaultAmount
	}
	cents, err := credits.ParseAmount(amount)
	if err != nil {
		return Capture{}, fmt.Errorf("%w: %w", ErrInvalidNotification, err)
	}
	return Capture{
		UserID:      n.UserID,
		PaymentRef:  n.PaymentRef,
		AmountCents: cents,
	}, nil
}

// describe flattens validator errors into "field: tag" pairs
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}
