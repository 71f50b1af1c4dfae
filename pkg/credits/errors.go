package credits

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientCredits means the balance cannot cover the request.
	// Consume reports it as a result; gates that need an error use InsufficientCreditsError.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrDuplicatePayment means the payment reference was already processed
	ErrDuplicatePayment = errors.New("duplicate payment reference")

	// ErrNotFound means the user has no balance row
	ErrNotFound = errors.New("balance not found")

	// ErrStoreUnavailable is a transient storage failure; the caller may retry
	ErrStoreUnavailable = errors.New("credit store unavailable")

	// ErrInvariantViolation means a balance or ledger failed its consistency checks
	ErrInvariantViolation = errors.New("credit invariant violation")

	// ErrInvalidAmount means a credit or payment amount was not positive or not parseable
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidArgument means a required identifier was missing
	ErrInvalidArgument = errors.New("invalid argument")
)

// InsufficientCreditsError carries the remaining balance for a rejected request
type InsufficientCreditsError struct {
	UserID    string
	Requested int64
	Remaining int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits for user %s: requested %d, remaining %d", e.UserID, e.Requested, e.Remaining)
}

// Unwrap allows errors.Is(err, ErrInsufficientCredits)
func (e *InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}

// IsInsufficientCredits checks if an error is an insufficient credits error
func IsInsufficientCredits(err error) bool {
	return errors.Is(err, ErrInsufficientCredits)
}

// IsNotFound checks if an error means the balance does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether the caller may retry the operation unchanged
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
