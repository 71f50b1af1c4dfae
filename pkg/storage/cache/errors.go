package cache

import "errors"

var (
	// ErrInvalidBalance is returned when Set is called with a nil or keyless balance
	ErrInvalidBalance = errors.New("cache: balance has no user id")
)
