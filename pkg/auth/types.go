package auth

import (
	"context"
	"errors"
)

var (
	// ErrMissingToken means no credentials were presented
	ErrMissingToken = errors.New("missing token")

	// ErrInvalidToken means the credentials failed verification
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is the authenticated caller
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Issuer string `json:"issuer,omitempty"`
	// Method records which authenticator accepted the token ("oidc", "static")
	Method string `json:"method"`
}

// Authenticator turns a raw bearer token into an Identity
type Authenticator interface {
	Authenticate(ctx context.Context, rawToken string) (*Identity, error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface
type AuthenticatorFunc func(ctx context.Context, rawToken string) (*Identity, error)

// Authenticate calls f(ctx, rawToken)
func (f AuthenticatorFunc) Authenticate(ctx context.Context, rawToken string) (*Identity, error) {
	return f(ctx, rawToken)
}

// IsUnauthenticated reports whether err should be answered with 401
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrMissingToken) || errors.Is(err, ErrInvalidToken)
}
