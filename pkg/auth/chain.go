package auth

import (
	"context"
	"errors"
)

type chain []Authenticator

// Chain tries each authenticator in order. Only ErrInvalidToken moves on to
// the next one; other failures are returned immediately.
func Chain(authenticators ...Authenticator) Authenticator {
	return chain(authenticators)
}

func (c chain) Authenticate(ctx context.Context, rawToken string) (*Identity, error) {
	if rawToken == "" {
		return nil, ErrMissingToken
	}
	lastErr := error(ErrInvalidToken)
	for _, a := range c {
		identity, err := a.Authenticate(ctx, rawToken)
		if err == nil {
			return identity, nil
		}
		if !errors.Is(err, ErrInvalidToken) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
