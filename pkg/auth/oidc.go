package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCAuthenticator verifies OpenID Connect ID tokens
type OIDCAuthenticator struct {
	verifier *oidc.IDTokenVerifier
}

// idClaims are the optional claims read from a verified token
type idClaims struct {
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
}

// NewOIDCAuthenticator discovers the issuer and builds a verifier for clientID
func NewOIDCAuthenticator(ctx context.Context, issuerURL, clientID string) (*OIDCAuthenticator, error) {
	if issuerURL == "" {
		return nil, fmt.Errorf("issuer URL is required")
	}
	if clientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}

	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	return NewOIDCAuthenticatorFromVerifier(provider.Verifier(&oidc.Config{ClientID: clientID})), nil
}

// NewOIDCAuthenticatorFromVerifier wraps an existing verifier
func NewOIDCAuthenticatorFromVerifier(verifier *oidc.IDTokenVerifier) *OIDCAuthenticator {
	return &OIDCAuthenticator{verifier: verifier}
}

// Authenticate verifies rawToken and maps its subject to the user ID
func (a *OIDCAuthenticator) Authenticate(ctx context.Context, rawToken string) (*Identity, error) {
	if rawToken == "" {
		return nil, ErrMissingToken
	}

	idToken, err := a.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if idToken.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}

	var claims idClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse claims: %v", ErrInvalidToken, err)
	}

	identity := &Identity{
		UserID: idToken.Subject,
		Issuer: idToken.Issuer,
		Method: "oidc",
	}
	// Unverified addresses are dropped rather than trusted
	if claims.EmailVerified == nil || *claims.EmailVerified {
		identity.Email = claims.Email
	}
	return identity, nil
}
