// Package auth resolves the caller of an HTTP request to a user identity.
//
// The credits service never manages users itself. It trusts an identity
// provider and uses the token subject as the user ID for every ledger
// operation.
//
// # Authenticators
//
// OIDCAuthenticator verifies bearer ID tokens against an OpenID Connect
// issuer:
//
//	authn, err := auth.NewOIDCAuthenticator(ctx, "https://accounts.example.com", "credits-web")
//	identity, err := authn.Authenticate(ctx, rawIDToken)
//	// identity.UserID == token "sub" claim
//
// StaticTokenAuthenticator accepts a fixed set of service tokens, for internal
// callers and local development. Tokens are kept only as SHA256 hashes:
//
//	authn, err := auth.NewStaticTokenAuthenticator(map[string]string{
//		"credits_abc123": "worker-1",
//	})
//
// Chain tries several authenticators in order and returns the first identity:
//
//	authn := auth.Chain(oidcAuthn, staticAuthn)
//
// # Errors
//
// Authenticate returns ErrMissingToken for an empty token and wraps
// ErrInvalidToken for anything that fails verification. Middleware maps both
// to 401 Unauthorized.
//
// # Related Packages
//
//   - pkg/middleware: Bearer token extraction and user context propagation
package auth
