package middleware

import (
	"net/http"

	"github.com/platinummonkey/credits/pkg/auth"
	"github.com/platinummonkey/credits/pkg/contextkeys"
	"github.com/platinummonkey/credits/pkg/httputil"
	"github.com/platinummonkey/credits/pkg/observability"
)

// AuthMiddleware validates bearer tokens and records the caller in the request context
type AuthMiddleware struct {
	authenticator auth.Authenticator
	optional      bool
	logger        *observability.Logger
}

// NewAuthMiddleware creates a new auth middleware. With optional set, requests
// without an Authorization header pass through unauthenticated.
func NewAuthMiddleware(authenticator auth.Authenticator, optional bool, logger *observability.Logger) *AuthMiddleware {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AuthMiddleware{
		authenticator: authenticator,
		optional:      optional,
		logger:        logger.WithField("component", "auth_middleware"),
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" && m.optional {
			next.ServeHTTP(w, r)
			return
		}

		token, err := httputil.BearerToken(r)
		if err != nil {
			httputil.WriteUnauthorized(w, err.Error())
			return
		}

		identity, err := m.authenticator.Authenticate(r.Context(), token)
		if err != nil {
			if auth.IsUnauthenticated(err) {
				m.logger.WithError(err).
					WithField("request_id", contextkeys.GetRequestID(r.Context())).
					Debug("Rejected token")
				httputil.WriteUnauthorized(w, "invalid token")
				return
			}
			// The identity provider could not be reached
			m.logger.WithError(err).Error("Authentication failed")
			httputil.WriteServiceUnavailable(w, "authentication unavailable")
			return
		}

		ctx := contextkeys.WithIdentity(r.Context(), identity)
		ctx = contextkeys.WithUserID(ctx, identity.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetIdentity retrieves the authenticated identity from the request
func GetIdentity(r *http.Request) *auth.Identity {
	identity, _ := r.Context().Value(contextkeys.IdentityKey).(*auth.Identity)
	return identity
}

// UserID returns the authenticated user ID, or "" for anonymous requests
func UserID(r *http.Request) string {
	return contextkeys.GetUserID(r.Context())
}

// RequireUser rejects requests that reached it without an authenticated user
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserID(r) == "" {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
