package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/platinummonkey/credits/pkg/httputil"
	"github.com/platinummonkey/credits/pkg/observability"
)

// SecretAuth protects scheduler and admin endpoints with a shared bearer secret.
// An empty secret disables the endpoints: every request is rejected.
func SecretAuth(secret string, logger *observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	logger = logger.WithField("component", "secret_auth")
	expected := []byte(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				logger.WithField("path", r.URL.Path).Warn("Secret-protected endpoint called but no secret is configured")
				httputil.WriteUnauthorized(w, "Unauthorized")
				return
			}

			token, err := httputil.BearerToken(r)
			if err != nil || subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
				httputil.WriteUnauthorized(w, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
