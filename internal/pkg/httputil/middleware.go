package httputil

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// SecretHeader is the header carrying the shared secret for internal endpoints.
const SecretHeader = "X-Internal-Secret"

// RequireSecret creates middleware that protects internal endpoints with a
// shared secret. The secret may be supplied via the X-Internal-Secret header
// or an Authorization: Bearer token. Requests are rejected with 401 on
// mismatch and 503 when no secret is configured at all, so a misconfigured
// deployment fails closed.
func RequireSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				Fail(w, http.StatusServiceUnavailable, "internal secret is not configured")
				return
			}

			provided := r.Header.Get(SecretHeader)
			if provided == "" {
				authHeader := r.Header.Get("Authorization")
				if parts := strings.SplitN(authHeader, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
					provided = parts[1]
				}
			}

			if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
				Fail(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
