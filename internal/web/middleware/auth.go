package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/quartzlabs/mailpilot/internal/auth"
)

// RequireAPIKey returns middleware that enforces bearer authentication
// against the configured key verifier. An unconfigured verifier rejects all
// requests with 503 so a deployment without credentials stays closed.
func RequireAPIKey(verifier *auth.KeyVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !verifier.Configured() {
				writeError(w, http.StatusServiceUnavailable, "api is not configured")
				return
			}
			if err := verifier.Verify(bearerToken(r.Header.Get("Authorization"))); err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(headerValue string) string {
	headerValue = strings.TrimSpace(headerValue)
	const prefix = "Bearer "
	if !strings.HasPrefix(headerValue, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(headerValue, prefix))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
