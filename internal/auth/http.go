package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// RequireAPIKey wraps next so that requests must carry key in the header
// named header. It follows the same pass-through rules as APIKeyInterceptor.
// Rejected requests get 401 with a JSON error body.
func RequireAPIKey(mode, header, key string, next http.Handler) http.Handler {
	if !enabled(mode, key) {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get(header); got == "" || !match(got, key) {
			slog.Warn("auth: rejected request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid api key"}) //nolint:errcheck
			return
		}
		next.ServeHTTP(w, r)
	})
}
