package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// Middleware requires a valid bearer token or API key and stores the
// authenticated tenant id in the request context. Requests are rejected
// when no credential type is configured.
func Middleware(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !service.Enabled() {
				unauthorized(w, "authentication not configured")
				return
			}

			if token := extractBearer(r.Header); token != "" {
				tenantID, err := service.ValidateJWT(token)
				if err != nil {
					logger.Warn("jwt validation failed", "error", err, "remote", r.RemoteAddr)
					unauthorized(w, "invalid token")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenantID)))
				return
			}

			if apiKey := extractAPIKey(r.Header); apiKey != "" {
				tenantID, err := service.ValidateAPIKey(apiKey)
				if err != nil {
					logger.Warn("api key validation failed", "error", err, "remote", r.RemoteAddr)
					unauthorized(w, "invalid api key")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenantID)))
				return
			}

			unauthorized(w, "missing credentials")
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="nexushub"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg}) //nolint:errcheck
}

func extractBearer(h http.Header) string {
	for _, value := range h.Values("Authorization") {
		lower := strings.ToLower(value)
		if strings.HasPrefix(lower, "bearer ") {
			return strings.TrimSpace(value[len("bearer "):])
		}
	}
	return ""
}

func extractAPIKey(h http.Header) string {
	for _, key := range []string{"X-API-Key", "API-Key"} {
		if trimmed := strings.TrimSpace(h.Get(key)); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
