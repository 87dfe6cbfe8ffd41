package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"contacts-api/internal/observability"
)

// Middleware gates the wrapped handler on the limiter, keyed by client IP.
// Cache failures fail open: a degraded limiter shouldn't take the endpoint
// down with it.
func (l *Limiter) Middleware(endpoint string, logger *observability.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter, err := l.Allow(r.Context(), clientIP(r), endpoint)
		if err != nil {
			logger.Error("rate_limit_check_failed", map[string]any{
				"endpoint": endpoint,
				"error":    err.Error(),
			})
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded, try again later"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xForwardedFor != "" {
		parts := strings.Split(xForwardedFor, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}

	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
