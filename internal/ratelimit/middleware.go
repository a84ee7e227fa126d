package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/interestplan/mortgage-agent/pkg/guard"
	"go.uber.org/zap"
)

// ClientKey resolves the client identity for quota accounting. Precedence:
// first entry of X-Forwarded-For, then X-Real-IP, then the raw connection
// address. The order matters behind shared proxies, where the connection
// address would lump distinct clients together.
func ClientKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := strings.SplitN(forwarded, ",", 2)[0]
		if key := strings.TrimSpace(first); key != "" {
			return key
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Middleware rejects requests exceeding the limiter's budget with a
// THROTTLED failure before any handler work runs.
func Middleware(limiter *Limiter, logger *zap.Logger, next http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ClientKey(r)
		if !limiter.Allow(key) {
			logger.Warn("request throttled",
				zap.String("op", "ratelimit.Middleware"),
				zap.String("client", key),
				zap.String("path", r.URL.Path),
			)

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(&guard.ValidationError{
				Code:    guard.CodeThrottled,
				Message: "rate limit exceeded, retry later",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
