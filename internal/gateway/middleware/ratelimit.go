package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/gateway/ratelimit"
	gwerrors "github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/logger"
)

// RateLimit returns middleware that enforces per-client limits on the
// GraphQL endpoint. Health, metrics and admin routes are never limited.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !limiter.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || !strings.HasPrefix(r.URL.Path, "/graphql") {
				next.ServeHTTP(w, r)
				return
			}

			client := ClientAddr(r)
			if !limiter.Allow(client) {
				err := gwerrors.ErrRateLimited
				logger.FromContext(r.Context()).Warn("request rejected", "client", client, "error", err)
				secs := int(limiter.RetryAfter().Seconds())
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				writeGraphQLError(w, gwerrors.HTTPStatusCode(err), err.Error(), "RATE_LIMITED")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientAddr identifies the caller: the first X-Forwarded-For hop when
// present, otherwise the connection's remote host.
func ClientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeGraphQLError writes a GraphQL-shaped error response with no data.
func writeGraphQLError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"errors": []map[string]any{{
			"message":    message,
			"extensions": map[string]string{"code": code},
		}},
	})
}
