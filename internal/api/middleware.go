package api

import (
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/shehryarbajwa/invite-runner/internal/ratelimit"
	"github.com/shehryarbajwa/invite-runner/internal/telemetry"
)

// RateLimitMiddleware throttles requests per account.
func RateLimitMiddleware(limiter *ratelimit.Limiter, metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account := accountID(r)
			limit := strconv.Itoa(limiter.PerHour())

			if !limiter.Allow(account) {
				metrics.Rejected("rate_limited")
				w.Header().Set("X-RateLimit-Limit", limit)
				w.Header().Set("X-RateLimit-Remaining", "0")
				writeError(w, http.StatusTooManyRequests,
					fmt.Sprintf("Rate limit exceeded. Maximum %s requests per hour per account.", limit))
				return
			}

			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limiter.Remaining(account)))
			next.ServeHTTP(w, r)
		})
	}
}

// accountID keys the limiter: the X-Account-ID header, else the client address.
func accountID(r *http.Request) string {
	if id := r.Header.Get("X-Account-ID"); id != "" {
		return "account:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

// corsMiddleware adds CORS headers.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Account-ID, X-Correlation-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
