package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/keygate/keygate/internal/model"
)

// RateLimit returns an HTTP middleware that limits requests per client IP
// to the specified number per minute, before any credential is looked at.
// It guards the key store against floods of bogus keys; per-key quotas are
// enforced by the gate. A non-positive limit disables it.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, model.CodeTooManyRequests,
				"Too many requests from this address")
		}),
	)
}

// RateLimitByHeader returns an HTTP middleware that limits requests by
// a specific header value to the specified number per minute. Requests
// without the header are keyed by client IP. The session endpoint uses it
// to slow password guessing per address.
func RateLimitByHeader(headerName string, requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if v := r.Header.Get(headerName); v != "" {
				return v, nil
			}
			return httprate.KeyByRealIP(r)
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, model.CodeTooManyRequests, "Too many attempts")
		}),
	)
}
