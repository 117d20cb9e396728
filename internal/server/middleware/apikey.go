package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/keygate/keygate/internal/gate"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/ratelimit"
)

// HeaderAPIKey is the preferred credential transport.
const HeaderAPIKey = "X-API-Key"

// queryKeyParams are the fallback credential parameters, in precedence order.
var queryKeyParams = []string{"api_key", "apikey"}

// Credential extracts the API key from the request: the X-API-Key header
// first, then the api_key and apikey query parameters.
func Credential(r *http.Request) string {
	if v := r.Header.Get(HeaderAPIKey); v != "" {
		return v
	}
	q := r.URL.Query()
	for _, p := range queryKeyParams {
		if v := q.Get(p); v != "" {
			return v
		}
	}
	return ""
}

// APIKey returns a middleware that runs every request through g. Rejected
// requests get the JSON error envelope and never reach next. Admitted
// requests carry their admission in the context and have their outcome
// recorded once next returns, including when next panics.
func APIKey(g *gate.Gate, opts gate.Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			adm, err := g.Admit(r.Context(), Credential(r), opts)
			if err != nil {
				writeRejection(w, err)
				return
			}
			if !adm.Anonymous() {
				noteKeyPrefix(r.Context(), adm.Key.KeyPrefix)
			}
			if adm.Metered {
				setQuotaHeaders(w.Header(), adm.Decision)
			}

			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			defer func() {
				status := ww.status
				v := recover()
				if v != nil {
					status = http.StatusInternalServerError
				}
				g.Complete(adm, gate.Outcome{
					Endpoint:    r.URL.Path,
					Method:      r.Method,
					StatusCode:  status,
					Duration:    time.Since(start),
					Origin:      clientIP(r),
					ClientAgent: r.UserAgent(),
				})
				if v != nil {
					panic(v)
				}
			}()

			next.ServeHTTP(ww, r.WithContext(gate.WithAdmission(r.Context(), adm)))
		})
	}
}

// setQuotaHeaders attaches the limiter state. Unlimited keys get none.
func setQuotaHeaders(h http.Header, d ratelimit.Decision) {
	if d.Unlimited {
		return
	}
	h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

func writeRejection(w http.ResponseWriter, err error) {
	rej, ok := err.(*gate.Rejection)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, model.CodeServiceUnavailable, "Authentication is temporarily unavailable")
		return
	}
	if rej.Code == model.CodeRateLimitExceeded {
		setQuotaHeaders(w.Header(), rej.Decision)
		w.Header().Set("Retry-After", strconv.FormatInt(rej.RetryAfter, 10))
	}
	writeJSON(w, rej.Status, model.ErrorResponse{
		Error: model.ErrorDetail{
			Status:     rej.Status,
			Code:       rej.Code,
			Message:    rej.Message,
			RetryAfter: rej.RetryAfter,
		},
	})
}

// clientIP returns the host part of RemoteAddr. RealIP, when mounted
// earlier in the chain, has already replaced it with the forwarded address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, model.ErrorResponse{
		Error: model.ErrorDetail{Status: status, Code: code, Message: message},
	})
}
