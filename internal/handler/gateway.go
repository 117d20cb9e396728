package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keygate/keygate/internal/gate"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/server/middleware"
)

// HeaderKeyID tells the upstream which key the request was admitted under.
const HeaderKeyID = "X-Keygate-Key-Id"

// GatewayHandler forwards admitted requests to named upstream services.
// The credential is stripped before forwarding; upstreams see the key ID
// only.
type GatewayHandler struct {
	proxies map[string]*httputil.ReverseProxy
	logger  *slog.Logger
}

// NewGatewayHandler parses every upstream base URL and builds its proxy.
func NewGatewayHandler(upstreams map[string]string, timeout time.Duration, logger *slog.Logger) (*GatewayHandler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	h := &GatewayHandler{proxies: make(map[string]*httputil.ReverseProxy, len(upstreams)), logger: logger}
	for name, raw := range upstreams {
		target, err := url.Parse(raw)
		if err != nil || target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("upstream %q: invalid base URL %q", name, raw)
		}
		h.proxies[name] = h.newProxy(name, target, timeout)
	}
	return h, nil
}

func (h *GatewayHandler) newProxy(name string, target *url.URL, timeout time.Duration) *httputil.ReverseProxy {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if timeout > 0 {
		transport.ResponseHeaderTimeout = timeout
	}
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()

			pr.Out.Header.Del(middleware.HeaderAPIKey)
			q := pr.Out.URL.Query()
			q.Del("api_key")
			q.Del("apikey")
			pr.Out.URL.RawQuery = q.Encode()

			pr.Out.Header.Del(HeaderKeyID)
			if key := gate.KeyFromContext(pr.In.Context()); key != nil {
				pr.Out.Header.Set(HeaderKeyID, key.ID)
			}
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			h.logger.Warn("upstream request failed", "upstream", name, "error", err)
			writeError(w, http.StatusBadGateway, model.CodeBadGateway, "Upstream service unavailable")
		},
	}
}

// Upstreams returns the configured upstream names, sorted.
func (h *GatewayHandler) Upstreams() []string {
	names := make([]string, 0, len(h.proxies))
	for name := range h.proxies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Proxy forwards the request to the named upstream. The path after the
// upstream name becomes the upstream path.
// ANY /api/v1/gw/{upstream}/*
func (h *GatewayHandler) Proxy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "upstream")
	proxy, ok := h.proxies[name]
	if !ok {
		writeError(w, http.StatusNotFound, model.CodeNotFound, "Unknown upstream: "+name)
		return
	}

	out := r.Clone(r.Context())
	out.URL.Path = "/" + chi.URLParam(r, "*")
	out.URL.RawPath = ""
	proxy.ServeHTTP(w, out)
}

// whoamiResponse describes the caller's own key.
type whoamiResponse struct {
	ID         string            `json:"id"`
	KeyPrefix  string            `json:"key_prefix"`
	Label      string            `json:"label"`
	State      model.KeyState    `json:"state"`
	Quota      model.QuotaPolicy `json:"quota"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"`
	Remaining  *int64            `json:"remaining,omitempty"`
	ResetAt    *time.Time        `json:"reset_at,omitempty"`
	TotalCalls int64             `json:"total_requests"`
}

// Whoami returns the key the request was admitted with. Counters are as of
// admission and do not include this request.
// GET /api/v1/whoami
func (h *GatewayHandler) Whoami(w http.ResponseWriter, r *http.Request) {
	adm := gate.AdmissionFromContext(r.Context())
	if adm == nil || adm.Anonymous() {
		writeError(w, http.StatusUnauthorized, model.CodeMissingAPIKey, "API key required")
		return
	}
	key := adm.Key
	resp := whoamiResponse{
		ID:         key.ID,
		KeyPrefix:  key.KeyPrefix,
		Label:      key.Label,
		State:      key.State,
		Quota:      key.Quota,
		ExpiresAt:  key.ExpiresAt,
		TotalCalls: key.TotalRequests,
	}
	if adm.Metered && !adm.Decision.Unlimited {
		remaining, reset := adm.Decision.Remaining, adm.Decision.ResetAt.UTC()
		resp.Remaining, resp.ResetAt = &remaining, &reset
	}
	writeJSON(w, http.StatusOK, resp)
}
