package handler

import (
	"net/http"

	"github.com/keygate/keygate/internal/openapi"
)

// OpenAPIHandler serves the API description. When no public base URL is
// configured the server entry is derived from the request.
type OpenAPIHandler struct {
	baseURL   string
	version   string
	upstreams []string
}

// NewOpenAPIHandler creates a new OpenAPIHandler.
func NewOpenAPIHandler(baseURL, version string, upstreams []string) *OpenAPIHandler {
	return &OpenAPIHandler{baseURL: baseURL, version: version, upstreams: upstreams}
}

// ServeSpec returns the OpenAPI document.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	base := h.baseURL
	if base == "" {
		base = requestBaseURL(r)
	}
	writeJSON(w, http.StatusOK, openapi.Generate(base, h.version, h.upstreams))
}

func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	return scheme + "://" + r.Host
}
