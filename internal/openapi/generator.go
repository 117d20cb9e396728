// Package openapi builds the OpenAPI document describing the gateway, the
// admin API and the health probes.
package openapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/getkin/kin-openapi/openapi3"
)

const (
	tagGateway = "gateway"
	tagKeys    = "keys"
	tagUsage   = "usage"
	tagAdmin   = "admin"
	tagHealth  = "health"
)

// Generate builds the document for a server at baseURL forwarding to the
// named upstreams.
func Generate(baseURL, version string, upstreams []string) *openapi3.T {
	if version == "" {
		version = "1.0.0"
	}
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Keygate API",
			Description: "API key gateway. Requests carrying a valid key are metered, rate limited and forwarded to upstream services.",
			Version:     version,
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = componentSchemas()
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["apiKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: "X-API-Key",
		},
	}
	doc.Components.SecuritySchemes["apiKeyQuery"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "query",
			Name: "api_key",
		},
	}
	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}

	doc.Paths = openapi3.NewPaths()
	addHealthPaths(doc)
	addGatewayPaths(doc, upstreams)
	addSessionPaths(doc)
	addKeyPaths(doc)
	addUsagePaths(doc)

	return doc
}

var (
	keySecurity = &openapi3.SecurityRequirements{
		{"apiKey": {}},
		{"apiKeyQuery": {}},
	}
	adminSecurity = &openapi3.SecurityRequirements{
		{"bearerAuth": {}},
	}
	noSecurity = &openapi3.SecurityRequirements{}
)

// ─── Health ─────────────────────────────────────────────────────────────────

func addHealthPaths(doc *openapi3.T) {
	healthz := operation(tagHealth, "healthz", "Liveness probe", noSecurity)
	healthz.Responses = newResponses(http.StatusOK, "Process is serving", objectSchema(openapi3.Schemas{
		"status":  stringSchema(""),
		"version": stringSchema(""),
	}))
	doc.Paths.Set("/healthz", &openapi3.PathItem{Get: healthz})

	readyz := operation(tagHealth, "readyz", "Readiness probe", noSecurity)
	readyz.Responses = newResponses(http.StatusOK, "All dependencies reachable", objectSchema(openapi3.Schemas{
		"status": stringSchema(""),
		"checks": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
	}), http.StatusServiceUnavailable)
	doc.Paths.Set("/readyz", &openapi3.PathItem{Get: readyz})
}

// ─── Gateway ────────────────────────────────────────────────────────────────

func addGatewayPaths(doc *openapi3.T, upstreams []string) {
	upstreamParam := openapi3.NewPathParameter("upstream").
		WithDescription("Configured upstream name.").
		WithSchema(openapi3.NewStringSchema())
	if len(upstreams) > 0 {
		enum := make([]interface{}, len(upstreams))
		for i, u := range upstreams {
			enum[i] = u
		}
		upstreamParam.Schema.Value.Enum = enum
	}
	pathParam := openapi3.NewPathParameter("path").
		WithDescription("Path forwarded to the upstream.").
		WithSchema(openapi3.NewStringSchema())

	item := &openapi3.PathItem{
		Parameters: openapi3.Parameters{
			{Value: upstreamParam},
			{Value: pathParam},
		},
	}
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		op := operation(tagGateway, "proxy"+method, fmt.Sprintf("Forward a %s request to an upstream", method), keySecurity)
		op.Description = "The API key is removed before forwarding. The upstream receives the key ID in X-Keygate-Key-Id."
		op.Responses = newResponses(http.StatusOK, "Upstream response", nil,
			http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound,
			http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable)
		item.SetOperation(method, op)
	}
	doc.Paths.Set("/api/v1/gw/{upstream}/{path}", item)

	whoami := operation(tagGateway, "whoami", "Describe the calling key", keySecurity)
	whoami.Responses = newResponses(http.StatusOK, "The key the request was admitted with", objectSchema(openapi3.Schemas{
		"id":             stringSchema(""),
		"key_prefix":     stringSchema(""),
		"label":          stringSchema(""),
		"state":          stringSchema(""),
		"quota":          ref("Quota"),
		"expires_at":     timeSchema(""),
		"remaining":      integerSchema("Requests left in the current window."),
		"reset_at":       timeSchema("End of the current window."),
		"total_requests": integerSchema(""),
	}), http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable)
	doc.Paths.Set("/api/v1/whoami", &openapi3.PathItem{Get: whoami})
}

// ─── Session ────────────────────────────────────────────────────────────────

func addSessionPaths(doc *openapi3.T) {
	login := operation(tagAdmin, "login", "Start an admin session", noSecurity)
	login.RequestBody = jsonBody(ref("LoginRequest"))
	login.Responses = newResponses(http.StatusOK, "Session issued", ref("LoginResponse"),
		http.StatusBadRequest, http.StatusUnauthorized, http.StatusTooManyRequests)

	me := operation(tagAdmin, "currentSession", "Describe the current session", adminSecurity)
	me.Responses = newResponses(http.StatusOK, "Session principal", objectSchema(openapi3.Schemas{
		"admin_id": integerSchema(""),
		"email":    stringSchema(""),
	}), http.StatusUnauthorized)

	logout := operation(tagAdmin, "logout", "End the current session", adminSecurity)
	logout.Responses = newResponses(http.StatusOK, "Session ended", successSchema(), http.StatusUnauthorized)

	doc.Paths.Set("/api/v1/admin/session", &openapi3.PathItem{Post: login, Get: me, Delete: logout})
}

// ─── Keys ───────────────────────────────────────────────────────────────────

func addKeyPaths(doc *openapi3.T) {
	list := operation(tagKeys, "listKeys", "List API keys", adminSecurity)
	list.Parameters = openapi3.Parameters{
		{Value: openapi3.NewQueryParameter("state").
			WithDescription("Only keys in this state.").
			WithSchema(openapi3.NewStringSchema().WithEnum("active", "inactive"))},
	}
	list.Responses = newResponses(http.StatusOK, "Keys, newest first", listSchema(ref("APIKey")),
		http.StatusBadRequest, http.StatusUnauthorized)

	create := operation(tagKeys, "createKey", "Create an API key", adminSecurity)
	create.RequestBody = jsonBody(ref("CreateKeyRequest"))
	create.Responses = newResponses(http.StatusCreated, "Key created. The secret is shown once.", ref("SecretResponse"),
		http.StatusBadRequest, http.StatusUnauthorized)

	doc.Paths.Set("/api/v1/admin/keys", &openapi3.PathItem{Get: list, Post: create})

	keyParam := openapi3.Parameters{
		{Value: openapi3.NewPathParameter("keyId").
			WithDescription("Key ID.").
			WithSchema(openapi3.NewStringSchema())},
	}

	get := operation(tagKeys, "getKey", "Get an API key", adminSecurity)
	get.Responses = newResponses(http.StatusOK, "The key", ref("APIKey"), http.StatusUnauthorized, http.StatusNotFound)

	update := operation(tagKeys, "updateKey", "Update an API key", adminSecurity)
	update.RequestBody = jsonBody(ref("UpdateKeyRequest"))
	update.Responses = newResponses(http.StatusOK, "The updated key", ref("APIKey"),
		http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound)

	del := operation(tagKeys, "deleteKey", "Delete an API key and its usage history", adminSecurity)
	del.Responses = newResponses(http.StatusOK, "Key deleted", objectSchema(openapi3.Schemas{
		"success": boolSchema(""),
		"id":      stringSchema(""),
	}), http.StatusUnauthorized, http.StatusNotFound)

	doc.Paths.Set("/api/v1/admin/keys/{keyId}", &openapi3.PathItem{
		Parameters: keyParam,
		Get:        get,
		Patch:      update,
		Delete:     del,
	})

	rotate := operation(tagKeys, "rotateKey", "Issue a new secret for a key", adminSecurity)
	rotate.Description = "The previous secret stops working immediately. Usage history is kept."
	rotate.Responses = newResponses(http.StatusOK, "New secret. Shown once.", ref("SecretResponse"),
		http.StatusUnauthorized, http.StatusNotFound)
	doc.Paths.Set("/api/v1/admin/keys/{keyId}/rotate", &openapi3.PathItem{Parameters: keyParam, Post: rotate})

	stats := operation(tagUsage, "keyStats", "Usage statistics for one key", adminSecurity)
	stats.Parameters = openapi3.Parameters{{Value: periodParameter()}}
	stats.Responses = newResponses(http.StatusOK, "Key statistics", ref("KeyStats"),
		http.StatusUnauthorized, http.StatusNotFound)
	doc.Paths.Set("/api/v1/admin/keys/{keyId}/stats", &openapi3.PathItem{Parameters: keyParam, Get: stats})
}

// ─── Usage ──────────────────────────────────────────────────────────────────

func addUsagePaths(doc *openapi3.T) {
	overview := operation(tagUsage, "overview", "Usage across all keys", adminSecurity)
	overview.Parameters = openapi3.Parameters{{Value: periodParameter()}}
	overview.Responses = newResponses(http.StatusOK, "Overview", ref("Overview"), http.StatusUnauthorized)
	doc.Paths.Set("/api/v1/admin/stats/overview", &openapi3.PathItem{Get: overview})

	logs := operation(tagUsage, "listLogs", "Query usage logs", adminSecurity)
	logs.Parameters = openapi3.Parameters{
		{Value: openapi3.NewQueryParameter("key_id").WithSchema(openapi3.NewStringSchema())},
		{Value: openapi3.NewQueryParameter("endpoint").
			WithDescription("Substring match on the request path.").
			WithSchema(openapi3.NewStringSchema())},
		{Value: openapi3.NewQueryParameter("method").WithSchema(openapi3.NewStringSchema())},
		{Value: openapi3.NewQueryParameter("status").WithSchema(openapi3.NewIntegerSchema())},
		{Value: periodParameter()},
		{Value: openapi3.NewQueryParameter("page").
			WithDescription("1-based page number.").
			WithSchema(openapi3.NewIntegerSchema())},
		{Value: openapi3.NewQueryParameter("limit").
			WithDescription("Page size. Defaults to 50, at most 500.").
			WithSchema(openapi3.NewIntegerSchema())},
	}
	logs.Responses = newResponses(http.StatusOK, "Log rows, newest first", listSchema(ref("UsageLogEntry")),
		http.StatusBadRequest, http.StatusUnauthorized)

	purge := operation(tagUsage, "purgeLogs", "Delete old usage logs", adminSecurity)
	purge.Parameters = openapi3.Parameters{
		{Value: openapi3.NewQueryParameter("older_than_days").
			WithRequired(true).
			WithDescription("Delete rows older than this many days.").
			WithSchema(openapi3.NewIntegerSchema())},
	}
	purge.Responses = newResponses(http.StatusOK, "Rows deleted", objectSchema(openapi3.Schemas{
		"deleted":         integerSchema(""),
		"older_than_days": integerSchema(""),
	}), http.StatusBadRequest, http.StatusUnauthorized)

	doc.Paths.Set("/api/v1/admin/logs", &openapi3.PathItem{Get: logs, Delete: purge})

	sweep := operation(tagKeys, "sweepExpired", "Deactivate expired keys now", adminSecurity)
	sweep.Responses = newResponses(http.StatusOK, "Keys deactivated", objectSchema(openapi3.Schemas{
		"deactivated": integerSchema(""),
	}), http.StatusUnauthorized)
	doc.Paths.Set("/api/v1/admin/sweep", &openapi3.PathItem{Post: sweep})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func operation(tag, id, summary string, security *openapi3.SecurityRequirements) *openapi3.Operation {
	return &openapi3.Operation{
		Tags:        []string{tag},
		OperationID: id,
		Summary:     summary,
		Security:    security,
	}
}

func periodParameter() *openapi3.Parameter {
	return openapi3.NewQueryParameter("period").
		WithDescription("Reporting window. Defaults to 24h.").
		WithSchema(openapi3.NewStringSchema().WithEnum("1h", "24h", "7d", "30d"))
}

func jsonBody(schema *openapi3.SchemaRef) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Required: true,
			Content:  openapi3.NewContentWithJSONSchemaRef(schema),
		},
	}
}

func successSchema() *openapi3.SchemaRef {
	return objectSchema(openapi3.Schemas{
		"success": boolSchema(""),
		"message": stringSchema(""),
	})
}

// newResponses builds the response set for an operation: the success
// response plus an ErrorResponse entry per listed error status.
func newResponses(status int, description string, schema *openapi3.SchemaRef, errorStatuses ...int) *openapi3.Responses {
	responses := openapi3.NewResponses()

	resp := &openapi3.Response{Description: &description}
	if schema != nil {
		resp.Content = openapi3.NewContentWithJSONSchemaRef(schema)
	}
	responses.Set(strconv.Itoa(status), &openapi3.ResponseRef{Value: resp})

	errorRef := ref("ErrorResponse")
	for _, code := range errorStatuses {
		desc := http.StatusText(code)
		responses.Set(strconv.Itoa(code), &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}
	return responses
}
