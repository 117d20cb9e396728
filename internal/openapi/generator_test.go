package openapi

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestGenerate_Info(t *testing.T) {
	doc := Generate("http://localhost:8080", "", nil)

	if doc.OpenAPI != "3.1.0" {
		t.Errorf("OpenAPI = %q, want 3.1.0", doc.OpenAPI)
	}
	if doc.Info.Version != "1.0.0" {
		t.Errorf("default version = %q, want 1.0.0", doc.Info.Version)
	}
	if len(doc.Servers) != 1 || doc.Servers[0].URL != "http://localhost:8080" {
		t.Errorf("servers = %+v", doc.Servers)
	}
	if got := Generate("", "2.3.4", nil).Info.Version; got != "2.3.4" {
		t.Errorf("version = %q, want 2.3.4", got)
	}
}

func TestGenerate_Paths(t *testing.T) {
	doc := Generate("http://localhost:8080", "1.0.0", nil)

	tests := []struct {
		path    string
		methods []string
	}{
		{"/healthz", []string{"GET"}},
		{"/readyz", []string{"GET"}},
		{"/api/v1/whoami", []string{"GET"}},
		{"/api/v1/gw/{upstream}/{path}", []string{"GET", "POST", "PUT", "PATCH", "DELETE"}},
		{"/api/v1/admin/session", []string{"POST", "GET", "DELETE"}},
		{"/api/v1/admin/keys", []string{"GET", "POST"}},
		{"/api/v1/admin/keys/{keyId}", []string{"GET", "PATCH", "DELETE"}},
		{"/api/v1/admin/keys/{keyId}/rotate", []string{"POST"}},
		{"/api/v1/admin/keys/{keyId}/stats", []string{"GET"}},
		{"/api/v1/admin/stats/overview", []string{"GET"}},
		{"/api/v1/admin/logs", []string{"GET", "DELETE"}},
		{"/api/v1/admin/sweep", []string{"POST"}},
	}
	for _, tt := range tests {
		item := doc.Paths.Find(tt.path)
		if item == nil {
			t.Errorf("missing path %s", tt.path)
			continue
		}
		for _, m := range tt.methods {
			if item.GetOperation(m) == nil {
				t.Errorf("%s %s: missing operation", m, tt.path)
			}
		}
	}
}

func TestGenerate_Security(t *testing.T) {
	doc := Generate("http://localhost:8080", "1.0.0", nil)

	for _, name := range []string{"apiKey", "apiKeyQuery", "bearerAuth"} {
		if doc.Components.SecuritySchemes[name] == nil {
			t.Errorf("missing security scheme %q", name)
		}
	}

	whoami := doc.Paths.Find("/api/v1/whoami").Get
	if whoami.Security == nil || len(*whoami.Security) != 2 {
		t.Fatalf("whoami security = %+v, want apiKey or apiKeyQuery", whoami.Security)
	}

	keys := doc.Paths.Find("/api/v1/admin/keys").Get
	if keys.Security == nil || len(*keys.Security) != 1 {
		t.Fatalf("listKeys security = %+v", keys.Security)
	}
	if _, ok := (*keys.Security)[0]["bearerAuth"]; !ok {
		t.Error("admin operations should require bearerAuth")
	}

	login := doc.Paths.Find("/api/v1/admin/session").Post
	if login.Security == nil || len(*login.Security) != 0 {
		t.Error("login should override security with an empty requirement")
	}
}

func TestGenerate_GatewayErrorResponses(t *testing.T) {
	doc := Generate("http://localhost:8080", "1.0.0", nil)
	op := doc.Paths.Find("/api/v1/gw/{upstream}/{path}").Get

	for _, code := range []string{"200", "401", "403", "404", "429", "502", "503"} {
		if op.Responses.Value(code) == nil {
			t.Errorf("gateway operation missing %s response", code)
		}
	}
}

func TestGenerate_UpstreamEnum(t *testing.T) {
	doc := Generate("http://localhost:8080", "1.0.0", []string{"billing", "search"})
	item := doc.Paths.Find("/api/v1/gw/{upstream}/{path}")

	var enum []interface{}
	for _, p := range item.Parameters {
		if p.Value.Name == "upstream" {
			enum = p.Value.Schema.Value.Enum
		}
	}
	if len(enum) != 2 || enum[0] != "billing" || enum[1] != "search" {
		t.Errorf("upstream enum = %v", enum)
	}
}

func TestGenerate_ComponentSchemas(t *testing.T) {
	doc := Generate("http://localhost:8080", "1.0.0", nil)

	for _, name := range []string{
		"ErrorResponse", "Quota", "APIKey", "CreateKeyRequest", "UpdateKeyRequest",
		"SecretResponse", "UsageLogEntry", "EndpointUsage", "UsageSummary",
		"KeyStats", "Overview", "LoginRequest", "LoginResponse",
	} {
		if doc.Components.Schemas[name] == nil {
			t.Errorf("missing component schema %q", name)
		}
	}

	errSchema := doc.Components.Schemas["ErrorResponse"].Value.Properties["error"].Value
	if errSchema.Properties["retryAfter"] == nil {
		t.Error("ErrorResponse should describe retryAfter")
	}
}

func TestGenerate_MarshalsJSON(t *testing.T) {
	doc := Generate("http://localhost:8080", "1.0.0", []string{"billing"})

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"#/components/schemas/APIKey"`) {
		t.Error("marshalled document should reference the APIKey schema")
	}
}
