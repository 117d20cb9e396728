package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/service"
	"github.com/keygate/keygate/internal/storage"
)

// ---------------------------------------------------------------------------
// queryInt tests
// ---------------------------------------------------------------------------

func TestQueryInt(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		key        string
		defaultVal int
		want       int
	}{
		{"returns default for missing param", "/test", "limit", 25, 25},
		{"parses integer param", "/test?limit=100", "limit", 25, 100},
		{"returns default for non-integer", "/test?limit=abc", "limit", 25, 25},
		{"parses zero", "/test?page=0", "page", 1, 0},
		{"parses negative", "/test?older_than_days=-5", "older_than_days", 0, -5},
		{"returns default for empty value", "/test?limit=", "limit", 25, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			got := queryInt(r, tt.key, tt.defaultVal)
			if got != tt.want {
				t.Errorf("queryInt(%q, %d) = %d, want %d", tt.key, tt.defaultVal, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// queryString tests
// ---------------------------------------------------------------------------

func TestQueryString(t *testing.T) {
	tests := []struct {
		name string
		url  string
		key  string
		want string
	}{
		{"returns value", "/test?endpoint=/v1/users", "endpoint", "/v1/users"},
		{"returns empty for missing", "/test", "endpoint", ""},
		{"returns empty string for empty", "/test?endpoint=", "endpoint", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			got := queryString(r, tt.key)
			if got != tt.want {
				t.Errorf("queryString(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// clampInt tests
// ---------------------------------------------------------------------------

func TestClampInt(t *testing.T) {
	tests := []struct {
		name string
		val  int
		min  int
		max  int
		want int
	}{
		{"within range", 50, 1, 500, 50},
		{"at min", 1, 1, 500, 1},
		{"at max", 500, 1, 500, 500},
		{"below min clamps to min", -5, 1, 500, 1},
		{"above max clamps to max", 5000, 1, 500, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clampInt(tt.val, tt.min, tt.max)
			if got != tt.want {
				t.Errorf("clampInt(%d, %d, %d) = %d, want %d", tt.val, tt.min, tt.max, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// readJSON tests
// ---------------------------------------------------------------------------

func TestReadJSON(t *testing.T) {
	type payload struct {
		Label string `json:"label"`
	}

	t.Run("decodes known fields", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/test", strings.NewReader(`{"label":"ci"}`))
		var p payload
		if err := readJSON(r, &p); err != nil {
			t.Fatalf("readJSON: %v", err)
		}
		if p.Label != "ci" {
			t.Errorf("label = %q, want ci", p.Label)
		}
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/test", strings.NewReader(`{"lable":"ci"}`))
		var p payload
		if err := readJSON(r, &p); err == nil {
			t.Fatal("expected error for unknown field")
		}
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/test", strings.NewReader(`{invalid}`))
		var p payload
		if err := readJSON(r, &p); err == nil {
			t.Fatal("expected error for malformed body")
		}
	})
}

// ---------------------------------------------------------------------------
// writeError tests
// ---------------------------------------------------------------------------

func TestWriteError(t *testing.T) {
	t.Run("writes JSON error response", func(t *testing.T) {
		w := httptest.NewRecorder()
		writeError(w, http.StatusBadRequest, model.CodeValidationError, "Invalid input")

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %s", ct)
		}
		body := w.Body.String()
		if !strings.Contains(body, `"status":400`) {
			t.Errorf("expected status 400 in body: %s", body)
		}
		if !strings.Contains(body, `"code":"`+model.CodeValidationError+`"`) {
			t.Errorf("expected error code in body: %s", body)
		}
		if !strings.Contains(body, `"message":"Invalid input"`) {
			t.Errorf("expected message in body: %s", body)
		}
	})

	t.Run("includes context", func(t *testing.T) {
		w := httptest.NewRecorder()
		writeError(w, http.StatusServiceUnavailable, model.CodeServiceUnavailable, "Not ready",
			map[string]interface{}{"checks": map[string]string{"store": "unavailable"}})
		if !strings.Contains(w.Body.String(), `"store":"unavailable"`) {
			t.Errorf("expected context in body: %s", w.Body.String())
		}
	})
}

// ---------------------------------------------------------------------------
// writeServiceError tests
// ---------------------------------------------------------------------------

func TestWriteServiceError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", model.NewValidationError("label", "is required"), http.StatusBadRequest, model.CodeValidationError},
		{"wrapped validation", fmt.Errorf("create: %w", model.NewValidationError("quota.limit", "bad")), http.StatusBadRequest, model.CodeValidationError},
		{"not found", storage.ErrNotFound, http.StatusNotFound, model.CodeNotFound},
		{"wrapped not found", fmt.Errorf("get: %w", storage.ErrNotFound), http.StatusNotFound, model.CodeNotFound},
		{"duplicate hash", service.ErrDuplicateHash, http.StatusServiceUnavailable, model.CodeServiceUnavailable},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError, model.CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeServiceError(w, logger, tt.err, "API key")

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), `"code":"`+tt.wantCode+`"`) {
				t.Errorf("body = %s, want code %s", w.Body.String(), tt.wantCode)
			}
		})
	}

	t.Run("hides internal detail", func(t *testing.T) {
		w := httptest.NewRecorder()
		writeServiceError(w, logger, errors.New("dsn=secret"), "API key")
		if strings.Contains(w.Body.String(), "secret") {
			t.Errorf("internal error detail leaked: %s", w.Body.String())
		}
	})
}

// ---------------------------------------------------------------------------
// writeJSON tests
// ---------------------------------------------------------------------------

func TestWriteJSON(t *testing.T) {
	t.Run("writes JSON with correct content type", func(t *testing.T) {
		w := httptest.NewRecorder()
		writeJSON(w, http.StatusOK, map[string]string{"hello": "world"})

		if w.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %s", ct)
		}
		body := w.Body.String()
		if !strings.Contains(body, `"hello":"world"`) {
			t.Errorf("expected JSON body, got: %s", body)
		}
	})
}

// ---------------------------------------------------------------------------
// requestBaseURL tests
// ---------------------------------------------------------------------------

func TestRequestBaseURL(t *testing.T) {
	r := httptest.NewRequest("GET", "http://gw.example.com/openapi.json", nil)
	if got := requestBaseURL(r); got != "http://gw.example.com" {
		t.Errorf("requestBaseURL = %q", got)
	}
	r.Header.Set("X-Forwarded-Proto", "https")
	if got := requestBaseURL(r); got != "https://gw.example.com" {
		t.Errorf("requestBaseURL behind TLS proxy = %q", got)
	}
	r.Header.Set("X-Forwarded-Proto", "gopher")
	if got := requestBaseURL(r); got != "http://gw.example.com" {
		t.Errorf("requestBaseURL ignores junk proto, got %q", got)
	}
}
