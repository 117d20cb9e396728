package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/ratelimit"
	"github.com/keygate/keygate/internal/service"
	"github.com/keygate/keygate/internal/storage/memory"
)

func newTestServer(t *testing.T, readOnly bool) (*MCPServer, *memory.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	keys := service.NewKeyService(store, ratelimit.NewMemoryLimiter(), logger)
	stats := service.NewStatsService(store)
	return NewMCPServer(keys, stats, logger, Options{Version: "test", ReadOnly: readOnly}), store
}

func call(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	res, err := h(context.Background(), callRequest(args))
	if err != nil {
		t.Fatalf("tool returned protocol error: %v", err)
	}
	return res
}

func decodeResult(t *testing.T, res *mcp.CallToolResult, v interface{}) {
	t.Helper()
	if res.IsError {
		t.Fatalf("tool error: %s", resultText(t, res))
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), v); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func TestRegisteredTools(t *testing.T) {
	readTools := []string{
		"keygate_list_keys", "keygate_get_key", "keygate_key_stats",
		"keygate_usage_overview", "keygate_query_logs",
	}
	writeTools := []string{
		"keygate_create_key", "keygate_update_key", "keygate_rotate_key",
		"keygate_delete_key", "keygate_sweep_expired",
	}

	full, _ := newTestServer(t, false)
	if got := full.Tools(); strings.Join(got, ",") != strings.Join(append(readTools, writeTools...), ",") {
		t.Errorf("tools = %v", got)
	}

	ro, _ := newTestServer(t, true)
	if got := ro.Tools(); strings.Join(got, ",") != strings.Join(readTools, ",") {
		t.Errorf("read-only tools = %v", got)
	}
}

func TestCreateAndInspectKey(t *testing.T) {
	s, _ := newTestServer(t, false)

	var created secretResult
	decodeResult(t, call(t, s.handleCreateKey, map[string]interface{}{
		"label":          "agent",
		"limit":          float64(100),
		"window_seconds": float64(60),
	}), &created)
	if !strings.HasPrefix(created.Secret, "kg_") || created.Key.Quota.Limit != 100 {
		t.Fatalf("created = %+v", created)
	}

	var got model.APIKey
	decodeResult(t, call(t, s.handleGetKey, map[string]interface{}{"id": created.Key.ID}), &got)
	if got.Label != "agent" || got.Quota.Window != time.Minute {
		t.Errorf("get = %+v", got)
	}

	res := call(t, s.handleGetKey, map[string]interface{}{"id": created.Key.ID})
	if strings.Contains(resultText(t, res), created.Secret) {
		t.Error("get must not expose the secret")
	}

	var list struct {
		Keys  []model.APIKey `json:"keys"`
		Count int            `json:"count"`
	}
	decodeResult(t, call(t, s.handleListKeys, map[string]interface{}{"state": "active"}), &list)
	if list.Count != 1 {
		t.Errorf("active keys = %d, want 1", list.Count)
	}
}

func TestCreateKeyValidation(t *testing.T) {
	s, _ := newTestServer(t, false)

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"missing label", map[string]interface{}{}},
		{"limit without window", map[string]interface{}{"label": "x", "limit": float64(5)}},
		{"bad expiry", map[string]interface{}{"label": "x", "expires_at": "soon"}},
		{"past expiry", map[string]interface{}{"label": "x", "expires_at": "2001-01-01T00:00:00Z"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if res := call(t, s.handleCreateKey, tt.args); !res.IsError {
				t.Errorf("expected tool error, got %s", resultText(t, res))
			}
		})
	}
}

func TestUpdateRotateDelete(t *testing.T) {
	s, _ := newTestServer(t, false)

	var created secretResult
	decodeResult(t, call(t, s.handleCreateKey, map[string]interface{}{"label": "ops"}), &created)
	id := created.Key.ID

	var updated model.APIKey
	decodeResult(t, call(t, s.handleUpdateKey, map[string]interface{}{
		"id":    id,
		"state": "inactive",
		"label": "ops-old",
	}), &updated)
	if updated.State != model.KeyStateInactive || updated.Label != "ops-old" {
		t.Errorf("updated = %+v", updated)
	}

	var rotated secretResult
	decodeResult(t, call(t, s.handleRotateKey, map[string]interface{}{"id": id}), &rotated)
	if rotated.Secret == created.Secret || rotated.Key.ID != id {
		t.Error("rotate should keep the ID and issue a new secret")
	}

	if res := call(t, s.handleDeleteKey, map[string]interface{}{"id": id}); !res.IsError {
		t.Error("delete without confirm should be refused")
	}
	if res := call(t, s.handleDeleteKey, map[string]interface{}{"id": id, "confirm": true}); res.IsError {
		t.Fatalf("delete: %s", resultText(t, res))
	}
	res := call(t, s.handleGetKey, map[string]interface{}{"id": id})
	if !res.IsError || !strings.Contains(resultText(t, res), "not found") {
		t.Errorf("get after delete = %s", resultText(t, res))
	}
}

func TestUpdateKeyUnlimited(t *testing.T) {
	s, _ := newTestServer(t, false)

	var created secretResult
	decodeResult(t, call(t, s.handleCreateKey, map[string]interface{}{
		"label": "metered", "limit": float64(10), "window_seconds": float64(60),
	}), &created)

	var updated model.APIKey
	decodeResult(t, call(t, s.handleUpdateKey, map[string]interface{}{
		"id": created.Key.ID, "unlimited": true,
	}), &updated)
	if !updated.Quota.IsUnlimited() {
		t.Errorf("quota = %+v, want unlimited", updated.Quota)
	}
}

func TestUsageTools(t *testing.T) {
	s, store := newTestServer(t, false)

	var created secretResult
	decodeResult(t, call(t, s.handleCreateKey, map[string]interface{}{"label": "traffic"}), &created)

	now := time.Now().UTC()
	for i, status := range []int{200, 200, 404} {
		entry := &model.UsageLogEntry{
			KeyID:          created.Key.ID,
			Endpoint:       "/v1/items",
			Method:         "GET",
			StatusCode:     status,
			ResponseTimeMs: int64(10 * (i + 1)),
			Timestamp:      now.Add(-time.Duration(i) * time.Minute),
		}
		if err := store.RecordUsage(context.Background(), entry); err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}

	var stats model.KeyStats
	decodeResult(t, call(t, s.handleKeyStats, map[string]interface{}{"id": created.Key.ID, "period": "1h"}), &stats)
	if stats.Summary.TotalRequests != 3 || stats.Summary.ErrorCount != 1 {
		t.Errorf("summary = %+v", stats.Summary)
	}

	var ov model.Overview
	decodeResult(t, call(t, s.handleOverview, nil), &ov)
	if ov.TotalKeys != 1 || ov.Summary.TotalRequests != 3 {
		t.Errorf("overview = %+v", ov)
	}

	var logs struct {
		Logs  []model.UsageLogEntry `json:"logs"`
		Total int64                 `json:"total"`
	}
	decodeResult(t, call(t, s.handleQueryLogs, map[string]interface{}{"status": float64(404)}), &logs)
	if logs.Total != 1 || len(logs.Logs) != 1 {
		t.Errorf("404 logs = %+v", logs)
	}

	if res := call(t, s.handleQueryLogs, map[string]interface{}{"status": float64(42)}); !res.IsError {
		t.Error("invalid status should be a tool error")
	}
}

func TestSweepTool(t *testing.T) {
	s, _ := newTestServer(t, false)

	var created secretResult
	decodeResult(t, call(t, s.handleCreateKey, map[string]interface{}{
		"label":      "brief",
		"expires_at": time.Now().Add(300 * time.Millisecond).UTC().Format(time.RFC3339Nano),
	}), &created)
	time.Sleep(400 * time.Millisecond)

	var resp struct {
		Deactivated int64 `json:"deactivated"`
	}
	decodeResult(t, call(t, s.handleSweep, nil), &resp)
	if resp.Deactivated != 1 {
		t.Errorf("deactivated = %d, want 1", resp.Deactivated)
	}
}

func TestKeyStatsResource(t *testing.T) {
	s, _ := newTestServer(t, false)

	var created secretResult
	decodeResult(t, call(t, s.handleCreateKey, map[string]interface{}{"label": "res"}), &created)

	var req mcp.ReadResourceRequest
	req.Params.URI = "keygate://keys/" + created.Key.ID + "/stats"
	contents, err := s.handleKeyStatsResource(context.Background(), req)
	if err != nil {
		t.Fatalf("handleKeyStatsResource: %v", err)
	}
	text := contents[0].(mcp.TextResourceContents).Text
	if !strings.Contains(text, created.Key.ID) {
		t.Errorf("resource should describe the key: %s", text)
	}

	req.Params.URI = "keygate://keys//stats"
	if _, err := s.handleKeyStatsResource(context.Background(), req); err == nil {
		t.Error("empty key ID should be rejected")
	}

	req.Params.URI = keysURI
	contents, err = s.handleKeysResource(context.Background(), req)
	if err != nil {
		t.Fatalf("handleKeysResource: %v", err)
	}
	if !strings.Contains(contents[0].(mcp.TextResourceContents).Text, `"label": "res"`) {
		t.Error("keys resource should list the key")
	}
}
