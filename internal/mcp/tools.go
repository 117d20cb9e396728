package mcp

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/service"
)

// registerTools registers the key and usage tools. Mutating tools are
// skipped in read-only mode.
func (s *MCPServer) registerTools() {

	// ----- Key discovery -----

	s.addTool(
		mcp.NewTool("keygate_list_keys",
			mcp.WithDescription(
				"List API keys, newest first. Returns each key's ID, display prefix, "+
					"label, state, quota, expiry and lifetime counters. Secrets are never returned.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("state",
				mcp.Description("Only return keys in this state"),
				mcp.Enum("active", "inactive"),
			),
		),
		s.handleListKeys,
	)

	s.addTool(
		mcp.NewTool("keygate_get_key",
			mcp.WithDescription("Get a single API key by ID."),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Key ID"),
			),
		),
		s.handleGetKey,
	)

	// ----- Usage reporting -----

	s.addTool(
		mcp.NewTool("keygate_key_stats",
			mcp.WithDescription(
				"Usage statistics for one key over a period: request and error totals, "+
					"average response time, per-endpoint rollups and the most recent requests.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Key ID"),
			),
			mcp.WithString("period",
				mcp.Description("Reporting window (default 24h)"),
				mcp.Enum("1h", "24h", "7d", "30d"),
			),
		),
		s.handleKeyStats,
	)

	s.addTool(
		mcp.NewTool("keygate_usage_overview",
			mcp.WithDescription(
				"Usage across all keys over a period: key counts by state, totals, "+
					"success rate, busiest endpoints and recent requests.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("period",
				mcp.Description("Reporting window (default 24h)"),
				mcp.Enum("1h", "24h", "7d", "30d"),
			),
		),
		s.handleOverview,
	)

	s.addTool(
		mcp.NewTool("keygate_query_logs",
			mcp.WithDescription(
				"Query the per-request usage log, newest first. All filters are optional "+
					"and combine with AND. Returns the matching page and the total match count.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("key_id", mcp.Description("Only requests made with this key")),
			mcp.WithString("endpoint", mcp.Description("Substring of the request path")),
			mcp.WithString("method", mcp.Description("HTTP method, e.g. GET")),
			mcp.WithNumber("status", mcp.Description("Exact HTTP status code")),
			mcp.WithString("period",
				mcp.Description("Only requests within this window"),
				mcp.Enum("1h", "24h", "7d", "30d"),
			),
			mcp.WithNumber("limit", mcp.Description("Maximum rows to return (default 50, max 500)")),
			mcp.WithNumber("offset", mcp.Description("Rows to skip for pagination")),
		),
		s.handleQueryLogs,
	)

	if s.opts.ReadOnly {
		return
	}

	// ----- Key administration -----

	s.addTool(
		mcp.NewTool("keygate_create_key",
			mcp.WithDescription(
				"Create a new active API key. The plaintext secret is returned once in "+
					"this response and cannot be retrieved later. Omit limit for an unlimited key.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("label",
				mcp.Required(),
				mcp.Description("Human-readable name, 1-100 characters"),
			),
			mcp.WithNumber("limit", mcp.Description("Requests allowed per window")),
			mcp.WithNumber("window_seconds", mcp.Description("Quota window length in seconds (required with limit)")),
			mcp.WithString("expires_at", mcp.Description("RFC 3339 expiry time in the future")),
		),
		s.handleCreateKey,
	)

	s.addTool(
		mcp.NewTool("keygate_update_key",
			mcp.WithDescription(
				"Change a key's label, state, quota or expiry. Only the supplied fields change.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("id", mcp.Required(), mcp.Description("Key ID")),
			mcp.WithString("label", mcp.Description("New label")),
			mcp.WithString("state", mcp.Description("New state"), mcp.Enum("active", "inactive")),
			mcp.WithNumber("limit", mcp.Description("New per-window limit")),
			mcp.WithNumber("window_seconds", mcp.Description("New window length in seconds")),
			mcp.WithBoolean("unlimited", mcp.Description("Remove the quota")),
			mcp.WithString("expires_at", mcp.Description("New RFC 3339 expiry time")),
			mcp.WithBoolean("clear_expiry", mcp.Description("Remove the expiry")),
		),
		s.handleUpdateKey,
	)

	s.addTool(
		mcp.NewTool("keygate_rotate_key",
			mcp.WithDescription(
				"Issue a new secret for a key. The old secret stops working immediately; "+
					"ID, quota and usage history are kept. The new secret is returned once.",
			),
			mcp.WithToolAnnotation(destructiveAnnotation()),
			mcp.WithString("id", mcp.Required(), mcp.Description("Key ID")),
		),
		s.handleRotateKey,
	)

	s.addTool(
		mcp.NewTool("keygate_delete_key",
			mcp.WithDescription(
				"Permanently delete a key together with its usage history. "+
					"Set confirm to true to proceed. Prefer setting state to inactive.",
			),
			mcp.WithToolAnnotation(destructiveAnnotation()),
			mcp.WithString("id", mcp.Required(), mcp.Description("Key ID")),
			mcp.WithBoolean("confirm", mcp.Required(), mcp.Description("Must be true")),
		),
		s.handleDeleteKey,
	)

	s.addTool(
		mcp.NewTool("keygate_sweep_expired",
			mcp.WithDescription("Deactivate every active key whose expiry has passed. Returns how many changed."),
			mcp.WithToolAnnotation(mutatingAnnotation()),
		),
		s.handleSweep,
	)
}

// --------------------------------------------------------------------------
// Read tools
// --------------------------------------------------------------------------

func (s *MCPServer) handleListKeys(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	var filter model.KeyFilter
	if st := optionalString(request, "state"); st != "" {
		state := model.KeyState(st)
		if !state.Valid() {
			return toolError("state must be 'active' or 'inactive', got %q", st)
		}
		filter.State = &state
	}

	keys, err := s.keys.List(ctx, filter)
	if err != nil {
		return serviceError(err, "keys")
	}
	return successJSON(map[string]interface{}{
		"keys":  keys,
		"count": len(keys),
	})
}

func (s *MCPServer) handleGetKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	id, err := requireString(request, "id")
	if err != nil {
		return toolError("%v", err)
	}
	key, err := s.keys.Get(ctx, id)
	if err != nil {
		return serviceError(err, "key "+id)
	}
	return successJSON(key)
}

func (s *MCPServer) handleKeyStats(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	id, err := requireString(request, "id")
	if err != nil {
		return toolError("%v", err)
	}
	stats, err := s.stats.KeyStats(ctx, id, optionalString(request, "period"))
	if err != nil {
		return serviceError(err, "key "+id)
	}
	return successJSON(stats)
}

func (s *MCPServer) handleOverview(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	ov, err := s.stats.Overview(ctx, optionalString(request, "period"))
	if err != nil {
		return serviceError(err, "overview")
	}
	return successJSON(ov)
}

func (s *MCPServer) handleQueryLogs(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	filter := model.LogFilter{
		KeyID:      optionalString(request, "key_id"),
		Endpoint:   optionalString(request, "endpoint"),
		Method:     optionalString(request, "method"),
		StatusCode: optionalInt(request, "status", 0),
		Limit:      clamp(optionalInt(request, "limit", service.DefaultLogPageSize), 1, service.MaxLogPageSize),
		Offset:     optionalInt(request, "offset", 0),
	}
	if filter.StatusCode != 0 && (filter.StatusCode < 100 || filter.StatusCode > 599) {
		return toolError("status must be an HTTP status code, got %d", filter.StatusCode)
	}
	if p := optionalString(request, "period"); p != "" {
		_, filter.Since = model.ResolvePeriod(p, time.Now().UTC())
	}

	logs, total, err := s.stats.Logs(ctx, filter)
	if err != nil {
		return serviceError(err, "usage logs")
	}
	return successJSON(map[string]interface{}{
		"logs":   logs,
		"count":  len(logs),
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// --------------------------------------------------------------------------
// Mutating tools
// --------------------------------------------------------------------------

// secretResult is the only tool output that carries a plaintext secret.
type secretResult struct {
	Key     *model.APIKey `json:"key"`
	Secret  string        `json:"secret"`
	Warning string        `json:"warning"`
}

const secretWarning = "Store this secret now. It cannot be retrieved again."

func (s *MCPServer) handleCreateKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	label, err := requireString(request, "label")
	if err != nil {
		return toolError("%v", err)
	}
	in := model.CreateKeyInput{Label: label}

	if limit := optionalInt(request, "limit", 0); limit != 0 {
		in.Quota = model.PerWindow(int64(limit), time.Duration(optionalInt(request, "window_seconds", 0))*time.Second)
	}
	if in.ExpiresAt, err = optionalTime(request, "expires_at"); err != nil {
		return toolError("%v", err)
	}

	key, secret, err := s.keys.Create(ctx, in)
	if err != nil {
		return serviceError(err, "key")
	}
	s.logger.Info("api key created via MCP", "key_id", key.ID)
	return successJSON(secretResult{Key: key, Secret: secret, Warning: secretWarning})
}

func (s *MCPServer) handleUpdateKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	id, err := requireString(request, "id")
	if err != nil {
		return toolError("%v", err)
	}

	var upd model.KeyUpdate
	if label := optionalString(request, "label"); label != "" {
		upd.Label = &label
	}
	if st := optionalString(request, "state"); st != "" {
		state := model.KeyState(st)
		upd.State = &state
	}
	if optionalBool(request, "unlimited") {
		q := model.Unlimited()
		upd.Quota = &q
	} else if limit := optionalInt(request, "limit", 0); limit != 0 {
		q := model.PerWindow(int64(limit), time.Duration(optionalInt(request, "window_seconds", 0))*time.Second)
		upd.Quota = &q
	}
	if upd.ExpiresAt, err = optionalTime(request, "expires_at"); err != nil {
		return toolError("%v", err)
	}
	upd.ClearExpiry = optionalBool(request, "clear_expiry")

	key, err := s.keys.Update(ctx, id, upd)
	if err != nil {
		return serviceError(err, "key "+id)
	}
	return successJSON(key)
}

func (s *MCPServer) handleRotateKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	id, err := requireString(request, "id")
	if err != nil {
		return toolError("%v", err)
	}
	key, secret, err := s.keys.Rotate(ctx, id)
	if err != nil {
		return serviceError(err, "key "+id)
	}
	s.logger.Info("api key rotated via MCP", "key_id", key.ID)
	return successJSON(secretResult{Key: key, Secret: secret, Warning: secretWarning})
}

func (s *MCPServer) handleDeleteKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	id, err := requireString(request, "id")
	if err != nil {
		return toolError("%v", err)
	}
	if !optionalBool(request, "confirm") {
		return toolError("refusing to delete key %s without confirm=true", id)
	}
	if err := s.keys.Delete(ctx, id); err != nil {
		return serviceError(err, "key "+id)
	}
	s.logger.Info("api key deleted via MCP", "key_id", id)
	return successJSON(map[string]interface{}{"deleted": true, "id": id})
}

func (s *MCPServer) handleSweep(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	n, err := s.keys.DeactivateExpired(ctx, time.Now())
	if err != nil {
		return serviceError(err, "sweep")
	}
	return successJSON(map[string]interface{}{"deactivated": n})
}
