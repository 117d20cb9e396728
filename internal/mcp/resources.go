package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/keygate/keygate/internal/model"
)

const (
	keysURI        = "keygate://keys"
	keyStatsPrefix = "keygate://keys/"
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources() {

	// -------------------------------------------------------------------
	// keygate://keys: every key with its counters
	// -------------------------------------------------------------------
	s.server.AddResource(
		mcp.NewResource(
			keysURI,
			"API Keys",
			mcp.WithResourceDescription("All API keys with state, quota and lifetime counters."),
			mcp.WithMIMEType("application/json"),
		),
		s.handleKeysResource,
	)

	// -------------------------------------------------------------------
	// keygate://keys/{id}/stats: 24h usage for one key (template)
	// -------------------------------------------------------------------
	s.server.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"keygate://keys/{id}/stats",
			"Key Usage",
			mcp.WithTemplateDescription("Usage statistics for one key over the last 24 hours."),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleKeyStatsResource,
	)
}

func (s *MCPServer) handleKeysResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	keys, err := s.keys.List(ctx, model.KeyFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return jsonContents(keysURI, keys)
}

func (s *MCPServer) handleKeyStatsResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	uri := request.Params.URI
	id := strings.TrimSuffix(strings.TrimPrefix(uri, keyStatsPrefix), "/stats")
	if id == "" || id == uri || strings.Contains(id, "/") {
		return nil, fmt.Errorf("invalid key stats URI %q: expected keygate://keys/{id}/stats", uri)
	}

	stats, err := s.stats.KeyStats(ctx, id, model.DefaultPeriod)
	if err != nil {
		return nil, fmt.Errorf("failed to load stats for key %q: %w", id, err)
	}
	return jsonContents(uri, stats)
}

func jsonContents(uri string, v interface{}) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
