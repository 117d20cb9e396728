package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/keygate/keygate/internal/service"
)

// Options controls which tools are exposed.
type Options struct {
	Version string
	// ReadOnly hides every tool that mutates keys.
	ReadOnly bool
}

// MCPServer wraps the mcp-go server with the key administration and usage
// reporting tools, so AI agents can inspect and manage API keys.
type MCPServer struct {
	keys   *service.KeyService
	stats  *service.StatsService
	opts   Options
	logger *slog.Logger
	server *server.MCPServer
	tools  []string
}

// NewMCPServer creates an MCPServer pre-loaded with all tools and
// resources. The returned server is ready to serve over stdio or HTTP.
func NewMCPServer(keys *service.KeyService, stats *service.StatsService, logger *slog.Logger, opts Options) *MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := &MCPServer{
		keys:   keys,
		stats:  stats,
		opts:   opts,
		logger: logger,
	}

	mcpServer := server.NewMCPServer(
		"Keygate",
		opts.Version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)
	s.server = mcpServer

	s.registerTools()
	s.registerResources()
	return s
}

// Server returns the underlying mcp-go MCPServer instance.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// Tools returns the names of the registered tools in registration order.
func (s *MCPServer) Tools() []string {
	return append([]string(nil), s.tools...)
}

// ServeStdio starts the MCP server in stdio mode, for clients that launch
// keygate as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode", "read_only", s.opts.ReadOnly)
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode, listening on
// the given address (e.g. ":3001").
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr, "read_only", s.opts.ReadOnly)
	return httpServer.Start(addr)
}

func (s *MCPServer) addTool(tool mcp.Tool, h server.ToolHandlerFunc) {
	s.server.AddTool(tool, h)
	s.tools = append(s.tools, tool.Name)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(false),
	}
}

func destructiveAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
