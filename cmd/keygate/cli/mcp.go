package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	kmcp "github.com/keygate/keygate/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		addr      string
		readOnly  bool
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes key management and
usage analytics as tools for AI agents. Supports stdio (default) and HTTP
transports.

In stdio mode, the MCP server communicates over stdin/stdout using JSON-RPC,
suitable for direct integration with desktop MCP clients.

With --read-only only the inspection tools are registered; nothing can
create, change, rotate or delete keys.`,
		Example: `  keygate mcp                                   # stdio mode
  keygate mcp --transport http --addr :3001     # streamable HTTP
  keygate mcp --read-only`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// stdout belongs to the protocol in stdio mode.
			logger := newLogger(cfg, os.Stderr)

			a, err := openApp(cmd.Context(), cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := kmcp.NewMCPServer(a.keys, a.stats, logger, kmcp.Options{
				Version:  versionString(),
				ReadOnly: readOnly,
			})

			switch transport {
			case "stdio":
				return srv.ServeStdio()
			case "http":
				logger.Info("starting MCP HTTP server", "addr", addr, "read_only", readOnly)
				return srv.ServeHTTP(addr)
			default:
				return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
			}
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().StringVar(&addr, "addr", ":3001", "Listen address (only used with --transport http)")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "Register only the read-only tools")

	return cmd
}
