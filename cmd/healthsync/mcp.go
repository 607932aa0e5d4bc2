// ABOUTME: CLI command for starting the MCP server.
// ABOUTME: Runs a stdio MCP server exposing sync triggers and status.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harperreed/healthsync/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server",
	Long: `Start the Model Context Protocol (MCP) server for AI assistant integration.

The server communicates via stdin/stdout. Logs go to stderr and the
configured log file, never to stdout.

CONFIGURATION:

  {
    "mcpServers": {
      "healthsync": {
        "command": "healthsync",
        "args": ["mcp"]
      }
    }
  }

AVAILABLE TOOLS:

  run_sync             Sync one kind of metrics
  clear_sync_state     Clear every cursor and sync timestamp
  sync_status          Per-metric sync state
  request_permissions  Grant read access to metrics

AVAILABLE RESOURCES:

  healthsync://status      Per-metric sync state
  healthsync://catalogue   Supported metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		server, err := mcp.NewServer(eng, version)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Handle shutdown signals
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigChan
			cancel()
		}()

		return server.Serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
