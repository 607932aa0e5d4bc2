// ABOUTME: MCP server exposing sync triggers and sync status over stdio.
// ABOUTME: Wraps the MCP server around one data source's sync engine.
package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/healthsync/internal/engine"
	"github.com/harperreed/healthsync/internal/models"
)

// SyncEngine is the engine surface the server drives.
type SyncEngine interface {
	Source() string
	Run(ctx context.Context, kind models.SyncKind, metrics []models.MetricType, opts ...engine.RunOption) (*engine.SyncOutcome, error)
	ClearAllCursorsAndMetadata(ctx context.Context) (*engine.SyncOutcome, error)
	RequestPermissions(ctx context.Context, metrics []models.MetricType) error
	Status(ctx context.Context) ([]engine.KeyStatus, error)
}

// Server wraps the MCP server with engine access.
type Server struct {
	mcpServer *mcp.Server
	engine    SyncEngine
}

// NewServer creates a new MCP server for the given engine.
func NewServer(eng SyncEngine, version string) (*Server, error) {
	if version == "" {
		version = "dev"
	}
	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "healthsync",
			Version: version,
		},
		nil,
	)

	s := &Server{
		mcpServer: mcpServer,
		engine:    eng,
	}

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Serve starts the MCP server using stdio transport.
func (s *Server) Serve(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}
