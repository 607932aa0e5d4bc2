// ABOUTME: MCP resource implementations for sync state.
// ABOUTME: Provides healthsync://status and healthsync://catalogue resources.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/healthsync/internal/models"
)

func (s *Server) registerResources() {
	// healthsync://status - per-metric sync state
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "healthsync://status",
		Name:        "Sync Status",
		Description: "Last sync time, due state and cursor presence for every metric key",
		MIMEType:    "application/json",
	}, s.handleStatusResource)

	// healthsync://catalogue - supported metrics
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "healthsync://catalogue",
		Name:        "Metric Catalogue",
		Description: "Supported metrics with unit, aggregation and sync kinds",
		MIMEType:    "application/json",
	}, s.handleCatalogueResource)
}

// Resource handlers

func (s *Server) handleStatusResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	out, err := s.status(ctx)
	if err != nil {
		return nil, err
	}
	return jsonResource("healthsync://status", out)
}

type catalogueEntry struct {
	Metric      models.MetricType  `json:"metric"`
	Unit        string             `json:"unit"`
	Aggregation models.Aggregation `json:"aggregation"`
	Kinds       []models.SyncKind  `json:"kinds"`
}

func (s *Server) handleCatalogueResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	entries := make([]catalogueEntry, 0, len(models.AllMetricTypes))
	for _, m := range models.AllMetricTypes {
		info := models.Catalogue[m]
		entries = append(entries, catalogueEntry{
			Metric:      m,
			Unit:        info.Unit,
			Aggregation: info.Aggregation,
			Kinds:       info.Kinds,
		})
	}
	return jsonResource("healthsync://catalogue", entries)
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
