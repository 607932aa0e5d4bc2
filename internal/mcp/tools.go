// ABOUTME: MCP tool implementations for sync triggers.
// ABOUTME: Provides run_sync, clear_sync_state, sync_status and request_permissions.
package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/healthsync/internal/engine"
	"github.com/harperreed/healthsync/internal/models"
)

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "run_sync",
		Description: "Sync health metrics of one kind (intraday, daily or profile) to the remote service",
	}, s.handleRunSync)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "clear_sync_state",
		Description: "Clear every cursor and sync timestamp so the next sync re-reads all history",
	}, s.handleClearSyncState)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "sync_status",
		Description: "Show last sync time, due state and cursor presence for every metric",
	}, s.handleSyncStatus)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "request_permissions",
		Description: "Ask the health platform for read access to metrics",
	}, s.handleRequestPermissions)
}

// Tool input/output types

type runSyncInput struct {
	Kind    string   `json:"kind" jsonschema:"sync kind: intraday, daily or profile"`
	Metrics []string `json:"metrics,omitempty" jsonschema:"metrics to sync; defaults to every metric of the kind"`
	Force   bool     `json:"force,omitempty" jsonschema:"sync even when the metric is not due"`
	Start   string   `json:"start,omitempty" jsonschema:"window start (RFC3339 or YYYY-MM-DD)"`
	End     string   `json:"end,omitempty" jsonschema:"window end (RFC3339 or YYYY-MM-DD)"`
}

type syncOutput struct {
	JobID     string                `json:"job_id"`
	Source    string                `json:"source"`
	Operation string                `json:"operation"`
	Results   []engine.MetricResult `json:"results,omitempty"`
	ErrorKind string                `json:"error_kind,omitempty"`
	Error     string                `json:"error,omitempty"`
	Message   string                `json:"message"`
}

type emptyInput struct{}

type permissionsInput struct {
	Metrics []string `json:"metrics" jsonschema:"metrics to request read access for"`
}

type simpleOutput struct {
	Message string `json:"message"`
}

type statusOutput struct {
	Source string      `json:"source"`
	Keys   []keyStatus `json:"keys"`
}

// keyStatus mirrors engine.KeyStatus with the timestamp rendered as RFC3339.
type keyStatus struct {
	Key         string `json:"key"`
	Kind        string `json:"kind"`
	Metric      string `json:"metric"`
	LastSync    string `json:"last_sync,omitempty"`
	Due         bool   `json:"due"`
	HasCursor   bool   `json:"has_cursor"`
	MinInterval string `json:"min_interval"`
}

// Tool handlers

func (s *Server) handleRunSync(ctx context.Context, req *mcp.CallToolRequest, input runSyncInput) (*mcp.CallToolResult, syncOutput, error) {
	if !models.IsValidSyncKind(input.Kind) {
		return nil, syncOutput{}, fmt.Errorf("unknown sync kind: %q", input.Kind)
	}
	metrics, err := models.ParseMetricTypes(input.Metrics)
	if err != nil {
		return nil, syncOutput{}, err
	}

	var opts []engine.RunOption
	if input.Force {
		opts = append(opts, engine.WithForce())
	}
	if input.Start != "" || input.End != "" {
		start, err := parseTimeArg(input.Start)
		if err != nil {
			return nil, syncOutput{}, fmt.Errorf("invalid start: %w", err)
		}
		end, err := parseTimeArg(input.End)
		if err != nil {
			return nil, syncOutput{}, fmt.Errorf("invalid end: %w", err)
		}
		opts = append(opts, engine.WithRange(start, end))
	}

	o, err := s.engine.Run(ctx, models.SyncKind(input.Kind), metrics, opts...)
	if err != nil {
		return nil, syncOutput{}, fmt.Errorf("sync not started: %w", err)
	}
	return nil, outcomeOutput(o), nil
}

func (s *Server) handleClearSyncState(ctx context.Context, req *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, syncOutput, error) {
	o, err := s.engine.ClearAllCursorsAndMetadata(ctx)
	if err != nil {
		return nil, syncOutput{}, fmt.Errorf("clear not started: %w", err)
	}
	return nil, outcomeOutput(o), nil
}

func (s *Server) handleSyncStatus(ctx context.Context, req *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, statusOutput, error) {
	out, err := s.status(ctx)
	if err != nil {
		return nil, statusOutput{}, err
	}
	return nil, out, nil
}

func (s *Server) status(ctx context.Context) (statusOutput, error) {
	keys, err := s.engine.Status(ctx)
	if err != nil {
		return statusOutput{}, fmt.Errorf("failed to read status: %w", err)
	}
	out := statusOutput{Source: s.engine.Source(), Keys: make([]keyStatus, 0, len(keys))}
	for _, k := range keys {
		ks := keyStatus{
			Key:         k.Key,
			Kind:        string(k.Kind),
			Metric:      string(k.Metric),
			Due:         k.Due,
			HasCursor:   k.HasCursor,
			MinInterval: k.MinInterval,
		}
		if k.LastSync != nil {
			ks.LastSync = k.LastSync.UTC().Format(time.RFC3339)
		}
		out.Keys = append(out.Keys, ks)
	}
	return out, nil
}

func (s *Server) handleRequestPermissions(ctx context.Context, req *mcp.CallToolRequest, input permissionsInput) (*mcp.CallToolResult, simpleOutput, error) {
	metrics, err := models.ParseMetricTypes(input.Metrics)
	if err != nil {
		return nil, simpleOutput{}, err
	}
	if len(metrics) == 0 {
		metrics = models.AllMetricTypes
	}
	if err := s.engine.RequestPermissions(ctx, metrics); err != nil {
		return nil, simpleOutput{}, fmt.Errorf("failed to request permissions: %w", err)
	}
	return nil, simpleOutput{Message: fmt.Sprintf("Granted: %s", joinMetrics(metrics))}, nil
}

func outcomeOutput(o *engine.SyncOutcome) syncOutput {
	out := syncOutput{
		JobID:     o.JobID,
		Source:    o.Source,
		Operation: string(o.Operation),
		Results:   o.Results,
	}
	switch {
	case o.Err != nil:
		out.ErrorKind = string(o.ErrorKind())
		out.Error = o.Err.Error()
		out.Message = fmt.Sprintf("%s failed: %s", o.Operation, o.Err)
	case o.Operation == engine.OpClear:
		out.Message = fmt.Sprintf("Cleared %d cursors and %d sync timestamps", o.ClearedCursors, o.ClearedMetadata)
	default:
		out.Message = fmt.Sprintf("%s sync: %d synced, %d skipped", o.Operation, len(o.Synced()), len(o.Skipped()))
	}
	return out
}

func parseTimeArg(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.ParseInLocation("2006-01-02", s, time.UTC)
	}
	if err != nil {
		return nil, fmt.Errorf("expected RFC3339 or YYYY-MM-DD, got %q", s)
	}
	return &t, nil
}

func joinMetrics(metrics []models.MetricType) string {
	names := make([]string, len(metrics))
	for i, m := range metrics {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}
