// ABOUTME: Tests for MCP server, tools, and resources.
// ABOUTME: Drives a real engine over an export directory and an in-memory store.
package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/healthsync/internal/engine"
	"github.com/harperreed/healthsync/internal/kvstore"
	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/platform/filesource"
)

type recordingUploader struct {
	mu      sync.Mutex
	metrics []models.MetricType
}

func (u *recordingUploader) Upload(_ context.Context, _ []models.AggregatedBatch, m models.MetricType) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.metrics = append(u.metrics, m)
	return nil
}

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func f64(v float64) *float64 { return &v }

// setupTestServer builds a server over a temp export directory holding step samples.
func setupTestServer(t *testing.T, grant bool) (*Server, *recordingUploader) {
	t.Helper()
	dir := t.TempDir()

	err := filesource.WriteFile(dir, models.MetricSteps, filesource.File{
		Generation: "g1",
		Samples: []filesource.Sample{
			{Time: testNow.Add(-2 * time.Hour), Value: f64(120), Origins: []string{"com.example.watch"}},
			{Time: testNow.Add(-90 * time.Minute), Value: f64(80), Origins: []string{"com.example.watch"}},
		},
	})
	if err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	src, err := filesource.New(dir)
	if err != nil {
		t.Fatalf("filesource.New failed: %v", err)
	}
	if grant {
		if err := src.RequestGrant(context.Background(), models.AllMetricTypes); err != nil {
			t.Fatalf("RequestGrant failed: %v", err)
		}
	}

	up := &recordingUploader{}
	eng, err := engine.New(engine.Options{
		Source:          "export",
		Store:           kvstore.NewMemory(),
		Querier:         src,
		Permissions:     src,
		Uploader:        up,
		Floor:           testNow.AddDate(0, 0, -10),
		MaxLookbackDays: 30,
		Now:             func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}

	server, err := NewServer(eng, "test")
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return server, up
}

func TestNewServer(t *testing.T) {
	server, _ := setupTestServer(t, true)
	if server.mcpServer == nil {
		t.Error("Expected non-nil mcpServer")
	}
	if server.engine == nil {
		t.Error("Expected non-nil engine")
	}
}

func TestHandleRunSync(t *testing.T) {
	server, up := setupTestServer(t, true)
	ctx := context.Background()

	_, out, err := server.handleRunSync(ctx, &mcp.CallToolRequest{}, runSyncInput{
		Kind:    "intraday",
		Metrics: []string{"steps"},
	})
	if err != nil {
		t.Fatalf("handleRunSync failed: %v", err)
	}
	if out.Error != "" {
		t.Fatalf("unexpected job error: %s (%s)", out.Error, out.ErrorKind)
	}
	if out.Operation != "intraday" || out.JobID == "" {
		t.Errorf("unexpected output: %+v", out)
	}
	if len(out.Results) != 1 || out.Results[0].Status != engine.StatusSynced || out.Results[0].Batches != 1 {
		t.Errorf("Results = %+v", out.Results)
	}
	if len(up.metrics) != 1 || up.metrics[0] != models.MetricSteps {
		t.Errorf("uploaded %v, want [steps]", up.metrics)
	}

	// Second run inside the interval is skipped.
	_, out, err = server.handleRunSync(ctx, &mcp.CallToolRequest{}, runSyncInput{Kind: "intraday", Metrics: []string{"steps"}})
	if err != nil {
		t.Fatalf("second handleRunSync failed: %v", err)
	}
	if len(out.Results) != 1 || out.Results[0].Status != engine.StatusSkipped {
		t.Errorf("expected skipped, got %+v", out.Results)
	}
	if !strings.Contains(out.Message, "1 skipped") {
		t.Errorf("Message = %q", out.Message)
	}
}

func TestHandleRunSyncForceWithRange(t *testing.T) {
	server, _ := setupTestServer(t, true)
	ctx := context.Background()

	_, out, err := server.handleRunSync(ctx, &mcp.CallToolRequest{}, runSyncInput{
		Kind:    "daily",
		Metrics: []string{"steps"},
		Force:   true,
		Start:   "2025-02-27",
		End:     "2025-03-01T11:00:00Z",
	})
	if err != nil {
		t.Fatalf("handleRunSync failed: %v", err)
	}
	if out.Error != "" {
		t.Fatalf("unexpected job error: %s", out.Error)
	}
	if len(out.Results) != 1 || out.Results[0].Samples != 2 {
		t.Errorf("Results = %+v", out.Results)
	}
}

func TestHandleRunSyncInvalidInput(t *testing.T) {
	server, _ := setupTestServer(t, true)
	ctx := context.Background()

	tests := []struct {
		name  string
		input runSyncInput
	}{
		{"unknown kind", runSyncInput{Kind: "hourly"}},
		{"unknown metric", runSyncInput{Kind: "intraday", Metrics: []string{"blood_sugar"}}},
		{"bad start", runSyncInput{Kind: "intraday", Start: "yesterday"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := server.handleRunSync(ctx, &mcp.CallToolRequest{}, tt.input); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestHandleRunSyncMissingPermissions(t *testing.T) {
	server, up := setupTestServer(t, false)

	_, out, err := server.handleRunSync(context.Background(), &mcp.CallToolRequest{}, runSyncInput{Kind: "intraday"})
	if err != nil {
		t.Fatalf("handleRunSync failed: %v", err)
	}
	if out.ErrorKind != "missing_permissions" {
		t.Errorf("ErrorKind = %q, want missing_permissions", out.ErrorKind)
	}
	if len(up.metrics) != 0 {
		t.Errorf("nothing should be uploaded, got %v", up.metrics)
	}
}

func TestHandleRequestPermissions(t *testing.T) {
	server, _ := setupTestServer(t, false)
	ctx := context.Background()

	_, out, err := server.handleRequestPermissions(ctx, &mcp.CallToolRequest{}, permissionsInput{Metrics: []string{"steps"}})
	if err != nil {
		t.Fatalf("handleRequestPermissions failed: %v", err)
	}
	if !strings.Contains(out.Message, "steps") {
		t.Errorf("Message = %q", out.Message)
	}

	_, res, err := server.handleRunSync(ctx, &mcp.CallToolRequest{}, runSyncInput{Kind: "intraday", Metrics: []string{"steps"}})
	if err != nil {
		t.Fatalf("handleRunSync failed: %v", err)
	}
	if res.Error != "" {
		t.Errorf("sync after grant failed: %s", res.Error)
	}
}

func TestHandleClearSyncState(t *testing.T) {
	server, _ := setupTestServer(t, true)
	ctx := context.Background()

	if _, _, err := server.handleRunSync(ctx, &mcp.CallToolRequest{}, runSyncInput{Kind: "intraday", Metrics: []string{"steps"}}); err != nil {
		t.Fatalf("handleRunSync failed: %v", err)
	}

	_, out, err := server.handleClearSyncState(ctx, &mcp.CallToolRequest{}, emptyInput{})
	if err != nil {
		t.Fatalf("handleClearSyncState failed: %v", err)
	}
	if out.Operation != "clear" {
		t.Errorf("Operation = %q", out.Operation)
	}
	if !strings.Contains(out.Message, "Cleared 1 cursors and 1 sync timestamps") {
		t.Errorf("Message = %q", out.Message)
	}

	_, st, err := server.handleSyncStatus(ctx, &mcp.CallToolRequest{}, emptyInput{})
	if err != nil {
		t.Fatalf("handleSyncStatus failed: %v", err)
	}
	for _, k := range st.Keys {
		if !k.Due || k.HasCursor || k.LastSync != "" {
			t.Errorf("key %s not cleared: %+v", k.Key, k)
		}
	}
}

func TestHandleSyncStatus(t *testing.T) {
	server, _ := setupTestServer(t, true)
	ctx := context.Background()

	if _, _, err := server.handleRunSync(ctx, &mcp.CallToolRequest{}, runSyncInput{Kind: "intraday", Metrics: []string{"steps"}}); err != nil {
		t.Fatalf("handleRunSync failed: %v", err)
	}

	_, out, err := server.handleSyncStatus(ctx, &mcp.CallToolRequest{}, emptyInput{})
	if err != nil {
		t.Fatalf("handleSyncStatus failed: %v", err)
	}
	if out.Source != "export" {
		t.Errorf("Source = %q", out.Source)
	}
	var found bool
	for _, k := range out.Keys {
		if k.Key == "intraday.steps" {
			found = true
			if k.Due || !k.HasCursor || k.LastSync == "" {
				t.Errorf("intraday.steps = %+v", k)
			}
		}
	}
	if !found {
		t.Error("intraday.steps missing from status")
	}
}

func TestHandleStatusResource(t *testing.T) {
	server, _ := setupTestServer(t, true)

	result, err := server.handleStatusResource(context.Background(), &mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatalf("handleStatusResource failed: %v", err)
	}
	if len(result.Contents) != 1 {
		t.Fatalf("Expected 1 content item, got %d", len(result.Contents))
	}
	if result.Contents[0].URI != "healthsync://status" {
		t.Errorf("URI = %q", result.Contents[0].URI)
	}

	var out statusOutput
	if err := json.Unmarshal([]byte(result.Contents[0].Text), &out); err != nil {
		t.Fatalf("status resource is not JSON: %v", err)
	}
	if len(out.Keys) == 0 {
		t.Error("expected status keys")
	}
}

func TestHandleCatalogueResource(t *testing.T) {
	server, _ := setupTestServer(t, true)

	result, err := server.handleCatalogueResource(context.Background(), &mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatalf("handleCatalogueResource failed: %v", err)
	}

	var entries []catalogueEntry
	if err := json.Unmarshal([]byte(result.Contents[0].Text), &entries); err != nil {
		t.Fatalf("catalogue resource is not JSON: %v", err)
	}
	if len(entries) != len(models.AllMetricTypes) {
		t.Errorf("got %d entries, want %d", len(entries), len(models.AllMetricTypes))
	}
	if entries[0].Metric != models.MetricSteps || entries[0].Aggregation != models.AggregationCumulative {
		t.Errorf("first entry = %+v", entries[0])
	}
}

func TestParseTimeArg(t *testing.T) {
	got, err := parseTimeArg("2025-02-27")
	if err != nil || !got.Equal(time.Date(2025, 2, 27, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("parseTimeArg(date) = %v, %v", got, err)
	}
	got, err = parseTimeArg("")
	if err != nil || got != nil {
		t.Errorf("parseTimeArg(\"\") = %v, %v", got, err)
	}
}
