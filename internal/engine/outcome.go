// ABOUTME: Sync job outcome types reported by the engine.
// ABOUTME: An outcome carries per-metric results and the tagged error that ended the job.
package engine

import (
	"time"

	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/syncerr"
)

// Operation names a submitted job type.
type Operation string

const (
	OpIntraday Operation = "intraday"
	OpDaily    Operation = "daily"
	OpProfile  Operation = "profile"
	OpClear    Operation = "clear"
)

// MetricStatus is the per-metric result of a sync job.
type MetricStatus string

const (
	StatusSynced  MetricStatus = "synced"
	StatusSkipped MetricStatus = "skipped"
)

// MetricResult describes what happened to one metric.
type MetricResult struct {
	Metric  models.MetricType `json:"metric"`
	Status  MetricStatus      `json:"status"`
	Samples int               `json:"samples"`
	Batches int               `json:"batches"`
	// CursorReset is set when the platform rejected the stored cursor and the
	// metric was re-read from the start of the range.
	CursorReset bool `json:"cursor_reset,omitempty"`
}

// SyncOutcome is the result of one coordinator submission.
type SyncOutcome struct {
	JobID      string                `json:"job_id"`
	Source     string                `json:"source"`
	Operation  Operation             `json:"operation"`
	Range      models.EffectiveRange `json:"range"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Results    []MetricResult        `json:"results,omitempty"`
	// ClearedCursors and ClearedMetadata are set by OpClear.
	ClearedCursors  int   `json:"cleared_cursors,omitempty"`
	ClearedMetadata int   `json:"cleared_metadata,omitempty"`
	Err             error `json:"-"`
}

// OK reports whether the job finished without error.
func (o *SyncOutcome) OK() bool {
	return o.Err == nil
}

// ErrorKind returns the tag of the failure, or "" on success.
func (o *SyncOutcome) ErrorKind() syncerr.Kind {
	if o.Err == nil {
		return ""
	}
	if k := syncerr.KindOf(o.Err); k != "" {
		return k
	}
	return syncerr.KindInternal
}

// Synced returns the metrics that were synced.
func (o *SyncOutcome) Synced() []models.MetricType {
	var out []models.MetricType
	for _, r := range o.Results {
		if r.Status == StatusSynced {
			out = append(out, r.Metric)
		}
	}
	return out
}

// Skipped returns the metrics that were not due.
func (o *SyncOutcome) Skipped() []models.MetricType {
	var out []models.MetricType
	for _, r := range o.Results {
		if r.Status == StatusSkipped {
			out = append(out, r.Metric)
		}
	}
	return out
}
