// ABOUTME: Read-only sync status for every metric key of a data source.
// ABOUTME: Used by the status command and the MCP status resource.
package engine

import (
	"context"
	"time"

	"github.com/harperreed/healthsync/internal/models"
)

// KeyStatus is the stored state of one metric key.
type KeyStatus struct {
	Key         string            `json:"key"`
	Kind        models.SyncKind   `json:"kind"`
	Metric      models.MetricType `json:"metric"`
	LastSync    *time.Time        `json:"last_sync,omitempty"`
	Due         bool              `json:"due"`
	HasCursor   bool              `json:"has_cursor"`
	MinInterval string            `json:"min_interval"`
}

// Status reports the state of every catalogue key. It does not go through the
// coordinator and may observe a job mid-flight.
func (e *Engine) Status(ctx context.Context) ([]KeyStatus, error) {
	var out []KeyStatus
	for _, kind := range models.AllSyncKinds {
		for _, m := range models.MetricsForKind(kind) {
			key := models.MetricKey{Kind: kind, Metric: m}
			st := KeyStatus{
				Key:         key.String(),
				Kind:        kind,
				Metric:      m,
				MinInterval: e.meta.MinInterval(kind).String(),
			}
			last, ok, err := e.meta.LastSync(ctx, key)
			if err != nil {
				return nil, err
			}
			if ok {
				t := last
				st.LastSync = &t
			}
			if st.Due, err = e.meta.IsDue(ctx, key); err != nil {
				return nil, err
			}
			cur, err := e.cursors.Load(ctx, key)
			if err != nil {
				return nil, err
			}
			st.HasCursor = cur != nil
			out = append(out, st)
		}
	}
	return out, nil
}
