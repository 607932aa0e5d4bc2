// ABOUTME: Raw platform samples, cursors, aggregated batches and effective ranges.
// ABOUTME: These are the values that flow between the sync engine's components.
package models

import "time"

// Stats is a min/avg/max summary reported by the platform.
type Stats struct {
	Min float64 `json:"min"`
	Avg float64 `json:"avg"`
	Max float64 `json:"max"`
}

// RawSample is one record returned by a platform query.
type RawSample struct {
	Metric  MetricType
	Time    time.Time
	Value   float64
	Stats   *Stats
	Origins []string
}

// Cursor is an opaque, platform-issued incremental query marker.
type Cursor struct {
	Token string `json:"token"`
}

// IsZero reports whether the cursor carries no token.
func (c Cursor) IsZero() bool {
	return c.Token == ""
}

// Point is one aggregated entry inside a batch.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
	Stats *Stats    `json:"stats,omitempty"`
}

// AggregatedBatch is an hour-aligned bucket ready for upload.
type AggregatedBatch struct {
	BucketStart time.Time `json:"bucket_start"`
	DataOrigins []string  `json:"data_origins"`
	Entries     []Point   `json:"entries"`
}

// EffectiveRange is the window a sync queries. Start is never after End.
type EffectiveRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
