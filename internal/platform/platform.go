// ABOUTME: Boundary interfaces for the host health platform.
// ABOUTME: Adapters implement incremental queries and permission lookups.
package platform

import (
	"context"

	"github.com/harperreed/healthsync/internal/models"
)

// QueryResult is one incremental query page.
type QueryResult struct {
	Samples []models.RawSample
	// Next is the cursor to commit after the samples are uploaded.
	Next models.Cursor
	// CursorValid is false when the platform rejected the supplied cursor.
	CursorValid bool
}

// Querier reads samples added since a cursor.
type Querier interface {
	// QueryIncremental returns samples in rng newer than cursor. A nil cursor
	// means a full scan of rng.
	QueryIncremental(ctx context.Context, metric models.MetricType, cursor *models.Cursor, rng models.EffectiveRange) (QueryResult, error)
}

// PermissionSource reports platform availability and read grants.
type PermissionSource interface {
	// Available returns an error when the platform cannot be used at all.
	Available(ctx context.Context) error
	GrantedMetrics(ctx context.Context) ([]models.MetricType, error)
	RequestGrant(ctx context.Context, metrics []models.MetricType) error
}
