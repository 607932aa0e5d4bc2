// ABOUTME: Fail-fast read-permission check run before any platform query.
// ABOUTME: Never prompts; Request is only used by explicit grant commands.
package permission

import (
	"context"
	"fmt"

	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/platform"
	"github.com/harperreed/healthsync/internal/syncerr"
)

// Gate checks that the requested metrics are readable.
type Gate struct {
	source platform.PermissionSource
}

// New creates a gate over a permission source.
func New(source platform.PermissionSource) *Gate {
	return &Gate{source: source}
}

// EnsureGranted fails with PlatformUnavailable or MissingPermissions.
// The missing list is sorted and unique.
func (g *Gate) EnsureGranted(ctx context.Context, requested []models.MetricType) error {
	if err := g.source.Available(ctx); err != nil {
		return syncerr.PlatformUnavailable(err)
	}
	granted, err := g.source.GrantedMetrics(ctx)
	if err != nil {
		return syncerr.PlatformUnavailable(fmt.Errorf("read grants: %w", err))
	}
	have := make(map[models.MetricType]struct{}, len(granted))
	for _, m := range granted {
		have[m] = struct{}{}
	}
	var missing []models.MetricType
	for _, m := range requested {
		if _, ok := have[m]; !ok {
			missing = append(missing, m)
		}
	}
	if len(missing) > 0 {
		return syncerr.MissingPermissions(models.SortMetrics(missing))
	}
	return nil
}

// Request asks the platform for grants, then re-checks them.
func (g *Gate) Request(ctx context.Context, metrics []models.MetricType) error {
	if err := g.source.Available(ctx); err != nil {
		return syncerr.PlatformUnavailable(err)
	}
	if err := g.source.RequestGrant(ctx, metrics); err != nil {
		return fmt.Errorf("request grant: %w", err)
	}
	return g.EnsureGranted(ctx, metrics)
}
