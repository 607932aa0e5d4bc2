// ABOUTME: Computes the effective query window for a sync request.
// ABOUTME: Applies the lookback limit and floor date; the most restrictive bound wins.
package daterange

import (
	"time"

	"github.com/harperreed/healthsync/internal/models"
)

// Request is the caller's window plus platform limits.
type Request struct {
	Start *time.Time
	End   *time.Time
	// Floor is the earliest instant ever synced. Zero means none.
	Floor time.Time
	// MaxLookbackDays is the platform history limit. Zero or negative means unlimited.
	MaxLookbackDays int
	Now             time.Time
}

// Resolve clamps the requested window. The result never has Start after End.
func Resolve(req Request) models.EffectiveRange {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	end := now
	if req.End != nil && req.End.Before(now) {
		end = *req.End
	}

	var start time.Time
	hasLookback := req.MaxLookbackDays > 0
	lookback := now.AddDate(0, 0, -req.MaxLookbackDays)
	switch {
	case req.Start != nil:
		start = *req.Start
	case hasLookback:
		start = lookback
	case !req.Floor.IsZero():
		start = req.Floor
	default:
		// No request start and no limits: the platform's full history.
		start = time.Unix(0, 0).UTC()
	}
	if hasLookback && start.Before(lookback) {
		start = lookback
	}
	if !req.Floor.IsZero() && start.Before(req.Floor) {
		start = req.Floor
	}

	if end.Before(start) {
		end = start
	}
	return models.EffectiveRange{Start: start, End: end}
}
