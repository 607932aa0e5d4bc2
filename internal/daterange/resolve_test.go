// ABOUTME: Table tests for effective range resolution.
// ABOUTME: Checks clamping by lookback, floor and now, and that ranges never invert.
package daterange

import (
	"testing"
	"time"
)

func ptr(t time.Time) *time.Time { return &t }

func TestResolve(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	day := 24 * time.Hour

	tests := []struct {
		name      string
		req       Request
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "floor beats lookback and request",
			req:       Request{Start: ptr(now.Add(-40 * day)), End: ptr(now.Add(5 * day)), Floor: now.Add(-10 * day), MaxLookbackDays: 30, Now: now},
			wantStart: now.Add(-10 * day),
			wantEnd:   now,
		},
		{
			name:      "lookback beats request",
			req:       Request{Start: ptr(now.Add(-40 * day)), MaxLookbackDays: 30, Now: now},
			wantStart: now.Add(-30 * day),
			wantEnd:   now,
		},
		{
			name:      "default start is lookback",
			req:       Request{MaxLookbackDays: 30, Now: now},
			wantStart: now.Add(-30 * day),
			wantEnd:   now,
		},
		{
			name:      "request inside limits is kept",
			req:       Request{Start: ptr(now.Add(-5 * day)), End: ptr(now.Add(-2 * day)), Floor: now.Add(-10 * day), MaxLookbackDays: 30, Now: now},
			wantStart: now.Add(-5 * day),
			wantEnd:   now.Add(-2 * day),
		},
		{
			name:      "end before floor collapses to start",
			req:       Request{Start: ptr(now.Add(-20 * day)), End: ptr(now.Add(-15 * day)), Floor: now.Add(-10 * day), MaxLookbackDays: 30, Now: now},
			wantStart: now.Add(-10 * day),
			wantEnd:   now.Add(-10 * day),
		},
		{
			name:      "floor in the future",
			req:       Request{Floor: now.Add(2 * day), MaxLookbackDays: 30, Now: now},
			wantStart: now.Add(2 * day),
			wantEnd:   now.Add(2 * day),
		},
		{
			name:      "unlimited lookback uses floor",
			req:       Request{Floor: now.Add(-100 * day), Now: now},
			wantStart: now.Add(-100 * day),
			wantEnd:   now,
		},
		{
			name:      "unlimited lookback keeps request start",
			req:       Request{Start: ptr(now.Add(-400 * day)), Now: now},
			wantStart: now.Add(-400 * day),
			wantEnd:   now,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.req)
			if !got.Start.Equal(tt.wantStart) {
				t.Errorf("Start = %s, want %s", got.Start, tt.wantStart)
			}
			if !got.End.Equal(tt.wantEnd) {
				t.Errorf("End = %s, want %s", got.End, tt.wantEnd)
			}
		})
	}
}

func TestResolveNeverInverted(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	offsets := []int{-60, -31, -30, -10, -1, 0, 1, 10}
	for _, s := range offsets {
		for _, e := range offsets {
			for _, f := range offsets {
				req := Request{
					Start:           ptr(now.AddDate(0, 0, s)),
					End:             ptr(now.AddDate(0, 0, e)),
					Floor:           now.AddDate(0, 0, f),
					MaxLookbackDays: 30,
					Now:             now,
				}
				got := Resolve(req)
				if got.End.Before(got.Start) {
					t.Fatalf("inverted range for start=%d end=%d floor=%d: %+v", s, e, f, got)
				}
				if got.End.After(now) && got.End.After(got.Start) {
					t.Fatalf("end after now for start=%d end=%d floor=%d: %+v", s, e, f, got)
				}
			}
		}
	}
}
