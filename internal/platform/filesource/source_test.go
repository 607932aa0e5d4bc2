// ABOUTME: Tests for the export directory platform adapter.
// ABOUTME: Covers incremental cursors, invalidation, schema validation and grants.
package filesource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harperreed/healthsync/internal/models"
)

func f64(v float64) *float64 { return &v }

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func wideRange() models.EffectiveRange {
	return models.EffectiveRange{Start: base.Add(-48 * time.Hour), End: base.Add(48 * time.Hour)}
}

func TestQueryIncremental(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, WriteFile(dir, models.MetricSteps, File{
		Generation: "g1",
		Samples: []Sample{
			{Time: base.Add(10 * time.Minute), Value: f64(20), Origins: []string{"watch"}},
			{Time: base.Add(40 * time.Minute), Value: f64(15)},
		},
	}))

	res, err := src.QueryIncremental(ctx, models.MetricSteps, nil, wideRange())
	require.NoError(t, err)
	require.True(t, res.CursorValid)
	require.Len(t, res.Samples, 2)
	require.Equal(t, "g1:2", res.Next.Token)
	require.Equal(t, models.MetricSteps, res.Samples[0].Metric)
	require.Equal(t, []string{"watch"}, res.Samples[0].Origins)

	// Nothing new since the cursor.
	res, err = src.QueryIncremental(ctx, models.MetricSteps, &res.Next, wideRange())
	require.NoError(t, err)
	require.True(t, res.CursorValid)
	require.Empty(t, res.Samples)

	// Append one sample; only it is returned.
	require.NoError(t, WriteFile(dir, models.MetricSteps, File{
		Generation: "g1",
		Samples: []Sample{
			{Time: base.Add(10 * time.Minute), Value: f64(20)},
			{Time: base.Add(40 * time.Minute), Value: f64(15)},
			{Time: base.Add(65 * time.Minute), Value: f64(30)},
		},
	}))
	res, err = src.QueryIncremental(ctx, models.MetricSteps, &models.Cursor{Token: "g1:2"}, wideRange())
	require.NoError(t, err)
	require.Len(t, res.Samples, 1)
	require.Equal(t, 30.0, res.Samples[0].Value)
	require.Equal(t, "g1:3", res.Next.Token)
}

func TestQueryInvalidCursor(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, WriteFile(dir, models.MetricSteps, File{
		Generation: "g2",
		Samples:    []Sample{{Time: base, Value: f64(1)}},
	}))

	for _, token := range []string{"g1:1", "g2:5", "garbage"} {
		res, err := src.QueryIncremental(ctx, models.MetricSteps, &models.Cursor{Token: token}, wideRange())
		require.NoError(t, err)
		require.False(t, res.CursorValid, "token %q", token)
		require.Empty(t, res.Samples)
	}
}

func TestQueryFiltersRangeAndStats(t *testing.T) {
	dir := t.TempDir()
	src, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, WriteFile(dir, models.MetricHeartRate, File{
		Generation: "g1",
		Samples: []Sample{
			{Time: base.Add(-72 * time.Hour), Value: f64(60)},
			{Time: base, Min: f64(55), Avg: f64(70), Max: f64(90)},
		},
	}))

	res, err := src.QueryIncremental(context.Background(), models.MetricHeartRate, nil, wideRange())
	require.NoError(t, err)
	require.Len(t, res.Samples, 1)
	require.Equal(t, &models.Stats{Min: 55, Avg: 70, Max: 90}, res.Samples[0].Stats)
	require.Equal(t, 70.0, res.Samples[0].Value)
}

func TestCursorStopsBeforeSamplesPastRangeEnd(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, WriteFile(dir, models.MetricSteps, File{
		Generation: "g1",
		Samples: []Sample{
			{Time: base.Add(-72 * time.Hour), Value: f64(5)},
			{Time: base, Value: f64(10)},
			{Time: base.Add(48 * time.Hour), Value: f64(20)},
		},
	}))

	narrow := models.EffectiveRange{Start: base.Add(-time.Hour), End: base.Add(time.Hour)}
	res, err := src.QueryIncremental(ctx, models.MetricSteps, nil, narrow)
	require.NoError(t, err)
	require.Len(t, res.Samples, 1)
	require.Equal(t, 10.0, res.Samples[0].Value)
	// The old sample is consumed; the future one is not.
	require.Equal(t, "g1:2", res.Next.Token)

	later := models.EffectiveRange{Start: base.Add(-time.Hour), End: base.Add(72 * time.Hour)}
	res, err = src.QueryIncremental(ctx, models.MetricSteps, &res.Next, later)
	require.NoError(t, err)
	require.True(t, res.CursorValid)
	require.Len(t, res.Samples, 1)
	require.Equal(t, 20.0, res.Samples[0].Value)
	require.Equal(t, "g1:3", res.Next.Token)
}

func TestCursorHoldsWhenFirstSampleIsPastRangeEnd(t *testing.T) {
	dir := t.TempDir()
	src, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, WriteFile(dir, models.MetricSteps, File{
		Generation: "g1",
		Samples:    []Sample{{Time: base.Add(48 * time.Hour), Value: f64(20)}, {Time: base, Value: f64(10)}},
	}))

	res, err := src.QueryIncremental(context.Background(), models.MetricSteps, nil, models.EffectiveRange{Start: base.Add(-time.Hour), End: base.Add(time.Hour)})
	require.NoError(t, err)
	require.Empty(t, res.Samples)
	require.Equal(t, "g1:0", res.Next.Token)
}

func TestQueryMissingFile(t *testing.T) {
	src, err := New(t.TempDir())
	require.NoError(t, err)
	res, err := src.QueryIncremental(context.Background(), models.MetricWeight, nil, wideRange())
	require.NoError(t, err)
	require.True(t, res.CursorValid)
	require.Empty(t, res.Samples)
	require.True(t, res.Next.IsZero())
}

func TestSchemaRejectsInvalidExport(t *testing.T) {
	dir := t.TempDir()
	src, err := New(dir)
	require.NoError(t, err)

	bad := `{"generation":"g1","samples":[{"time":"2025-03-01T09:00:00Z"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "steps.json"), []byte(bad), 0600))

	_, err = src.QueryIncremental(context.Background(), models.MetricSteps, nil, wideRange())
	require.True(t, errors.Is(err, ErrInvalidExport), "err = %v", err)
}

func TestPermissions(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, src.Available(ctx))

	granted, err := src.GrantedMetrics(ctx)
	require.NoError(t, err)
	require.Empty(t, granted)

	require.NoError(t, src.RequestGrant(ctx, []models.MetricType{models.MetricWeight, models.MetricSteps}))
	require.NoError(t, src.RequestGrant(ctx, []models.MetricType{models.MetricSteps, models.MetricHeight}))
	granted, err = src.GrantedMetrics(ctx)
	require.NoError(t, err)
	require.Equal(t, []models.MetricType{models.MetricHeight, models.MetricSteps, models.MetricWeight}, granted)
}

func TestUnavailable(t *testing.T) {
	src, err := New(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	require.Error(t, src.Available(context.Background()))
}

func TestMetricForPath(t *testing.T) {
	m, ok := MetricForPath("/exports/heart_rate.json")
	require.True(t, ok)
	require.Equal(t, models.MetricHeartRate, m)

	_, ok = MetricForPath("/exports/permissions.json")
	require.False(t, ok)
	_, ok = MetricForPath("/exports/steps")
	require.False(t, ok)
}
