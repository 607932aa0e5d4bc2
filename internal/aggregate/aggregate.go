// ABOUTME: Turns raw platform samples into hour-aligned upload batches.
// ABOUTME: Cumulative samples are summed per instant; statistical samples keep min/avg/max.
package aggregate

import (
	"sort"
	"strings"
	"time"

	"github.com/harperreed/healthsync/internal/models"
)

// Aggregate buckets samples by UTC hour. Buckets come back in ascending order
// with no empty buckets, and the output does not depend on input order.
// Samples whose metric does not use the requested aggregation are ignored.
func Aggregate(samples []models.RawSample, agg models.Aggregation) []models.AggregatedBatch {
	sorted := make([]models.RawSample, 0, len(samples))
	for _, s := range samples {
		if s.Metric.Aggregation() == agg {
			sorted = append(sorted, s)
		}
	}
	if len(sorted) == 0 {
		return nil
	}
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })

	var batches []models.AggregatedBatch
	for i := 0; i < len(sorted); {
		bucket := BucketStart(sorted[i].Time)
		j := i
		for j < len(sorted) && BucketStart(sorted[j].Time).Equal(bucket) {
			j++
		}
		batches = append(batches, buildBatch(bucket, sorted[i:j], agg))
		i = j
	}
	return batches
}

// BucketStart returns the UTC hour containing t.
func BucketStart(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

func buildBatch(bucket time.Time, samples []models.RawSample, agg models.Aggregation) models.AggregatedBatch {
	batch := models.AggregatedBatch{
		BucketStart: bucket,
		DataOrigins: mergeOrigins(samples),
	}
	for i := 0; i < len(samples); {
		at := samples[i].Time
		j := i
		for j < len(samples) && samples[j].Time.Equal(at) {
			j++
		}
		group := samples[i:j]
		if agg == models.AggregationCumulative {
			batch.Entries = append(batch.Entries, sumPoint(at, group))
		} else {
			batch.Entries = append(batch.Entries, statsPoint(at, group))
		}
		i = j
	}
	return batch
}

func sumPoint(at time.Time, group []models.RawSample) models.Point {
	var total float64
	for _, s := range group {
		total += s.Value
	}
	return models.Point{Time: at.UTC(), Value: total}
}

// statsPoint merges samples reported for the same instant:
// min of mins, mean of averages, max of maxes.
func statsPoint(at time.Time, group []models.RawSample) models.Point {
	merged := sampleStats(group[0])
	var avgSum float64
	for i, s := range group {
		st := sampleStats(s)
		avgSum += st.Avg
		if i == 0 {
			continue
		}
		if st.Min < merged.Min {
			merged.Min = st.Min
		}
		if st.Max > merged.Max {
			merged.Max = st.Max
		}
	}
	merged.Avg = avgSum / float64(len(group))
	return models.Point{Time: at.UTC(), Stats: &merged}
}

func sampleStats(s models.RawSample) models.Stats {
	if s.Stats != nil {
		return *s.Stats
	}
	return models.Stats{Min: s.Value, Avg: s.Value, Max: s.Value}
}

func mergeOrigins(samples []models.RawSample) []string {
	seen := make(map[string]struct{})
	origins := []string{}
	for _, s := range samples {
		for _, o := range s.Origins {
			if _, ok := seen[o]; ok {
				continue
			}
			seen[o] = struct{}{}
			origins = append(origins, o)
		}
	}
	sort.Strings(origins)
	return origins
}

func less(a, b models.RawSample) bool {
	if !a.Time.Equal(b.Time) {
		return a.Time.Before(b.Time)
	}
	if a.Value != b.Value {
		return a.Value < b.Value
	}
	as, bs := sampleStats(a), sampleStats(b)
	if as.Min != bs.Min {
		return as.Min < bs.Min
	}
	if as.Avg != bs.Avg {
		return as.Avg < bs.Avg
	}
	if as.Max != bs.Max {
		return as.Max < bs.Max
	}
	return originKey(a) < originKey(b)
}

func originKey(s models.RawSample) string {
	o := append([]string(nil), s.Origins...)
	sort.Strings(o)
	return strings.Join(o, "\x00")
}
