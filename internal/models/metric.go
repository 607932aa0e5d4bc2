// ABOUTME: MetricType enum, aggregation strategies and sync kinds for health data sync.
// ABOUTME: The metric catalogue declares unit, aggregation and sync kinds per metric.
package models

import (
	"fmt"
	"sort"
	"strings"
)

// MetricType identifies a platform record type being synced.
type MetricType string

const (
	// Activity
	MetricSteps          MetricType = "steps"
	MetricCalories       MetricType = "calories"
	MetricActiveCalories MetricType = "active_calories"

	// Heart
	MetricHeartRate        MetricType = "heart_rate"
	MetricRestingHeartRate MetricType = "resting_heart_rate"

	// Body
	MetricHeight MetricType = "height"
	MetricWeight MetricType = "weight"
)

// Aggregation is how samples of a metric combine inside a bucket.
type Aggregation string

const (
	// AggregationCumulative quantities are summed (steps, calories).
	AggregationCumulative Aggregation = "cumulative"
	// AggregationStatistical quantities carry min/avg/max (heart rate).
	AggregationStatistical Aggregation = "statistical"
)

// SyncKind groups metrics that are synced together.
type SyncKind string

const (
	SyncIntraday SyncKind = "intraday"
	SyncDaily    SyncKind = "daily"
	SyncProfile  SyncKind = "profile"
)

// AllSyncKinds lists every sync kind in a stable order.
var AllSyncKinds = []SyncKind{SyncIntraday, SyncDaily, SyncProfile}

// MetricInfo is a catalogue entry.
type MetricInfo struct {
	Unit        string
	Aggregation Aggregation
	Kinds       []SyncKind
}

// Catalogue maps each supported metric to its declared behavior.
// New metrics are added here with an aggregation strategy.
var Catalogue = map[MetricType]MetricInfo{
	MetricSteps:            {Unit: "steps", Aggregation: AggregationCumulative, Kinds: []SyncKind{SyncIntraday, SyncDaily}},
	MetricCalories:         {Unit: "kcal", Aggregation: AggregationCumulative, Kinds: []SyncKind{SyncIntraday, SyncDaily}},
	MetricActiveCalories:   {Unit: "kcal", Aggregation: AggregationCumulative, Kinds: []SyncKind{SyncIntraday, SyncDaily}},
	MetricHeartRate:        {Unit: "bpm", Aggregation: AggregationStatistical, Kinds: []SyncKind{SyncIntraday}},
	MetricRestingHeartRate: {Unit: "bpm", Aggregation: AggregationStatistical, Kinds: []SyncKind{SyncDaily}},
	MetricHeight:           {Unit: "m", Aggregation: AggregationStatistical, Kinds: []SyncKind{SyncProfile}},
	MetricWeight:           {Unit: "kg", Aggregation: AggregationStatistical, Kinds: []SyncKind{SyncProfile}},
}

// AllMetricTypes returns all valid metric types.
var AllMetricTypes = []MetricType{
	MetricSteps, MetricCalories, MetricActiveCalories,
	MetricHeartRate, MetricRestingHeartRate,
	MetricHeight, MetricWeight,
}

// IsValidMetricType checks if a string is a valid metric type.
func IsValidMetricType(s string) bool {
	_, ok := Catalogue[MetricType(s)]
	return ok
}

// Aggregation returns the declared aggregation, or "" for unknown metrics.
func (m MetricType) Aggregation() Aggregation {
	return Catalogue[m].Aggregation
}

// Unit returns the upload unit for the metric.
func (m MetricType) Unit() string {
	return Catalogue[m].Unit
}

// SupportsKind reports whether the metric participates in the given sync kind.
func (m MetricType) SupportsKind(kind SyncKind) bool {
	for _, k := range Catalogue[m].Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// MetricsForKind returns the catalogue metrics for a sync kind, sorted.
func MetricsForKind(kind SyncKind) []MetricType {
	var out []MetricType
	for _, mt := range AllMetricTypes {
		if mt.SupportsKind(kind) {
			out = append(out, mt)
		}
	}
	return out
}

// IsValidSyncKind checks if a string names a sync kind.
func IsValidSyncKind(s string) bool {
	for _, k := range AllSyncKinds {
		if string(k) == s {
			return true
		}
	}
	return false
}

// ParseMetricTypes parses metric names, rejecting unknown ones.
// The result is sorted and de-duplicated.
func ParseMetricTypes(names []string) ([]MetricType, error) {
	var out []MetricType
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if !IsValidMetricType(n) {
			return nil, fmt.Errorf("unknown metric type: %s", n)
		}
		out = append(out, MetricType(n))
	}
	return SortMetrics(out), nil
}

// SortMetrics returns a sorted copy of metrics without duplicates.
func SortMetrics(metrics []MetricType) []MetricType {
	seen := make(map[MetricType]struct{}, len(metrics))
	out := make([]MetricType, 0, len(metrics))
	for _, m := range metrics {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MetricKey addresses per-metric sync state within a data source.
type MetricKey struct {
	Kind   SyncKind
	Metric MetricType
}

// String renders the key as "kind.metric".
func (k MetricKey) String() string {
	return string(k.Kind) + "." + string(k.Metric)
}

// ParseMetricKey parses the "kind.metric" form produced by String.
func ParseMetricKey(s string) (MetricKey, error) {
	kind, metric, ok := strings.Cut(s, ".")
	if !ok || !IsValidSyncKind(kind) || !IsValidMetricType(metric) {
		return MetricKey{}, fmt.Errorf("invalid metric key: %q", s)
	}
	return MetricKey{Kind: SyncKind(kind), Metric: MetricType(metric)}, nil
}
