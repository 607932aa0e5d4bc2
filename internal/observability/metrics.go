// ABOUTME: Prometheus instrumentation for sync jobs, uploads and cursor resets.
// ABOUTME: Collectors register on the default registry at init.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "healthsync"

var (
	syncJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "total",
		Help:      "Sync jobs finished, by sync kind and result.",
	}, []string{"kind", "result"})
	syncJobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "duration_seconds",
		Help:      "Wall time of sync jobs.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})
	metricsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "metrics",
		Name:      "processed_total",
		Help:      "Per-metric sync results, by metric and status.",
	}, []string{"metric", "status"})
	batchesUploaded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upload",
		Name:      "batches_total",
		Help:      "Hourly batches uploaded, by metric.",
	}, []string{"metric"})
	uploadRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upload",
		Name:      "retries_total",
		Help:      "Upload requests retried after a transient failure.",
	})
	cursorResets = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cursor",
		Name:      "resets_total",
		Help:      "Cursors invalidated by the platform, by metric.",
	}, []string{"metric"})
	lastSuccess = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful sync job.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(syncJobsTotal, syncJobDuration, metricsProcessed, batchesUploaded, uploadRetries, cursorResets, lastSuccess)
}

// RecordJob records a finished job. An empty errKind means success.
func RecordJob(kind string, errKind string, started, finished time.Time) {
	result := "success"
	if errKind != "" {
		result = errKind
	}
	syncJobsTotal.WithLabelValues(kind, result).Inc()
	if !started.IsZero() && !finished.Before(started) {
		syncJobDuration.WithLabelValues(kind).Observe(finished.Sub(started).Seconds())
	}
	if errKind == "" && !finished.IsZero() {
		lastSuccess.WithLabelValues(kind).Set(float64(finished.Unix()))
	}
}

// RecordMetric counts one per-metric result ("synced" or "skipped").
func RecordMetric(metric, status string) {
	metricsProcessed.WithLabelValues(metric, status).Inc()
}

// RecordBatchesUploaded adds n uploaded batches for metric.
func RecordBatchesUploaded(metric string, n int) {
	if n <= 0 {
		return
	}
	batchesUploaded.WithLabelValues(metric).Add(float64(n))
}

// RecordUploadRetry counts one retried upload request.
func RecordUploadRetry() {
	uploadRetries.Inc()
}

// RecordCursorReset counts one platform cursor invalidation.
func RecordCursorReset(metric string) {
	cursorResets.WithLabelValues(metric).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
