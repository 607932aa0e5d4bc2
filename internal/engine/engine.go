// ABOUTME: Sync engine wiring permissions, metadata, cursors, aggregation and upload into jobs.
// ABOUTME: Every operation is one submission to the data source's serial coordinator.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/harperreed/healthsync/internal/aggregate"
	"github.com/harperreed/healthsync/internal/coordinator"
	"github.com/harperreed/healthsync/internal/cursor"
	"github.com/harperreed/healthsync/internal/daterange"
	"github.com/harperreed/healthsync/internal/kvstore"
	"github.com/harperreed/healthsync/internal/logging"
	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/observability"
	"github.com/harperreed/healthsync/internal/permission"
	"github.com/harperreed/healthsync/internal/platform"
	"github.com/harperreed/healthsync/internal/syncerr"
	"github.com/harperreed/healthsync/internal/syncmeta"
	"github.com/harperreed/healthsync/internal/upload"
)

// Options wires an Engine to its collaborators.
type Options struct {
	Source      string
	Store       kvstore.Store
	Querier     platform.Querier
	Permissions platform.PermissionSource
	Uploader    upload.Uploader

	// Intervals overrides the minimum resync interval per sync kind.
	Intervals map[models.SyncKind]time.Duration
	// Floor is the earliest instant ever synced. Zero means none.
	Floor           time.Time
	MaxLookbackDays int

	// Registry shares coordinators between engines. Nil creates a private one.
	Registry *coordinator.Registry[*SyncOutcome]
	Now      func() time.Time
	Logger   *log.Logger
}

// Engine runs sync jobs for one data source.
type Engine struct {
	source   string
	querier  platform.Querier
	uploader upload.Uploader
	gate     *permission.Gate
	meta     *syncmeta.Store
	cursors  *cursor.Manager
	coord    *coordinator.Coordinator[*SyncOutcome]

	floor    time.Time
	lookback int
	now      func() time.Time
	logger   *log.Logger
}

// New validates opts and builds an engine.
func New(opts Options) (*Engine, error) {
	if opts.Source == "" {
		return nil, errors.New("engine: source is required")
	}
	if opts.Store == nil || opts.Querier == nil || opts.Permissions == nil || opts.Uploader == nil {
		return nil, errors.New("engine: store, querier, permissions and uploader are required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := logging.OrDiscard(opts.Logger).With("source", opts.Source)
	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry(logger)
	}
	return &Engine{
		source:   opts.Source,
		querier:  opts.Querier,
		uploader: opts.Uploader,
		gate:     permission.New(opts.Permissions),
		meta:     syncmeta.New(opts.Store, syncmeta.Options{Source: opts.Source, Intervals: opts.Intervals, Now: now}),
		cursors:  cursor.New(opts.Store, opts.Source),
		coord:    registry.For(opts.Source),
		floor:    opts.Floor,
		lookback: opts.MaxLookbackDays,
		now:      now,
		logger:   logger,
	}, nil
}

// NewRegistry creates a coordinator registry that reports outcomes to logger and metrics.
func NewRegistry(logger *log.Logger) *coordinator.Registry[*SyncOutcome] {
	logger = logging.OrDiscard(logger)
	return coordinator.NewRegistry(coordinator.Options[*SyncOutcome]{
		OnComplete: func(o *SyncOutcome) { report(logger, o) },
		OnPanic: func(r any) *SyncOutcome {
			return &SyncOutcome{Err: syncerr.New(syncerr.KindInternal, fmt.Errorf("panic: %v", r))}
		},
		Logger: logger,
	})
}

func report(logger *log.Logger, o *SyncOutcome) {
	observability.RecordJob(string(o.Operation), string(o.ErrorKind()), o.StartedAt, o.FinishedAt)
	for _, r := range o.Results {
		observability.RecordMetric(string(r.Metric), string(r.Status))
	}
	if o.Err != nil {
		logger.Error("sync job failed", "job", o.JobID, "op", o.Operation, "kind", o.ErrorKind(), "err", o.Err)
		return
	}
	logger.Info("sync job finished", "job", o.JobID, "op", o.Operation,
		"synced", len(o.Synced()), "skipped", len(o.Skipped()),
		"duration", o.FinishedAt.Sub(o.StartedAt).Round(time.Millisecond))
}

// Source returns the data source name.
func (e *Engine) Source() string {
	return e.source
}

// RunOption customizes a sync run.
type RunOption func(*runConfig)

type runConfig struct {
	start, end *time.Time
	force      bool
}

// WithRange narrows the requested window. Either bound may be nil.
func WithRange(start, end *time.Time) RunOption {
	return func(c *runConfig) {
		c.start = start
		c.end = end
	}
}

// WithForce syncs metrics even when they are not due.
func WithForce() RunOption {
	return func(c *runConfig) { c.force = true }
}

// RunIntradaySync syncs intraday metrics. Empty metrics means all intraday metrics.
func (e *Engine) RunIntradaySync(ctx context.Context, metrics []models.MetricType, opts ...RunOption) (*SyncOutcome, error) {
	return e.runSync(ctx, models.SyncIntraday, metrics, opts)
}

// RunDailySync syncs daily summary metrics.
func (e *Engine) RunDailySync(ctx context.Context, metrics []models.MetricType, opts ...RunOption) (*SyncOutcome, error) {
	return e.runSync(ctx, models.SyncDaily, metrics, opts)
}

// RunProfileSync syncs profile metrics such as height and weight.
func (e *Engine) RunProfileSync(ctx context.Context, metrics []models.MetricType, opts ...RunOption) (*SyncOutcome, error) {
	return e.runSync(ctx, models.SyncProfile, metrics, opts)
}

// Run dispatches to the sync operation for kind.
func (e *Engine) Run(ctx context.Context, kind models.SyncKind, metrics []models.MetricType, opts ...RunOption) (*SyncOutcome, error) {
	if !models.IsValidSyncKind(string(kind)) {
		return nil, syncerr.New(syncerr.KindInvalidRequest, fmt.Errorf("unknown sync kind %q", kind))
	}
	return e.runSync(ctx, kind, metrics, opts)
}

// ClearAllCursorsAndMetadata removes every cursor and sync timestamp of the
// data source, so the next sync of each metric is a full resync.
func (e *Engine) ClearAllCursorsAndMetadata(ctx context.Context) (*SyncOutcome, error) {
	return e.coord.Run(ctx, func(ctx context.Context) *SyncOutcome {
		o := e.newOutcome(OpClear)
		defer e.finish(o)

		n, err := e.cursors.InvalidateAll(ctx)
		o.ClearedCursors = n
		if err != nil {
			o.Err = err
			return o
		}
		n, err = e.meta.ResetAll(ctx)
		o.ClearedMetadata = n
		if err != nil {
			o.Err = err
		}
		return o
	})
}

// RequestPermissions asks the platform for read grants and re-checks them.
func (e *Engine) RequestPermissions(ctx context.Context, metrics []models.MetricType) error {
	return e.gate.Request(ctx, metrics)
}

func (e *Engine) runSync(ctx context.Context, kind models.SyncKind, metrics []models.MetricType, opts []RunOption) (*SyncOutcome, error) {
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(metrics) == 0 {
		metrics = models.MetricsForKind(kind)
	}
	metrics = models.SortMetrics(metrics)

	return e.coord.Run(ctx, func(ctx context.Context) *SyncOutcome {
		o := e.newOutcome(Operation(kind))
		defer e.finish(o)
		o.Err = e.syncMetrics(ctx, o, kind, metrics, cfg)
		return o
	})
}

func (e *Engine) syncMetrics(ctx context.Context, o *SyncOutcome, kind models.SyncKind, metrics []models.MetricType, cfg runConfig) error {
	for _, m := range metrics {
		if !m.SupportsKind(kind) {
			return syncerr.New(syncerr.KindInvalidRequest, fmt.Errorf("metric does not support %s sync", kind), m)
		}
	}
	if err := e.gate.EnsureGranted(ctx, metrics); err != nil {
		return err
	}

	o.Range = daterange.Resolve(daterange.Request{
		Start:           cfg.start,
		End:             cfg.end,
		Floor:           e.floor,
		MaxLookbackDays: e.lookback,
		Now:             e.now(),
	})

	for _, m := range metrics {
		key := models.MetricKey{Kind: kind, Metric: m}
		if !cfg.force {
			due, err := e.meta.IsDue(ctx, key)
			if err != nil {
				return syncerr.StorageRead(err)
			}
			if !due {
				e.logger.Debug("metric not due", "key", key)
				o.Results = append(o.Results, MetricResult{Metric: m, Status: StatusSkipped})
				continue
			}
		}
		res, err := e.syncMetric(ctx, key, o.Range)
		if err != nil {
			return err
		}
		o.Results = append(o.Results, res)
	}
	return nil
}

// syncMetric runs query, aggregate, upload, commit and record for one key.
// The cursor and timestamp are only written after a successful upload.
func (e *Engine) syncMetric(ctx context.Context, key models.MetricKey, rng models.EffectiveRange) (MetricResult, error) {
	m := key.Metric
	result := MetricResult{Metric: m, Status: StatusSynced}

	cur, err := e.cursors.Load(ctx, key)
	if err != nil {
		return result, syncerr.StorageRead(err)
	}
	qr, err := e.querier.QueryIncremental(ctx, m, cur, rng)
	if err != nil {
		return result, syncerr.Transient(m, fmt.Errorf("query: %w", err))
	}
	if !qr.CursorValid {
		e.logger.Warn("cursor invalidated, rescanning", "key", key, "from", rng.Start)
		observability.RecordCursorReset(string(m))
		result.CursorReset = true
		if err := e.cursors.Invalidate(ctx, key); err != nil {
			return result, err
		}
		if cur != nil {
			// A requested start may be later than the floor; the rescan
			// covers everything the dropped cursor had already passed.
			end := rng.End
			rescan := daterange.Resolve(daterange.Request{
				End:             &end,
				Floor:           e.floor,
				MaxLookbackDays: e.lookback,
				Now:             e.now(),
			})
			qr, err = e.querier.QueryIncremental(ctx, m, nil, rescan)
			if err != nil {
				return result, syncerr.Transient(m, fmt.Errorf("rescan: %w", err))
			}
		}
	}

	batches := aggregate.Aggregate(qr.Samples, m.Aggregation())
	result.Samples = len(qr.Samples)
	result.Batches = len(batches)
	if len(batches) > 0 {
		if err := e.uploader.Upload(ctx, batches, m); err != nil {
			return result, uploadError(m, err)
		}
		observability.RecordBatchesUploaded(string(m), len(batches))
	}

	if !qr.Next.IsZero() {
		if err := e.cursors.Commit(ctx, key, qr.Next); err != nil {
			return result, err
		}
	}
	if err := e.meta.RecordSuccess(ctx, key, e.now()); err != nil {
		return result, err
	}
	e.logger.Debug("metric synced", "key", key, "samples", result.Samples, "batches", result.Batches)
	return result, nil
}

// uploadError tags permanent rejections apart from failures worth retrying.
func uploadError(m models.MetricType, err error) error {
	var httpErr *upload.HTTPError
	if errors.As(err, &httpErr) && !httpErr.Retryable() {
		return syncerr.UploadRejected(m, fmt.Errorf("upload: %w", err))
	}
	return syncerr.Transient(m, fmt.Errorf("upload: %w", err))
}

func (e *Engine) newOutcome(op Operation) *SyncOutcome {
	return &SyncOutcome{
		JobID:     uuid.NewString(),
		Source:    e.source,
		Operation: op,
		StartedAt: e.now(),
	}
}

func (e *Engine) finish(o *SyncOutcome) {
	o.FinishedAt = e.now()
}
