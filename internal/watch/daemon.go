// ABOUTME: Watch daemon that syncs when the export directory changes and on a fixed tick.
// ABOUTME: File events are debounced per metric; ticks run due-only syncs of every kind.
package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/harperreed/healthsync/internal/engine"
	"github.com/harperreed/healthsync/internal/logging"
	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/platform/filesource"
)

// Syncer runs one sync job.
type Syncer interface {
	Run(ctx context.Context, kind models.SyncKind, metrics []models.MetricType, opts ...engine.RunOption) (*engine.SyncOutcome, error)
}

// Config holds daemon timing.
type Config struct {
	// Dir is the export directory to watch.
	Dir string
	// DebounceInterval batches rapid writes to the same file.
	DebounceInterval time.Duration
	// PollInterval runs a due-only sync of every kind. Zero disables it.
	PollInterval time.Duration
	Logger       *log.Logger
}

// Daemon watches an export directory and triggers syncs.
type Daemon struct {
	syncer  Syncer
	config  Config
	logger  *log.Logger
	watcher *fsnotify.Watcher

	changeQueue   map[models.MetricType]time.Time
	changeQueueMu sync.Mutex
}

// New creates a daemon. Call Run to start it.
func New(syncer Syncer, config Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if config.Dir == "" {
		return nil, fmt.Errorf("export directory cannot be empty")
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 500 * time.Millisecond
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Daemon{
		syncer:      syncer,
		config:      config,
		logger:      logging.OrDiscard(config.Logger),
		watcher:     watcher,
		changeQueue: make(map[models.MetricType]time.Time),
	}, nil
}

// Run performs an initial due-only sync, then watches until ctx ends.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.watcher.Close()

	if err := d.watcher.Add(d.config.Dir); err != nil {
		return fmt.Errorf("failed to watch export directory %s: %w", d.config.Dir, err)
	}
	d.logger.Info("watching export directory", "dir", d.config.Dir, "poll", d.config.PollInterval)

	d.syncAllKinds(ctx)

	debounce := time.NewTicker(d.config.DebounceInterval)
	defer debounce.Stop()

	var poll <-chan time.Time
	if d.config.PollInterval > 0 {
		t := time.NewTicker(d.config.PollInterval)
		defer t.Stop()
		poll = t.C
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("watch stopped")
			return nil

		case event, ok := <-d.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			metric, ok := filesource.MetricForPath(event.Name)
			if !ok {
				continue
			}
			d.logger.Debug("export changed", "op", event.Op.String(), "metric", metric)
			d.queueChange(metric, time.Now())

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.Warn("watcher error", "err", err)

		case now := <-debounce.C:
			d.processPendingChanges(ctx, now)

		case <-poll:
			d.syncAllKinds(ctx)
		}
	}
}

func (d *Daemon) queueChange(metric models.MetricType, at time.Time) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	d.changeQueue[metric] = at
}

// processPendingChanges force-syncs metrics whose files have been quiet for
// at least the debounce interval.
func (d *Daemon) processPendingChanges(ctx context.Context, now time.Time) {
	d.changeQueueMu.Lock()
	var ready []models.MetricType
	for metric, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, metric)
		delete(d.changeQueue, metric)
	}
	d.changeQueueMu.Unlock()

	if len(ready) == 0 {
		return
	}
	for _, kind := range models.AllSyncKinds {
		var metrics []models.MetricType
		for _, m := range ready {
			if m.SupportsKind(kind) {
				metrics = append(metrics, m)
			}
		}
		if len(metrics) > 0 {
			d.run(ctx, kind, metrics, engine.WithForce())
		}
	}
}

func (d *Daemon) syncAllKinds(ctx context.Context) {
	for _, kind := range models.AllSyncKinds {
		d.run(ctx, kind, nil)
	}
}

func (d *Daemon) run(ctx context.Context, kind models.SyncKind, metrics []models.MetricType, opts ...engine.RunOption) {
	o, err := d.syncer.Run(ctx, kind, metrics, opts...)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Error("sync not started", "kind", kind, "err", err)
		}
		return
	}
	if o.Err != nil {
		d.logger.Warn("sync failed", "kind", kind, "err", o.Err)
	}
}
