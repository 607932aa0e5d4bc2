// ABOUTME: Per-metric last-successful-sync timestamps with a minimum-interval policy.
// ABOUTME: Decides whether a metric is due for resync; state lives in a kvstore.Store.
package syncmeta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harperreed/healthsync/internal/kvstore"
	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/syncerr"
)

// DefaultMinInterval applies to sync kinds without an explicit interval.
const DefaultMinInterval = 24 * time.Hour

const keyPrefix = "syncmeta:"

// Entry is the persisted record for one metric key.
type Entry struct {
	Key      string    `json:"key"`
	LastSync time.Time `json:"last_sync"`
}

// Options configures a Store.
type Options struct {
	// Source scopes keys to one logical data source.
	Source string
	// Intervals overrides the minimum interval per sync kind.
	Intervals map[models.SyncKind]time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Store owns the syncmeta keys of one data source.
type Store struct {
	kv        kvstore.Store
	source    string
	intervals map[models.SyncKind]time.Duration
	now       func() time.Time
}

// New creates a metadata store over kv.
func New(kv kvstore.Store, opts Options) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	intervals := make(map[models.SyncKind]time.Duration, len(opts.Intervals))
	for k, v := range opts.Intervals {
		if v > 0 {
			intervals[k] = v
		}
	}
	return &Store{kv: kv, source: opts.Source, intervals: intervals, now: now}
}

// MinInterval returns the resync interval for a sync kind.
func (s *Store) MinInterval(kind models.SyncKind) time.Duration {
	if d, ok := s.intervals[kind]; ok {
		return d
	}
	return DefaultMinInterval
}

// IsDue reports whether key has no entry or its last sync is older than the interval.
// An unreadable entry counts as due: the worst case is a redundant resync.
func (s *Store) IsDue(ctx context.Context, key models.MetricKey) (bool, error) {
	last, ok, err := s.LastSync(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return s.now().Sub(last) > s.MinInterval(key.Kind), nil
}

// LastSync returns the recorded sync time for key, if any.
func (s *Store) LastSync(ctx context.Context, key models.MetricKey) (time.Time, bool, error) {
	data, err := s.kv.Get(ctx, s.storageKey(key))
	if errors.Is(err, kvstore.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read sync metadata %s: %w", key, err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil || e.LastSync.IsZero() {
		return time.Time{}, false, nil
	}
	return e.LastSync, true, nil
}

// RecordSuccess overwrites the entry for key. The write is durable on return.
func (s *Store) RecordSuccess(ctx context.Context, key models.MetricKey, at time.Time) error {
	data, err := json.Marshal(Entry{Key: key.String(), LastSync: at.UTC()})
	if err != nil {
		return fmt.Errorf("marshal sync metadata: %w", err)
	}
	if err := s.kv.Set(ctx, s.storageKey(key), data); err != nil {
		return syncerr.StorageWrite(fmt.Errorf("record sync %s: %w", key, err))
	}
	return nil
}

// Reset clears the entry for key so the next IsDue returns true.
func (s *Store) Reset(ctx context.Context, key models.MetricKey) error {
	if err := s.kv.Delete(ctx, s.storageKey(key)); err != nil {
		return syncerr.StorageWrite(fmt.Errorf("reset sync metadata %s: %w", key, err))
	}
	return nil
}

// ResetAll clears every entry of this data source.
func (s *Store) ResetAll(ctx context.Context) (int, error) {
	n, err := kvstore.DeletePrefix(ctx, s.kv, s.prefix())
	if err != nil {
		return n, syncerr.StorageWrite(fmt.Errorf("reset all sync metadata: %w", err))
	}
	return n, nil
}

// Entries lists every recorded entry of this data source.
func (s *Store) Entries(ctx context.Context) ([]Entry, error) {
	keys, err := s.kv.Keys(ctx, s.prefix())
	if err != nil {
		return nil, fmt.Errorf("list sync metadata: %w", err)
	}
	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		mk, err := models.ParseMetricKey(strings.TrimPrefix(k, s.prefix()))
		if err != nil {
			continue
		}
		last, ok, err := s.LastSync(ctx, mk)
		if err != nil {
			return nil, err
		}
		if ok {
			entries = append(entries, Entry{Key: mk.String(), LastSync: last})
		}
	}
	return entries, nil
}

func (s *Store) prefix() string {
	return keyPrefix + s.source + ":"
}

func (s *Store) storageKey(key models.MetricKey) string {
	return s.prefix() + key.String()
}
