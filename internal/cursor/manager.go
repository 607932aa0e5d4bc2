// ABOUTME: Persists the opaque per-metric incremental query cursor of a data source.
// ABOUTME: Cursors are replaced whole on commit and removed on invalidation.
package cursor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/harperreed/healthsync/internal/kvstore"
	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/syncerr"
)

const keyPrefix = "cursor:"

// ErrEmptyToken is returned when committing a cursor without a token.
var ErrEmptyToken = errors.New("cursor token is empty")

// Manager owns the cursor keys of one data source.
type Manager struct {
	kv     kvstore.Store
	source string
}

// New creates a cursor manager for source.
func New(kv kvstore.Store, source string) *Manager {
	return &Manager{kv: kv, source: source}
}

// Load returns the stored cursor for key, or nil if there is none.
func (m *Manager) Load(ctx context.Context, key models.MetricKey) (*models.Cursor, error) {
	data, err := m.kv.Get(ctx, m.storageKey(key))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cursor %s: %w", key, err)
	}
	var c models.Cursor
	if err := json.Unmarshal(data, &c); err != nil || c.IsZero() {
		// An unreadable cursor behaves like a reset one: the next query is a full rescan.
		return nil, nil
	}
	return &c, nil
}

// Commit replaces the cursor for key in a single write.
func (m *Manager) Commit(ctx context.Context, key models.MetricKey, c models.Cursor) error {
	if c.IsZero() {
		return fmt.Errorf("commit cursor %s: %w", key, ErrEmptyToken)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}
	if err := m.kv.Set(ctx, m.storageKey(key), data); err != nil {
		return syncerr.StorageWrite(fmt.Errorf("commit cursor %s: %w", key, err))
	}
	return nil
}

// Invalidate removes the cursor for key.
func (m *Manager) Invalidate(ctx context.Context, key models.MetricKey) error {
	if err := m.kv.Delete(ctx, m.storageKey(key)); err != nil {
		return syncerr.StorageWrite(fmt.Errorf("invalidate cursor %s: %w", key, err))
	}
	return nil
}

// InvalidateAll removes every cursor of this data source.
func (m *Manager) InvalidateAll(ctx context.Context) (int, error) {
	n, err := kvstore.DeletePrefix(ctx, m.kv, m.prefix())
	if err != nil {
		return n, syncerr.StorageWrite(fmt.Errorf("invalidate all cursors: %w", err))
	}
	return n, nil
}

func (m *Manager) prefix() string {
	return keyPrefix + m.source + ":"
}

func (m *Manager) storageKey(key models.MetricKey) string {
	return m.prefix() + key.String()
}
