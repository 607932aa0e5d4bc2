// ABOUTME: Charm KV Store backend with optional cloud sync after writes.
// ABOUTME: Sync state written here follows the user's Charm account across devices.
package kvstore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/charm/client"
	"github.com/charmbracelet/charm/kv"
)

const (
	// CharmDBName is the Charm KV database holding sync state.
	CharmDBName = "healthsync"
	charmHost   = "charm.2389.dev"
)

// Ensure Charm implements the interface.
var _ Store = (*Charm)(nil)

// Charm wraps a Charm KV database.
type Charm struct {
	kv       *kv.KV
	autoSync bool
	mu       sync.RWMutex
}

// OpenCharm opens the Charm KV database and pulls remote state.
func OpenCharm(autoSync bool) (*Charm, error) {
	if os.Getenv("CHARM_HOST") == "" {
		if err := os.Setenv("CHARM_HOST", charmHost); err != nil {
			return nil, err
		}
	}

	db, err := kv.OpenWithDefaultsFallback(CharmDBName)
	if err != nil {
		return nil, fmt.Errorf("open charm kv: %w", err)
	}

	c := &Charm{kv: db, autoSync: autoSync}

	// Pull remote data on startup (skip in read-only mode)
	if !db.IsReadOnly() {
		_ = db.Sync()
	}
	return c, nil
}

// IsReadOnly returns true if another process holds the database lock.
func (c *Charm) IsReadOnly() bool {
	return c.kv.IsReadOnly()
}

// Sync synchronizes local state with Charm Cloud.
func (c *Charm) Sync() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.kv.IsReadOnly() {
		return nil
	}
	return c.kv.Sync()
}

// ID returns the Charm user ID for the current account.
func (c *Charm) ID() (string, error) {
	cc, err := client.NewClientWithDefaults()
	if err != nil {
		return "", fmt.Errorf("create charm client: %w", err)
	}
	return cc.ID()
}

func (c *Charm) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// The KV layer does not expose a typed not-found error, so check presence first.
	keys, err := c.kv.Keys()
	if err != nil {
		return nil, fmt.Errorf("charm keys: %w", err)
	}
	want := []byte(key)
	for _, k := range keys {
		if bytes.Equal(k, want) {
			val, err := c.kv.Get(k)
			if err != nil {
				return nil, fmt.Errorf("charm get %s: %w", key, err)
			}
			return val, nil
		}
	}
	return nil, ErrNotFound
}

func (c *Charm) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.kv.IsReadOnly() {
		return fmt.Errorf("cannot write: database is locked by another process")
	}
	if err := c.kv.Set([]byte(key), value); err != nil {
		return fmt.Errorf("charm set %s: %w", key, err)
	}
	c.syncIfEnabled()
	return nil
}

func (c *Charm) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.kv.IsReadOnly() {
		return fmt.Errorf("cannot write: database is locked by another process")
	}
	if err := c.kv.Delete([]byte(key)); err != nil {
		return fmt.Errorf("charm delete %s: %w", key, err)
	}
	c.syncIfEnabled()
	return nil
}

func (c *Charm) Keys(_ context.Context, prefix string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys, err := c.kv.Keys()
	if err != nil {
		return nil, fmt.Errorf("charm keys: %w", err)
	}
	var out []string
	for _, k := range keys {
		if strings.HasPrefix(string(k), prefix) {
			out = append(out, string(k))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (c *Charm) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kv != nil {
		return c.kv.Close()
	}
	return nil
}

// syncIfEnabled pushes to Charm Cloud if autoSync is enabled.
func (c *Charm) syncIfEnabled() {
	if c.autoSync && !c.kv.IsReadOnly() {
		_ = c.kv.Sync()
	}
}
