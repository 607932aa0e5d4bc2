// ABOUTME: Conformance tests run against every local Store backend.
// ABOUTME: Covers get/set/delete, prefix listing, not-found and persistence.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"badger": func(t *testing.T) Store {
			s, err := OpenBadger("", nil)
			if err != nil {
				t.Fatalf("OpenBadger failed: %v", err)
			}
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "kv.db"))
			if err != nil {
				t.Fatalf("OpenSQLite failed: %v", err)
			}
			return s
		},
	}
}

func TestStoreGetSetDelete(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			defer s.Close()

			if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get(missing) err = %v, want ErrNotFound", err)
			}

			if err := s.Set(ctx, "a", []byte("1")); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			if err := s.Set(ctx, "a", []byte("2")); err != nil {
				t.Fatalf("overwrite failed: %v", err)
			}
			got, err := s.Get(ctx, "a")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if string(got) != "2" {
				t.Errorf("Get = %q, want %q", got, "2")
			}

			if err := s.Delete(ctx, "a"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get after delete err = %v, want ErrNotFound", err)
			}
			if err := s.Delete(ctx, "a"); err != nil {
				t.Errorf("Delete of missing key should not fail: %v", err)
			}
		})
	}
}

func TestStoreKeysAndDeletePrefix(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			defer s.Close()

			for _, k := range []string{"cursor:b", "cursor:a", "syncmeta:a", "cursorx"} {
				if err := s.Set(ctx, k, []byte(k)); err != nil {
					t.Fatalf("Set(%s) failed: %v", k, err)
				}
			}

			keys, err := s.Keys(ctx, "cursor:")
			if err != nil {
				t.Fatalf("Keys failed: %v", err)
			}
			if len(keys) != 2 || keys[0] != "cursor:a" || keys[1] != "cursor:b" {
				t.Errorf("Keys(cursor:) = %v", keys)
			}

			all, err := s.Keys(ctx, "")
			if err != nil {
				t.Fatalf("Keys(\"\") failed: %v", err)
			}
			if len(all) != 4 {
				t.Errorf("Keys(\"\") returned %d keys, want 4", len(all))
			}

			n, err := DeletePrefix(ctx, s, "cursor:")
			if err != nil {
				t.Fatalf("DeletePrefix failed: %v", err)
			}
			if n != 2 {
				t.Errorf("DeletePrefix removed %d, want 2", n)
			}
			rest, _ := s.Keys(ctx, "")
			if len(rest) != 2 {
				t.Errorf("remaining keys = %v", rest)
			}
		})
	}
}

func TestStoreConcurrentDisjointWrites(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			defer s.Close()

			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					key := fmt.Sprintf("source%d:key", i)
					if err := s.Set(ctx, key, []byte(key)); err != nil {
						t.Errorf("Set(%s) failed: %v", key, err)
					}
				}(i)
			}
			wg.Wait()

			keys, err := s.Keys(ctx, "source")
			if err != nil {
				t.Fatalf("Keys failed: %v", err)
			}
			if len(keys) != 8 {
				t.Errorf("got %d keys, want 8", len(keys))
			}
		})
	}
}

func TestBadgerPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := OpenBadger(dir, nil)
	if err != nil {
		t.Fatalf("OpenBadger failed: %v", err)
	}
	if err := s.Set(ctx, "cursor:intraday.steps", []byte(`{"token":"t1"}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s, err = OpenBadger(dir, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()
	got, err := s.Get(ctx, "cursor:intraday.steps")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if string(got) != `{"token":"t1"}` {
		t.Errorf("Get = %s", got)
	}
}

func TestMemoryCopiesValues(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	v := []byte("abc")
	_ = m.Set(ctx, "k", v)
	v[0] = 'z'

	got, _ := m.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("stored value was aliased: %q", got)
	}
	got[0] = 'y'
	again, _ := m.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("returned value was aliased: %q", again)
	}
}
