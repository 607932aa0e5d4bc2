// ABOUTME: Tests for cursor persistence.
// ABOUTME: Covers load/commit/invalidate, empty tokens and per-metric independence.
package cursor

import (
	"context"
	"errors"
	"testing"

	"github.com/harperreed/healthsync/internal/kvstore"
	"github.com/harperreed/healthsync/internal/models"
)

var (
	stepsKey = models.MetricKey{Kind: models.SyncIntraday, Metric: models.MetricSteps}
	hrKey    = models.MetricKey{Kind: models.SyncIntraday, Metric: models.MetricHeartRate}
)

func TestLoadNeverSynced(t *testing.T) {
	m := New(kvstore.NewMemory(), "health_connect")
	c, err := m.Load(context.Background(), stepsKey)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c != nil {
		t.Errorf("Load = %+v, want nil", c)
	}
}

func TestCommitAndLoad(t *testing.T) {
	ctx := context.Background()
	m := New(kvstore.NewMemory(), "health_connect")

	if err := m.Commit(ctx, stepsKey, models.Cursor{Token: "g1:3"}); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := m.Commit(ctx, stepsKey, models.Cursor{Token: "g1:7"}); err != nil {
		t.Fatalf("second Commit failed: %v", err)
	}
	c, err := m.Load(ctx, stepsKey)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c == nil || c.Token != "g1:7" {
		t.Errorf("Load = %+v, want token g1:7", c)
	}
}

func TestCommitRejectsEmptyToken(t *testing.T) {
	m := New(kvstore.NewMemory(), "health_connect")
	err := m.Commit(context.Background(), stepsKey, models.Cursor{})
	if !errors.Is(err, ErrEmptyToken) {
		t.Errorf("Commit(empty) err = %v, want ErrEmptyToken", err)
	}
}

func TestInvalidateIsPerMetric(t *testing.T) {
	ctx := context.Background()
	m := New(kvstore.NewMemory(), "health_connect")
	_ = m.Commit(ctx, stepsKey, models.Cursor{Token: "a"})
	_ = m.Commit(ctx, hrKey, models.Cursor{Token: "b"})

	if err := m.Invalidate(ctx, stepsKey); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if c, _ := m.Load(ctx, stepsKey); c != nil {
		t.Errorf("Load after Invalidate = %+v, want nil", c)
	}
	if c, _ := m.Load(ctx, hrKey); c == nil || c.Token != "b" {
		t.Errorf("heart rate cursor changed: %+v", c)
	}
}

func TestInvalidateAllScopedToSource(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemory()
	a := New(kv, "health_connect")
	b := New(kv, "healthkit")
	_ = a.Commit(ctx, stepsKey, models.Cursor{Token: "a1"})
	_ = a.Commit(ctx, hrKey, models.Cursor{Token: "a2"})
	_ = b.Commit(ctx, stepsKey, models.Cursor{Token: "b1"})

	n, err := a.InvalidateAll(ctx)
	if err != nil {
		t.Fatalf("InvalidateAll failed: %v", err)
	}
	if n != 2 {
		t.Errorf("InvalidateAll removed %d, want 2", n)
	}
	if c, _ := b.Load(ctx, stepsKey); c == nil || c.Token != "b1" {
		t.Errorf("other source cursor = %+v", c)
	}
}

func TestKindsAreIndependent(t *testing.T) {
	ctx := context.Background()
	m := New(kvstore.NewMemory(), "health_connect")
	daily := models.MetricKey{Kind: models.SyncDaily, Metric: models.MetricSteps}
	_ = m.Commit(ctx, stepsKey, models.Cursor{Token: "intraday"})

	if c, _ := m.Load(ctx, daily); c != nil {
		t.Errorf("daily steps should have no cursor, got %+v", c)
	}
}
