package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"opsboard/api/internal/flow"
)

func setupTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), 15*time.Minute)
	if err != nil {
		t.Fatalf("failed to create snapshot store: %v", err)
	}
	return store, s
}

func TestSaveAndLoadSnapshot(t *testing.T) {
	store, s := setupTestStore(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	entry := "act1"
	p := &flow.Process{
		ID:              "proc_1",
		Name:            "Onboarding",
		UseExplicitFlow: true,
		EntryActivityID: &entry,
		Activities: []flow.Activity{
			{ID: "act1", Order: 1, Name: "Intake", Type: flow.ActivityManual},
			{ID: "act2", Order: 2, Name: "Approve", Type: flow.ActivityDecision},
		},
		Edges: []flow.Edge{
			{ID: "edge_1", SourceActivityID: "act1", TargetActivityID: "act2"},
		},
	}

	if err := store.Save(ctx, p); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Load(ctx, "proc_1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Name != "Onboarding" || !got.UseExplicitFlow {
		t.Errorf("snapshot lost process fields: %+v", got)
	}
	if len(got.Activities) != 2 || got.Activities[1].Type != flow.ActivityDecision {
		t.Errorf("snapshot lost activities: %+v", got.Activities)
	}
	if got.EntryActivityID == nil || *got.EntryActivityID != "act1" {
		t.Errorf("snapshot lost entry endpoint: %+v", got.EntryActivityID)
	}
}

func TestLoadMissingSnapshot(t *testing.T) {
	store, s := setupTestStore(t)
	defer store.Close()
	defer s.Close()

	if _, err := store.Load(context.Background(), "proc_nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInvalidateSnapshot(t *testing.T) {
	store, s := setupTestStore(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.Save(ctx, &flow.Process{ID: "proc_1", Name: "X"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Invalidate(ctx, "proc_1"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, err := store.Load(ctx, "proc_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after invalidate, got %v", err)
	}
}

func TestSnapshotExpires(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()
	store, err := NewRedisStore("redis://"+s.Addr(), time.Second)
	if err != nil {
		t.Fatalf("failed to create snapshot store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Save(ctx, &flow.Process{ID: "proc_1"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	s.FastForward(2 * time.Second)

	if _, err := store.Load(ctx, "proc_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after TTL, got %v", err)
	}
}
