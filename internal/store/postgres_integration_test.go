package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"opsboard/api/internal/flow"
)

func newTestStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	db := openTestDatabase(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, testMigrationsDir()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db), ctx
}

func seedActivities(t *testing.T, st *PostgresStore, ctx context.Context, processID string, names ...string) []flow.Activity {
	t.Helper()
	activities := make([]flow.Activity, 0, len(names))
	for i, name := range names {
		a, err := st.CreateActivity(ctx, processID, flow.ActivityDraft{
			Order: i + 1,
			Name:  name,
			Type:  flow.ActivityManual,
		})
		if err != nil {
			t.Fatalf("create activity %s: %v", name, err)
		}
		activities = append(activities, *a)
	}
	return activities
}

func TestFetchProcessNotFound(t *testing.T) {
	st, ctx := newTestStore(t)

	if _, err := st.FetchProcess(ctx, "proc_missing"); !errors.Is(err, flow.ErrProcessNotFound) {
		t.Fatalf("err = %v, want ErrProcessNotFound", err)
	}
}

func TestCreateEdgeDuplicateTripleAndRatchet(t *testing.T) {
	st, ctx := newTestStore(t)

	p, err := st.CreateProcess(ctx, "Onboarding", "")
	if err != nil {
		t.Fatalf("create process: %v", err)
	}
	acts := seedActivities(t, st, ctx, p.ID, "Intake", "Review")

	draft := flow.EdgeDraft{SourceActivityID: acts[0].ID, TargetActivityID: acts[1].ID}
	if _, err := st.CreateEdge(ctx, p.ID, draft); err != nil {
		t.Fatalf("first edge: %v", err)
	}
	if _, err := st.CreateEdge(ctx, p.ID, draft); !errors.Is(err, flow.ErrDuplicateEdge) {
		t.Fatalf("second edge err = %v, want ErrDuplicateEdge", err)
	}
	// A distinct source handle is a different triple.
	draft.SourceHandle = "else"
	if _, err := st.CreateEdge(ctx, p.ID, draft); err != nil {
		t.Fatalf("edge with distinct handle: %v", err)
	}

	fresh, err := st.FetchProcess(ctx, p.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !fresh.UseExplicitFlow {
		t.Fatal("edge write did not ratchet use_explicit_flow")
	}
	if len(fresh.Edges) != 2 {
		t.Fatalf("edges = %d, want 2", len(fresh.Edges))
	}
}

func TestDeleteEdgeRatchetsExplicitFlow(t *testing.T) {
	st, ctx := newTestStore(t)

	p, err := st.CreateProcess(ctx, "Onboarding", "")
	if err != nil {
		t.Fatalf("create process: %v", err)
	}
	acts := seedActivities(t, st, ctx, p.ID, "Intake", "Review")
	edge, err := st.CreateEdge(ctx, p.ID, flow.EdgeDraft{SourceActivityID: acts[0].ID, TargetActivityID: acts[1].ID})
	if err != nil {
		t.Fatalf("create edge: %v", err)
	}

	if err := st.DeleteEdge(ctx, p.ID, edge.ID); err != nil {
		t.Fatalf("delete edge: %v", err)
	}
	if err := st.DeleteEdge(ctx, p.ID, edge.ID); !errors.Is(err, flow.ErrEdgeNotFound) {
		t.Fatalf("second delete err = %v, want ErrEdgeNotFound", err)
	}

	fresh, err := st.FetchProcess(ctx, p.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !fresh.UseExplicitFlow {
		t.Fatal("edge delete did not ratchet use_explicit_flow")
	}
	if len(fresh.Edges) != 0 {
		t.Fatalf("edges = %d, want 0", len(fresh.Edges))
	}
}

func TestDeleteActivityClearsMatchingEndpoints(t *testing.T) {
	st, ctx := newTestStore(t)

	p, err := st.CreateProcess(ctx, "Onboarding", "")
	if err != nil {
		t.Fatalf("create process: %v", err)
	}
	acts := seedActivities(t, st, ctx, p.ID, "Intake", "Review")

	change := flow.EndpointChange{Entry: &acts[0].ID, Exit: &acts[1].ID}
	if err := st.UpdateFlowEndpoints(ctx, p.ID, change); err != nil {
		t.Fatalf("set endpoints: %v", err)
	}

	if err := st.DeleteActivity(ctx, p.ID, acts[0].ID); err != nil {
		t.Fatalf("delete activity: %v", err)
	}

	fresh, err := st.FetchProcess(ctx, p.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if fresh.EntryActivityID != nil {
		t.Fatalf("entry = %v, want cleared", *fresh.EntryActivityID)
	}
	if fresh.ExitActivityID == nil || *fresh.ExitActivityID != acts[1].ID {
		t.Fatalf("exit = %v, want %s untouched", fresh.ExitActivityID, acts[1].ID)
	}
	if len(fresh.Activities) != 1 {
		t.Fatalf("activities = %d, want 1", len(fresh.Activities))
	}
}

func TestUpdateFlowEndpointsClearBeatsValue(t *testing.T) {
	st, ctx := newTestStore(t)

	p, err := st.CreateProcess(ctx, "Onboarding", "")
	if err != nil {
		t.Fatalf("create process: %v", err)
	}
	acts := seedActivities(t, st, ctx, p.ID, "Intake", "Review")

	if err := st.UpdateFlowEndpoints(ctx, p.ID, flow.EndpointChange{Entry: &acts[0].ID, Exit: &acts[1].ID}); err != nil {
		t.Fatalf("set endpoints: %v", err)
	}
	// ClearEntry set alongside a value: the clear wins, exit untouched.
	if err := st.UpdateFlowEndpoints(ctx, p.ID, flow.EndpointChange{Entry: &acts[1].ID, ClearEntry: true}); err != nil {
		t.Fatalf("clear entry: %v", err)
	}

	fresh, err := st.FetchProcess(ctx, p.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if fresh.EntryActivityID != nil {
		t.Fatalf("entry = %v, want cleared", *fresh.EntryActivityID)
	}
	if fresh.ExitActivityID == nil || *fresh.ExitActivityID != acts[1].ID {
		t.Fatalf("exit = %v, want %s untouched", fresh.ExitActivityID, acts[1].ID)
	}
	if !fresh.UseExplicitFlow {
		t.Fatal("endpoint write did not ratchet use_explicit_flow")
	}

	if err := st.UpdateFlowEndpoints(ctx, "proc_missing", flow.EndpointChange{ClearEntry: true}); !errors.Is(err, flow.ErrProcessNotFound) {
		t.Fatalf("unknown process err = %v, want ErrProcessNotFound", err)
	}
}

func TestUpdateActivityPartialPatch(t *testing.T) {
	st, ctx := newTestStore(t)

	p, err := st.CreateProcess(ctx, "Onboarding", "")
	if err != nil {
		t.Fatalf("create process: %v", err)
	}
	linked, err := st.CreateProcess(ctx, "Background check", "")
	if err != nil {
		t.Fatalf("create linked process: %v", err)
	}
	acts := seedActivities(t, st, ctx, p.ID, "Intake", "Review")

	name := "Screening"
	typ := flow.ActivityDecision
	patch := flow.ActivityPatch{Name: &name, Type: &typ, LinkedProcessID: &linked.ID}
	if err := st.UpdateActivity(ctx, p.ID, acts[0].ID, patch); err != nil {
		t.Fatalf("patch: %v", err)
	}

	fresh, err := st.FetchProcess(ctx, p.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	got := fresh.ActivityByID(acts[0].ID)
	if got == nil {
		t.Fatal("patched activity missing")
	}
	if got.Name != "Screening" || got.Type != flow.ActivityDecision {
		t.Fatalf("patched activity = %s/%s, want Screening/decision", got.Name, got.Type)
	}
	if got.LinkedProcessID == nil || *got.LinkedProcessID != linked.ID {
		t.Fatalf("linked = %v, want %s", got.LinkedProcessID, linked.ID)
	}
	if got.Order != 1 {
		t.Fatalf("order = %d, want 1 (untouched)", got.Order)
	}
	// Untouched sibling keeps its attributes.
	if other := fresh.ActivityByID(acts[1].ID); other == nil || other.Name != "Review" {
		t.Fatalf("sibling = %+v, want Review untouched", other)
	}

	if err := st.UpdateActivity(ctx, p.ID, acts[0].ID, flow.ActivityPatch{ClearLinkedProcess: true}); err != nil {
		t.Fatalf("clear link: %v", err)
	}
	fresh, err = st.FetchProcess(ctx, p.ID)
	if err != nil {
		t.Fatalf("fetch after clear: %v", err)
	}
	if got := fresh.ActivityByID(acts[0].ID); got.LinkedProcessID != nil {
		t.Fatalf("linked = %v, want cleared", *got.LinkedProcessID)
	}

	if err := st.UpdateActivity(ctx, p.ID, "act_missing", flow.ActivityPatch{Name: &name}); !errors.Is(err, flow.ErrActivityNotFound) {
		t.Fatalf("unknown activity err = %v, want ErrActivityNotFound", err)
	}
}

func TestUpdateActivityRenumberSequence(t *testing.T) {
	st, ctx := newTestStore(t)

	p, err := st.CreateProcess(ctx, "Onboarding", "")
	if err != nil {
		t.Fatalf("create process: %v", err)
	}
	acts := seedActivities(t, st, ctx, p.ID, "Intake", "Review", "Approve")

	// Row-by-row renumber the way the engine reorders: 3,1,2 -> 1,2,3.
	newOrders := map[string]int{acts[2].ID: 1, acts[0].ID: 2, acts[1].ID: 3}
	for id, ord := range newOrders {
		o := ord
		if err := st.UpdateActivity(ctx, p.ID, id, flow.ActivityPatch{Order: &o}); err != nil {
			t.Fatalf("renumber %s: %v", id, err)
		}
	}

	fresh, err := st.FetchProcess(ctx, p.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	wantIDs := []string{acts[2].ID, acts[0].ID, acts[1].ID}
	for i, a := range fresh.Activities {
		if a.ID != wantIDs[i] || a.Order != i+1 {
			t.Fatalf("position %d = %s/ord %d, want %s/ord %d", i, a.ID, a.Order, wantIDs[i], i+1)
		}
	}
}

func TestDeleteProcessCascades(t *testing.T) {
	st, ctx := newTestStore(t)

	p, err := st.CreateProcess(ctx, "Onboarding", "hiring pipeline")
	if err != nil {
		t.Fatalf("create process: %v", err)
	}
	acts := seedActivities(t, st, ctx, p.ID, "Intake", "Review")
	if _, err := st.CreateEdge(ctx, p.ID, flow.EdgeDraft{SourceActivityID: acts[0].ID, TargetActivityID: acts[1].ID}); err != nil {
		t.Fatalf("create edge: %v", err)
	}

	if err := st.DeleteProcess(ctx, p.ID); err != nil {
		t.Fatalf("delete process: %v", err)
	}
	if _, err := st.FetchProcess(ctx, p.ID); !errors.Is(err, flow.ErrProcessNotFound) {
		t.Fatalf("fetch after delete err = %v, want ErrProcessNotFound", err)
	}

	var rows int
	if err := st.DB().QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM activities WHERE process_id = $1) + (SELECT COUNT(*) FROM edges WHERE process_id = $1)`,
		p.ID).Scan(&rows); err != nil {
		t.Fatalf("count orphans: %v", err)
	}
	if rows != 0 {
		t.Fatalf("orphaned rows = %d, want 0", rows)
	}
}
