package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), MemoryPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func strPtr(s string) *string { return &s }

func createRun(t *testing.T, store *SQLiteStore, startedAt time.Time) *Run {
	t.Helper()
	run := &Run{
		Mode:      "apply",
		Manifests: `["base","dev"]`,
		StartedAt: startedAt,
	}
	if err := store.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	return run
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: MemoryPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err == nil {
		t.Fatal("expected migrate to fail before init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"runs", "atoms", "events"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// running again is a no-op
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestFileStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "manifold.db")
	ctx := context.Background()

	store, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	run := createRun(t, store, time.Now().UTC())
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.GetRun(ctx, run.ID); err != nil {
		t.Fatalf("run did not persist: %v", err)
	}
}

// TestRunLifecycle tests creating, finishing and reading a run
func TestRunLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := createRun(t, store, time.Now().UTC())
	if run.ID == "" {
		t.Fatal("expected generated run ID")
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Status != RunStatusRunning || got.Mode != "apply" || got.Manifests != `["base","dev"]` {
		t.Errorf("unexpected run %+v", got)
	}
	if got.CompletedAt != nil {
		t.Error("running run must not have completed_at")
	}
	if got.Context != "{}" {
		t.Errorf("expected default context, got %q", got.Context)
	}

	if err := store.FinishRun(ctx, run.ID, RunStatusFailed, 3, 2, strPtr("boom")); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}

	got, err = store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Status != RunStatusFailed || got.Executed != 3 || got.Skipped != 2 {
		t.Errorf("unexpected finished run %+v", got)
	}
	if got.Error == nil || *got.Error != "boom" {
		t.Errorf("expected error message, got %v", got.Error)
	}
	if got.CompletedAt == nil {
		t.Error("finished run must have completed_at")
	}
}

func TestRunNotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.FinishRun(ctx, "missing", RunStatusSucceeded, 0, 0, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.DeleteRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListAndPruneRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, createRun(t, store, base.Add(time.Duration(i)*time.Minute)).ID)
	}

	runs, err := store.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != ids[4] || runs[1].ID != ids[3] {
		t.Fatalf("expected newest two runs first, got %v", runs)
	}

	runs, err = store.ListRuns(ctx, 10, 3)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != ids[1] {
		t.Fatalf("unexpected page %v", runs)
	}

	removed, err := store.PruneRuns(ctx, 2)
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	if removed != 3 {
		t.Errorf("expected 3 pruned runs, got %d", removed)
	}
	if _, err := store.GetRun(ctx, ids[0]); !errors.Is(err, ErrNotFound) {
		t.Errorf("oldest run should be pruned, got %v", err)
	}
	if _, err := store.GetRun(ctx, ids[4]); err != nil {
		t.Errorf("newest run should remain: %v", err)
	}
}

// TestAtomRecords tests recording atom outcomes
func TestAtomRecords(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	run := createRun(t, store, time.Now().UTC())

	records := []*AtomRecord{
		{RunID: run.ID, Manifest: "base", Action: "directory.create", Description: "DirCreate /tmp/x", Status: AtomStatusExecuted, Duration: 15 * time.Millisecond, SideEffects: `[{"kind":"write"}]`},
		{RunID: run.ID, Manifest: "base", ActionIndex: 1, Action: "command.run", Description: "CommandExec false", Status: AtomStatusFailed, Error: strPtr("exit status 1")},
	}
	for _, r := range records {
		if err := store.RecordAtom(ctx, r); err != nil {
			t.Fatalf("failed to record atom: %v", err)
		}
		if r.ID == "" {
			t.Error("expected generated atom ID")
		}
	}

	got, err := store.ListAtomsByRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to list atoms: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 atoms, got %d", len(got))
	}
	if got[0].Description != "DirCreate /tmp/x" || got[0].Duration != 15*time.Millisecond {
		t.Errorf("unexpected first atom %+v", got[0])
	}
	if got[1].Status != AtomStatusFailed || got[1].Error == nil || *got[1].Error != "exit status 1" {
		t.Errorf("unexpected second atom %+v", got[1])
	}
	if got[1].SideEffects != "[]" {
		t.Errorf("expected default side effects, got %q", got[1].SideEffects)
	}

	if err := store.RecordAtom(ctx, &AtomRecord{RunID: "missing", Description: "x", Status: AtomStatusPlanned}); err == nil {
		t.Error("expected foreign key violation for unknown run")
	}
}

// TestEvents tests the event log
func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	run := createRun(t, store, time.Now().UTC())
	other := createRun(t, store, time.Now().UTC())

	events := []*Event{
		{RunID: &run.ID, Type: "run.started", Level: EventLevelInfo, Message: "started"},
		{RunID: &run.ID, Type: "atom.failed", Level: EventLevelError, Manifest: strPtr("base"), Action: strPtr("command.run"), Message: "CommandExec false", Details: strPtr(`{"error":"exit status 1"}`)},
		{RunID: &other.ID, Type: "run.started", Level: EventLevelInfo, Message: "other"},
		{Type: "policy.loaded", Level: EventLevelInfo, Message: "no run"},
	}
	for _, e := range events {
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
	}
	if events[1].ID <= events[0].ID {
		t.Error("event IDs must increase")
	}

	got, err := store.GetEvents(ctx, &run.ID, nil, 100, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(got) != 2 || got[0].Type != "run.started" || got[1].Type != "atom.failed" {
		t.Fatalf("unexpected run events %+v", got)
	}
	if got[1].Manifest == nil || *got[1].Manifest != "base" {
		t.Errorf("expected manifest on event, got %v", got[1].Manifest)
	}

	level := EventLevelError
	got, err = store.GetEvents(ctx, nil, &level, 100, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(got) != 1 || got[0].Message != "CommandExec false" {
		t.Fatalf("unexpected error events %+v", got)
	}

	got, err = store.GetEvents(ctx, nil, nil, 100, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected all 4 events, got %d", len(got))
	}

	if err := store.DeleteRun(ctx, run.ID); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}
	got, err = store.GetEvents(ctx, &run.ID, nil, 100, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("events should cascade with their run, got %d", len(got))
	}
}
