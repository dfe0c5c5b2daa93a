package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentpilot-test.db")
	database, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := database.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	})
	return database, path
}

func assertTableExists(t *testing.T, conn *sql.DB, table string) {
	t.Helper()
	var count int
	err := conn.QueryRow(`SELECT count(1) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
	if err != nil {
		t.Fatalf("query sqlite_master error: %v", err)
	}
	if count != 1 {
		t.Fatalf("table %q not found", table)
	}
}

func TestOpenCreatesDBFileAndRunsMigrations(t *testing.T) {
	database, path := openTestDB(t)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected DB file at %q: %v", path, err)
	}

	assertTableExists(t, database.SQL(), "_meta")
	assertTableExists(t, database.SQL(), "agent_sessions")
}

func TestMigrationsAreIdempotent(t *testing.T) {
	database, _ := openTestDB(t)

	if err := RunMigrations(context.Background(), database.SQL()); err != nil {
		t.Fatalf("second RunMigrations() error = %v", err)
	}

	var version string
	if err := database.SQL().QueryRow(`SELECT value FROM _meta WHERE key='schema_version'`).Scan(&version); err != nil {
		t.Fatalf("read schema version error = %v", err)
	}
	if version != "1" {
		t.Fatalf("schema version = %s, want 1", version)
	}
}

func TestSessionRepoCRUDAndFilters(t *testing.T) {
	database, _ := openTestDB(t)
	repo := NewSessionRepo(database.SQL())
	ctx := context.Background()

	session := &AgentSession{
		ID:           "sess-1",
		TaskID:       "task-1",
		ProjectID:    "proj-1",
		Kind:         "planning",
		AgentType:    "claude-code",
		Status:       "planning",
		WorktreePath: "/tmp/p1",
		PID:          4242,
		ProgressPath: "/tmp/progress/task-1/run-1.jsonl",
	}
	if err := repo.Create(ctx, session); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil || got.PID != 4242 || got.Status != "planning" {
		t.Fatalf("Get() got = %#v", got)
	}
	if got.StartedAt.IsZero() {
		t.Fatal("Get() StartedAt is zero")
	}
	if !got.CompletedAt.IsZero() {
		t.Fatalf("CompletedAt = %v, want zero", got.CompletedAt)
	}

	running, err := repo.RunningForTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("RunningForTask() error = %v", err)
	}
	if running == nil || running.ID != "sess-1" {
		t.Fatalf("RunningForTask() got = %#v", running)
	}

	active, err := repo.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("ListActive len = %d, want 1", len(active))
	}

	session.Status = "completed"
	session.PID = 0
	session.CheckpointRef = "offset:1024"
	session.CompletedAt = time.Now().UTC()
	if err := repo.Update(ctx, session); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if running, err := repo.RunningForTask(ctx, "task-1"); err != nil || running != nil {
		t.Fatalf("RunningForTask() after complete = %#v, err = %v", running, err)
	}

	activeAfter, err := repo.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive() after update error = %v", err)
	}
	if len(activeAfter) != 0 {
		t.Fatalf("ListActive after update len = %d, want 0", len(activeAfter))
	}

	byTask, err := repo.List(ctx, SessionFilter{TaskID: "task-1"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(byTask) != 1 || byTask[0].CheckpointRef != "offset:1024" {
		t.Fatalf("List() got = %#v", byTask)
	}
}

func TestLatestCheckpointPicksNewestRun(t *testing.T) {
	database, _ := openTestDB(t)
	repo := NewSessionRepo(database.SQL())
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	runs := []*AgentSession{
		{ID: "old", TaskID: "task-ck", ProjectID: "p", Kind: "execution", AgentType: "codex",
			Status: "killed", CheckpointRef: "offset:10", StartedAt: base},
		{ID: "new", TaskID: "task-ck", ProjectID: "p", Kind: "execution", AgentType: "codex",
			Status: "error", CheckpointRef: "offset:900", StartedAt: base.Add(30 * time.Minute)},
		{ID: "none", TaskID: "task-ck", ProjectID: "p", Kind: "execution", AgentType: "codex",
			Status: "error", StartedAt: base.Add(45 * time.Minute)},
	}
	for _, s := range runs {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("Create(%s) error = %v", s.ID, err)
		}
	}

	ref, err := repo.LatestCheckpoint(ctx, "task-ck")
	if err != nil {
		t.Fatalf("LatestCheckpoint() error = %v", err)
	}
	if ref != "offset:900" {
		t.Fatalf("LatestCheckpoint() = %q, want offset:900", ref)
	}

	empty, err := repo.LatestCheckpoint(ctx, "task-without-runs")
	if err != nil {
		t.Fatalf("LatestCheckpoint(no runs) error = %v", err)
	}
	if empty != "" {
		t.Fatalf("LatestCheckpoint(no runs) = %q, want empty", empty)
	}
}
