package progress

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func collectEvents(t *testing.T, ch <-chan Event, n int, timeout time.Duration) []Event {
	t.Helper()
	var got []Event
	deadline := time.After(timeout)
	for len(got) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed after %d events, want %d", len(got), n)
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("timed out after %d events, want %d", len(got), n)
		}
	}
	return got
}

func appendString(t *testing.T, path, s string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(s); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestWatchDeliversEntriesInFileOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.jsonl")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := NewWatcher(10 * time.Millisecond).Watch(ctx, "s1", path)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	appendString(t, path,
		`{"type":"tool_use","tool":"Read","timestamp":"2026-01-02T10:00:00Z"}`+"\n"+
			`{"type":"tool_use","tool":"Edit","timestamp":"2026-01-02T10:00:01Z"}`+"\n"+
			`{"type":"agent_stopped","reason":"done","timestamp":"2026-01-02T10:00:02Z"}`+"\n")

	got := collectEvents(t, ch, 3, 2*time.Second)
	if got[0].Entry.Tool != "Read" || got[1].Entry.Tool != "Edit" {
		t.Fatalf("wrong order: %#v", got)
	}
	if got[2].Entry.Type != EntryAgentStopped || got[2].Entry.Reason != "done" {
		t.Fatalf("terminal entry = %#v", got[2].Entry)
	}
	if !(got[0].Offset < got[1].Offset && got[1].Offset < got[2].Offset) {
		t.Fatalf("offsets not monotonic: %d %d %d", got[0].Offset, got[1].Offset, got[2].Offset)
	}
}

func TestWatchHoldsPartialTrailingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.jsonl")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := NewWatcher(10 * time.Millisecond).Watch(ctx, "s1", path)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	// First half of a line: nothing must be delivered yet.
	appendString(t, path, `{"type":"tool_use","tool":"Ba`)
	select {
	case ev := <-ch:
		t.Fatalf("got event for partial line: %#v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	// Completing the line yields exactly one event, not a duplicate.
	appendString(t, path, `sh","timestamp":"2026-01-02T10:00:00Z"}`+"\n")
	got := collectEvents(t, ch, 1, 2*time.Second)
	if got[0].Entry.Tool != "Bash" {
		t.Fatalf("entry = %#v", got[0].Entry)
	}

	select {
	case ev := <-ch:
		t.Fatalf("duplicate event: %#v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatchSkipsMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.jsonl")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appendString(t, path, "{not json at all\n"+
		`{"type":"tool_use","tool":"Read","timestamp":"2026-01-02T10:00:00Z"}`+"\n"+
		`{"type":"tool_use","tool":"Grep","timestamp":"2026-01-02T10:00:01Z"}`+"\n")

	ch, err := NewWatcher(10 * time.Millisecond).Watch(ctx, "s1", path)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	got := collectEvents(t, ch, 2, 2*time.Second)
	if got[0].Entry.Tool != "Read" || got[1].Entry.Tool != "Grep" {
		t.Fatalf("events = %#v", got)
	}
}

func TestWatchDrainsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.jsonl")
	ctx, cancel := context.WithCancel(context.Background())

	// Long poll so delivery after cancel can only come from the drain.
	ch, err := NewWatcher(time.Hour).Watch(ctx, "s1", path)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	// Give the tailer a moment to consume the initial fsnotify events.
	time.Sleep(50 * time.Millisecond)
	appendString(t, path, `{"type":"agent_stopped","reason":"killed","timestamp":"2026-01-02T10:00:00Z"}`+"\n")
	time.Sleep(50 * time.Millisecond)
	cancel()

	var got []Event
	for ev := range ch {
		got = append(got, ev)
	}
	if len(got) == 0 {
		t.Fatal("expected drained terminal event before close")
	}
	last := got[len(got)-1]
	if last.Entry.Type != EntryAgentStopped || last.Entry.Reason != "killed" {
		t.Fatalf("drained entry = %#v", last.Entry)
	}
}

func TestWatchFileCreatedAfterWatchStarts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "late.jsonl")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := NewWatcher(10 * time.Millisecond).Watch(ctx, "s1", path)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	appendString(t, path, `{"type":"tool_use","tool":"Write","timestamp":"2026-01-02T10:00:00Z"}`+"\n")

	got := collectEvents(t, ch, 1, 2*time.Second)
	if got[0].Entry.Tool != "Write" {
		t.Fatalf("entry = %#v", got[0].Entry)
	}
}
