package pty

import (
	"errors"
	"testing"
)

// TestManagerOpenAndClose opens session "s1" with "sleep 10", verifies
// ListSessions has 1 entry, closes the session, and verifies 0 entries.
func TestManagerOpenAndClose(t *testing.T) {
	m := NewManager()
	defer m.CloseAll()

	_, err := m.Open("s1", 80, 24, []string{"sleep", "10"}, "", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	infos := m.ListSessions()
	if len(infos) != 1 {
		t.Fatalf("expected 1 session, got %d", len(infos))
	}
	if infos[0].ID != "s1" || infos[0].Cols != 80 || infos[0].Rows != 24 {
		t.Errorf("session info = %#v", infos[0])
	}

	if err := m.Close("s1"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	infos = m.ListSessions()
	if len(infos) != 0 {
		t.Fatalf("expected 0 sessions after close, got %d", len(infos))
	}
}

// TestManagerDuplicateSession opens "dup", then tries opening "dup"
// again and expects ErrDuplicateSession.
func TestManagerDuplicateSession(t *testing.T) {
	m := NewManager()
	defer m.CloseAll()

	if _, err := m.Open("dup", 80, 24, []string{"sleep", "10"}, "", nil); err != nil {
		t.Fatalf("Open: %v", err)
	}

	_, err := m.Open("dup", 80, 24, []string{"sleep", "10"}, "", nil)
	if !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("expected ErrDuplicateSession, got %v", err)
	}
}

// TestManagerWriteUnknownSession verifies Write on an unknown id fails
// with ErrNotFound while Close is a silent no-op.
func TestManagerWriteUnknownSession(t *testing.T) {
	m := NewManager()
	defer m.CloseAll()

	if err := m.Write("missing", []byte("x")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := m.Resize("missing", 80, 24); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := m.Close("missing"); err != nil {
		t.Fatalf("Close on unknown id should be a no-op, got %v", err)
	}
}

// TestManagerResizeRetained resizes a session that nothing is reading
// from and verifies the geometry snapshot reflects the change.
func TestManagerResizeRetained(t *testing.T) {
	m := NewManager()
	defer m.CloseAll()

	if _, err := m.Open("bg", 80, 24, []string{"sleep", "10"}, "", nil); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := m.Resize("bg", 200, 50); err != nil {
		t.Fatalf("Resize: %v", err)
	}

	infos := m.ListSessions()
	if len(infos) != 1 || infos[0].Cols != 200 || infos[0].Rows != 50 {
		t.Fatalf("geometry not retained: %#v", infos)
	}
}
