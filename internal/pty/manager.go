package pty

import (
	"fmt"
	"sync"
)

// Manager is the terminal multiplexer: it owns every open interactive
// pseudo-terminal, keyed by session id. Terminal session ids share the
// id space with agent runs but their lifecycles are independent.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	sink     func(Event)
}

// NewManager creates a new, empty Manager.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

// SetEventSink registers a consumer that receives every session's
// events. Must be set before sessions are opened; sessions created
// earlier keep delivering only on their own Events channel.
func (m *Manager) SetEventSink(fn func(Event)) {
	m.mu.Lock()
	m.sink = fn
	m.mu.Unlock()
}

// Open allocates a pseudo-terminal running argv (the user's shell when
// argv is empty) with the given initial geometry and registers it under
// id.
func (m *Manager) Open(id string, cols, rows uint16, argv []string, workDir string, env []string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateSession, id)
	}

	sess, err := newSession(id, cols, rows, argv, workDir, env)
	if err != nil {
		return nil, err
	}

	m.sessions[id] = sess
	if m.sink != nil {
		sink := m.sink
		go func() {
			for ev := range sess.Events() {
				sink(ev)
			}
		}()
	}
	return sess, nil
}

// Get returns the session registered under id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return sess, nil
}

// Write forwards keystrokes to the session's pty.
func (m *Manager) Write(id string, data []byte) error {
	sess, err := m.Get(id)
	if err != nil {
		return err
	}
	_, err = sess.Write(data)
	return err
}

// Resize propagates a geometry change. Sessions that are not currently
// visible still accept the resize; the pty retains the geometry for
// when the view returns.
func (m *Manager) Resize(id string, cols, rows uint16) error {
	sess, err := m.Get(id)
	if err != nil {
		return err
	}
	return sess.Resize(cols, rows)
}

// Close releases the session's pty and unregisters it. Closing an
// unknown or already-closed session is a no-op.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return sess.Close()
}

// ListSessions returns metadata for every tracked session.
func (m *Manager) ListSessions() []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(m.sessions))
	for _, sess := range m.sessions {
		infos = append(infos, sess.info())
	}
	return infos
}

// CloseAll terminates and removes every session. Used at shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, sess := range m.sessions {
		_ = sess.Close()
		delete(m.sessions, id)
	}
}
