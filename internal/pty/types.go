package pty

import (
	"errors"
	"time"
)

// EventType distinguishes the kind of event produced by a Session.
type EventType int

const (
	// EventOutput indicates that new data was read from the PTY.
	EventOutput EventType = iota
	// EventTitle indicates the shell set a new window title.
	EventTitle
	// EventClosed indicates that the child process has exited.
	EventClosed
)

// Event is a single notification emitted by a Session.
type Event struct {
	Type EventType
	ID   string
	Data string
}

// SessionInfo is a read-only snapshot of session metadata returned by
// Manager.ListSessions.
type SessionInfo struct {
	ID        string
	Active    bool
	Cols      uint16
	Rows      uint16
	CreatedAt time.Time
}

var (
	// ErrDuplicateSession is returned when opening an id that is
	// already registered.
	ErrDuplicateSession = errors.New("pty: session already exists")
	// ErrNotFound is returned for operations on an unknown session id.
	ErrNotFound = errors.New("pty: session not found")
	// ErrClosed is returned for writes and resizes after the session
	// terminated.
	ErrClosed = errors.New("pty: session is closed")
)
