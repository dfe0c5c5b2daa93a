package session

import (
	"errors"
	"fmt"
)

// ErrNotFound marks operations addressed at an unknown session.
var ErrNotFound = errors.New("session not found")

// ConflictError reports a start request for a task that already has a
// running session. The caller must wait for or kill the existing run.
type ConflictError struct {
	TaskID    string
	SessionID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("task %q already has running session %q", e.TaskID, e.SessionID)
}

// SpawnError reports that the agent process could not be started, for
// example because the executable or working directory is invalid.
type SpawnError struct {
	AgentType string
	Err       error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn agent %q: %v", e.AgentType, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
