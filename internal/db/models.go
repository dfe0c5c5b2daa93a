package db

import (
	"fmt"
	"time"
)

// AgentSession is the durable record of one agent run. PID is only
// meaningful while the run is live; it is zeroed when the session reaches
// a terminal status.
type AgentSession struct {
	ID            string    `json:"id"`
	TaskID        string    `json:"task_id"`
	ProjectID     string    `json:"project_id"`
	Kind          string    `json:"kind"`
	AgentType     string    `json:"agent_type"`
	Status        string    `json:"status"`
	WorktreePath  string    `json:"worktree_path"`
	PID           int       `json:"pid,omitempty"`
	ProgressPath  string    `json:"progress_path"`
	CheckpointRef string    `json:"checkpoint_ref,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at,omitempty"`
}

// SessionFilter narrows List results. Zero values match everything.
type SessionFilter struct {
	TaskID string
	Status string
	Limit  int
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}

func parseTimestamp(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", v, err)
	}
	return ts, nil
}
