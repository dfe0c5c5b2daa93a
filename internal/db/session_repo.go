package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const sessionColumns = `id, task_id, project_id, kind, agent_type, status, worktree_path, pid, progress_path, checkpoint_ref, started_at, completed_at`

type SessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

func (r *SessionRepo) Create(ctx context.Context, session *AgentSession) error {
	if session.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = nowUTC()
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO agent_sessions (`+sessionColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, session.ID, session.TaskID, session.ProjectID, session.Kind, session.AgentType,
		session.Status, session.WorktreePath, session.PID, session.ProgressPath,
		session.CheckpointRef, formatTimestamp(session.StartedAt), formatTimestamp(session.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *SessionRepo) Get(ctx context.Context, id string) (*AgentSession, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM agent_sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session %q: %w", id, err)
	}
	return s, nil
}

func (r *SessionRepo) Update(ctx context.Context, session *AgentSession) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE agent_sessions
SET status = ?, worktree_path = ?, pid = ?, progress_path = ?, checkpoint_ref = ?, completed_at = ?
WHERE id = ?
`, session.Status, session.WorktreePath, session.PID, session.ProgressPath,
		session.CheckpointRef, formatTimestamp(session.CompletedAt), session.ID)
	if err != nil {
		return fmt.Errorf("failed to update session %q: %w", session.ID, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("session %q not found", session.ID)
	}
	return nil
}

func (r *SessionRepo) List(ctx context.Context, filter SessionFilter) ([]*AgentSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM agent_sessions`
	args := []any{}
	where := []string{}
	if filter.TaskID != "" {
		where = append(where, "task_id = ?")
		args = append(args, filter.TaskID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*AgentSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// ListActive returns sessions whose status is a running state.
func (r *SessionRepo) ListActive(ctx context.Context) ([]*AgentSession, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+sessionColumns+` FROM agent_sessions
WHERE status IN ('planning', 'executing')
ORDER BY started_at DESC
`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*AgentSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// RunningForTask returns the live session for a task, or nil when the task
// has no running session.
func (r *SessionRepo) RunningForTask(ctx context.Context, taskID string) (*AgentSession, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+sessionColumns+` FROM agent_sessions
WHERE task_id = ? AND status IN ('planning', 'executing')
ORDER BY started_at DESC
LIMIT 1
`, taskID)
	s, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query running session for task %q: %w", taskID, err)
	}
	return s, nil
}

// LatestCheckpoint returns the most recent non-empty checkpoint ref
// recorded for a task, or "" when no run ever checkpointed.
func (r *SessionRepo) LatestCheckpoint(ctx context.Context, taskID string) (string, error) {
	var ref string
	err := r.db.QueryRowContext(ctx, `
SELECT checkpoint_ref FROM agent_sessions
WHERE task_id = ? AND checkpoint_ref != ''
ORDER BY started_at DESC
LIMIT 1
`, taskID).Scan(&ref)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to query checkpoint for task %q: %w", taskID, err)
	}
	return ref, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*AgentSession, error) {
	var s AgentSession
	var startedAtRaw, completedAtRaw string

	if err := row.Scan(&s.ID, &s.TaskID, &s.ProjectID, &s.Kind, &s.AgentType, &s.Status,
		&s.WorktreePath, &s.PID, &s.ProgressPath, &s.CheckpointRef, &startedAtRaw, &completedAtRaw); err != nil {
		return nil, err
	}

	var err error
	s.StartedAt, err = parseTimestamp(startedAtRaw)
	if err != nil {
		return nil, err
	}
	s.CompletedAt, err = parseTimestamp(completedAtRaw)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
