// Package session owns the lifecycle of headless agent runs. Each run
// is one external agent process spawned with a generated hook settings
// file; the run's progress file is tailed while the process lives, and
// process exit is reconciled against the log's stop entry before the
// session reaches a terminal status.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/user/agentpilot/internal/db"
	"github.com/user/agentpilot/internal/hooks"
	"github.com/user/agentpilot/internal/hub"
	"github.com/user/agentpilot/internal/progress"
	"github.com/user/agentpilot/internal/registry"
)

const (
	KindPlanning  = "planning"
	KindExecution = "execution"

	StatusPlanning  = "planning"
	StatusExecuting = "executing"
	StatusCompleted = "completed"
	StatusError     = "error"
	StatusKilled    = "killed"
)

const (
	defaultKillGrace         = 5 * time.Second
	defaultExitReconcileWait = 3 * time.Second
	adoptedPollInterval      = time.Second

	// The agent runtime may exit 0 on partial failure, so a clean exit
	// code without a stop entry is still an error.
	synthesizedStopReason = "process exited without stop signal"
)

// Options bundles the manager's filesystem roots and lifecycle
// tunables. Zero durations fall back to defaults.
type Options struct {
	ProgressDir       string
	HooksDir          string
	KillGrace         time.Duration
	ExitReconcileWait time.Duration
	WatchPoll         time.Duration
}

// StartRequest describes one plan or execute run. SubProjectPath, when
// set, narrows the working directory below ProjectPath. PlanRef is only
// meaningful for execution runs.
type StartRequest struct {
	TaskID          string
	ProjectID       string
	AgentType       string
	ProjectPath     string
	SubProjectPath  string
	TaskDescription string
	PlanRef         string
}

type Manager struct {
	registry *registry.Registry
	hub      *hub.Hub
	sessions *db.SessionRepo
	watcher  *progress.Watcher

	progressDir       string
	hooksDir          string
	killGrace         time.Duration
	exitReconcileWait time.Duration

	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	running map[string]*liveRun
	wg      sync.WaitGroup

	// startMu serializes the conflict check against session creation so
	// two concurrent starts for one task cannot both pass the check.
	startMu sync.Mutex
}

// liveRun is the in-memory side of one running session. cmd is nil for
// runs adopted from a previous daemon process; those are supervised by
// pid polling instead of Wait.
type liveRun struct {
	sessionID    string
	taskID       string
	pid          int
	cmd          *exec.Cmd
	progressPath string

	cancelWatch context.CancelFunc
	watchDone   chan struct{}
	stopSeen    chan struct{}
	stopOnce    sync.Once
	exited      chan struct{}
	done        chan struct{}

	killRequested atomic.Bool
}

func newLiveRun(sessionID, taskID string, pid int, cmd *exec.Cmd, progressPath string) *liveRun {
	return &liveRun{
		sessionID:    sessionID,
		taskID:       taskID,
		pid:          pid,
		cmd:          cmd,
		progressPath: progressPath,
		watchDone:    make(chan struct{}),
		stopSeen:     make(chan struct{}),
		exited:       make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (r *liveRun) markStopSeen() {
	r.stopOnce.Do(func() { close(r.stopSeen) })
}

func (r *liveRun) signal(sig syscall.Signal) error {
	if r.cmd != nil && r.cmd.Process != nil {
		// Negative pid signals the process group so agent children go
		// down with the agent.
		return syscall.Kill(-r.cmd.Process.Pid, sig)
	}
	return syscall.Kill(r.pid, sig)
}

func NewManager(conn *sql.DB, reg *registry.Registry, hubInst *hub.Hub, opts Options) *Manager {
	if conn == nil || reg == nil {
		return nil
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = defaultKillGrace
	}
	if opts.ExitReconcileWait <= 0 {
		opts.ExitReconcileWait = defaultExitReconcileWait
	}

	return &Manager{
		registry:          reg,
		hub:               hubInst,
		sessions:          db.NewSessionRepo(conn),
		watcher:           progress.NewWatcher(opts.WatchPoll),
		progressDir:       opts.ProgressDir,
		hooksDir:          opts.HooksDir,
		killGrace:         opts.KillGrace,
		exitReconcileWait: opts.ExitReconcileWait,
		running:           make(map[string]*liveRun),
	}
}

// Start adopts sessions the database still records as running. Runs
// whose process survived a daemon restart get their watcher resumed
// from the persisted checkpoint; runs whose process is gone are
// reconciled against their progress log immediately.
func (sm *Manager) Start(ctx context.Context) error {
	if sm == nil {
		return fmt.Errorf("session manager unavailable")
	}

	sm.mu.Lock()
	if sm.cancel != nil {
		sm.mu.Unlock()
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sm.ctx, sm.cancel = context.WithCancel(ctx)
	sm.mu.Unlock()

	active, err := sm.sessions.ListActive(context.Background())
	if err != nil {
		return err
	}
	for _, sess := range active {
		if sess.PID <= 0 || syscall.Kill(sess.PID, 0) != nil {
			sm.reconcileOrphan(sess)
			continue
		}
		run := newLiveRun(sess.ID, sess.TaskID, sess.PID, nil, sess.ProgressPath)
		sm.mu.Lock()
		sm.running[sess.ID] = run
		sm.mu.Unlock()
		sm.supervise(run, checkpointOffset(sess.CheckpointRef))
		slog.Info("adopted running session", "session_id", sess.ID, "pid", sess.PID)
	}
	return nil
}

// Close stops supervision without killing agent processes: sessions
// stay recorded as running and are re-adopted on the next Start.
func (sm *Manager) Close() {
	if sm == nil {
		return
	}
	sm.mu.Lock()
	if sm.cancel != nil {
		sm.cancel()
		sm.cancel = nil
	}
	sm.mu.Unlock()
	sm.wg.Wait()
}

func (sm *Manager) StartPlanning(ctx context.Context, req StartRequest) (*db.AgentSession, error) {
	return sm.start(ctx, req, KindPlanning)
}

func (sm *Manager) StartExecution(ctx context.Context, req StartRequest) (*db.AgentSession, error) {
	return sm.start(ctx, req, KindExecution)
}

func (sm *Manager) start(ctx context.Context, req StartRequest, kind string) (*db.AgentSession, error) {
	if err := sm.ensureStarted(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.TaskID) == "" {
		return nil, fmt.Errorf("task id is required")
	}
	if strings.TrimSpace(req.AgentType) == "" {
		return nil, fmt.Errorf("agent type is required")
	}

	agent := sm.registry.Get(req.AgentType)
	if agent == nil {
		return nil, fmt.Errorf("unknown agent type %q", req.AgentType)
	}

	sm.startMu.Lock()
	defer sm.startMu.Unlock()

	existing, err := sm.sessions.RunningForTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &ConflictError{TaskID: req.TaskID, SessionID: existing.ID}
	}

	return sm.spawn(ctx, req, kind, agent, "")
}

// RestartFromCheckpoint starts a fresh run for a task, seeded with the
// last checkpoint token any prior run recorded. The new run writes a
// new progress file; prior logs stay untouched as audit trail.
func (sm *Manager) RestartFromCheckpoint(ctx context.Context, taskID string) (*db.AgentSession, error) {
	if err := sm.ensureStarted(); err != nil {
		return nil, err
	}

	sm.startMu.Lock()
	defer sm.startMu.Unlock()

	running, err := sm.sessions.RunningForTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if running != nil {
		return nil, &ConflictError{TaskID: taskID, SessionID: running.ID}
	}

	prior, err := sm.sessions.List(ctx, db.SessionFilter{TaskID: taskID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(prior) == 0 {
		return nil, fmt.Errorf("no prior run for task %q: %w", taskID, ErrNotFound)
	}
	last := prior[0]

	agent := sm.registry.Get(last.AgentType)
	if agent == nil {
		return nil, fmt.Errorf("unknown agent type %q", last.AgentType)
	}
	if !agent.SupportsResume {
		return nil, fmt.Errorf("agent %q does not support checkpoint resume", agent.ID)
	}

	ref, err := sm.sessions.LatestCheckpoint(ctx, taskID)
	if err != nil {
		return nil, err
	}

	req := StartRequest{
		TaskID:      taskID,
		ProjectID:   last.ProjectID,
		AgentType:   last.AgentType,
		ProjectPath: last.WorktreePath,
	}
	return sm.spawn(ctx, req, last.Kind, agent, ref)
}

func (sm *Manager) spawn(ctx context.Context, req StartRequest, kind string, agent *registry.AgentConfig, resumeRef string) (*db.AgentSession, error) {
	sessionID := uuid.NewString()
	runID := uuid.NewString()[:8]

	hookCfg := hooks.Build(req.TaskID, runID, sm.progressDir)
	settingsPath, err := hooks.Write(hookCfg, sm.hooksDir)
	if err != nil {
		return nil, fmt.Errorf("write hook settings: %w", err)
	}

	workDir := req.ProjectPath
	if req.SubProjectPath != "" {
		workDir = req.SubProjectPath
	}

	argv := buildArgv(agent, kind, req, resumeRef)
	cmd := exec.Command(agent.Command, argv...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), agent.SettingsEnv+"="+settingsPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	consolePath := strings.TrimSuffix(hookCfg.ProgressPath, ".jsonl") + ".log"
	console, err := os.OpenFile(consolePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open console log: %w", err)
	}
	cmd.Stdout = console
	cmd.Stderr = console

	if err := cmd.Start(); err != nil {
		console.Close()
		return nil, &SpawnError{AgentType: agent.ID, Err: err}
	}
	// The child holds its own descriptor.
	console.Close()

	sess := &db.AgentSession{
		ID:           sessionID,
		TaskID:       req.TaskID,
		ProjectID:    req.ProjectID,
		Kind:         kind,
		AgentType:    agent.ID,
		Status:       runningStatus(kind),
		WorktreePath: workDir,
		PID:          cmd.Process.Pid,
		ProgressPath: hookCfg.ProgressPath,
		StartedAt:    time.Now().UTC(),
	}
	if err := sm.sessions.Create(ctx, sess); err != nil {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		_ = cmd.Wait()
		return nil, err
	}

	run := newLiveRun(sess.ID, sess.TaskID, sess.PID, cmd, sess.ProgressPath)
	sm.mu.Lock()
	sm.running[sess.ID] = run
	sm.mu.Unlock()
	sm.supervise(run, 0)

	if sm.hub != nil {
		sm.hub.BroadcastSessionStatus(sess.ID, sess.Status)
	}
	slog.Info("agent session started",
		"session_id", sess.ID, "task_id", sess.TaskID,
		"agent", agent.ID, "kind", kind, "pid", sess.PID)
	return sess, nil
}

// KillSession terminates a running session's process, escalating to
// SIGKILL after the grace period. Killing an already-terminal session
// is a no-op. The call returns once the terminal status is persisted.
func (sm *Manager) KillSession(ctx context.Context, sessionID string) error {
	sm.mu.RLock()
	run := sm.running[sessionID]
	sm.mu.RUnlock()

	if run == nil {
		sess, err := sm.sessions.Get(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess == nil {
			return ErrNotFound
		}
		if isTerminalStatus(sess.Status) {
			return nil
		}
		// Recorded as running but unsupervised: the process is already
		// gone, so just settle the record.
		sess.Status = StatusKilled
		sess.PID = 0
		sess.CompletedAt = time.Now().UTC()
		if err := sm.sessions.Update(ctx, sess); err != nil {
			return err
		}
		sm.broadcastStatus(sessionID, StatusKilled)
		return nil
	}

	run.killRequested.Store(true)
	if err := run.signal(syscall.SIGTERM); err != nil {
		slog.Debug("terminate signal failed", "session_id", sessionID, "error", err)
	}

	select {
	case <-run.exited:
	case <-time.After(sm.killGrace):
		if err := run.signal(syscall.SIGKILL); err != nil {
			slog.Debug("kill signal failed", "session_id", sessionID, "error", err)
		}
	}

	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (sm *Manager) Get(ctx context.Context, sessionID string) (*db.AgentSession, error) {
	sess, err := sm.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	return sess, nil
}

func (sm *Manager) List(ctx context.Context, filter db.SessionFilter) ([]*db.AgentSession, error) {
	return sm.sessions.List(ctx, filter)
}

// SessionSnapshot is the hub's handshake payload for new clients.
func (sm *Manager) SessionSnapshot() []hub.SessionInfo {
	active, err := sm.sessions.ListActive(context.Background())
	if err != nil {
		slog.Warn("session snapshot query failed", "error", err)
		return nil
	}
	infos := make([]hub.SessionInfo, 0, len(active))
	for _, s := range active {
		infos = append(infos, hub.SessionInfo{
			ID:        s.ID,
			TaskID:    s.TaskID,
			Kind:      s.Kind,
			AgentType: s.AgentType,
			Status:    s.Status,
		})
	}
	return infos
}

// supervise wires the three per-run goroutines: progress tailing, exit
// detection, and finalization.
func (sm *Manager) supervise(run *liveRun, fromOffset int64) {
	watchCtx, cancel := context.WithCancel(sm.ctx)
	run.cancelWatch = cancel

	events, err := sm.watcher.WatchFrom(watchCtx, run.sessionID, run.progressPath, fromOffset)
	if err != nil {
		slog.Warn("progress watch failed", "session_id", run.sessionID, "error", err)
		close(run.watchDone)
	} else {
		go sm.watchLoop(run, events)
	}

	if run.cmd != nil {
		go func() {
			_ = run.cmd.Wait()
			close(run.exited)
		}()
	} else {
		go sm.pollExit(run)
	}

	sm.wg.Add(1)
	go sm.finalize(run)
}

func (sm *Manager) watchLoop(run *liveRun, events <-chan progress.Event) {
	defer close(run.watchDone)
	for ev := range events {
		sm.persistCheckpoint(run.sessionID, ev.Offset)
		if sm.hub != nil {
			sm.hub.BroadcastProgress(hub.ProgressMessage{
				SessionID: run.sessionID,
				Kind:      string(ev.Entry.Type),
				Tool:      ev.Entry.Tool,
				Reason:    ev.Entry.Reason,
				Ts:        ev.Entry.Timestamp.Unix(),
			})
		}
		if ev.Entry.Terminal() {
			run.markStopSeen()
		}
	}
}

// pollExit supervises an adopted process that is not our child, where
// Wait is unavailable.
func (sm *Manager) pollExit(run *liveRun) {
	ticker := time.NewTicker(adoptedPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sm.ctx.Done():
			return
		case <-ticker.C:
			if syscall.Kill(run.pid, 0) != nil {
				close(run.exited)
				return
			}
		}
	}
}

func (sm *Manager) finalize(run *liveRun) {
	defer sm.wg.Done()

	select {
	case <-run.exited:
	case <-sm.ctx.Done():
		// Daemon shutdown: stop watching but leave the session running
		// for re-adoption.
		run.cancelWatch()
		<-run.watchDone
		sm.removeRun(run.sessionID)
		close(run.done)
		return
	}

	stopSeen := false
	select {
	case <-run.stopSeen:
		stopSeen = true
	case <-time.After(sm.exitReconcileWait):
	}

	run.cancelWatch()
	<-run.watchDone
	// The final drain may have delivered the stop entry.
	select {
	case <-run.stopSeen:
		stopSeen = true
	default:
	}

	status := StatusCompleted
	switch {
	case run.killRequested.Load():
		status = StatusKilled
	case stopSeen:
		status = StatusCompleted
	default:
		status = StatusError
		sm.appendSynthesizedStop(run.progressPath)
	}

	if sess, err := sm.sessions.Get(context.Background(), run.sessionID); err != nil {
		slog.Warn("finalize lookup failed", "session_id", run.sessionID, "error", err)
	} else if sess != nil {
		sess.Status = status
		sess.PID = 0
		sess.CompletedAt = time.Now().UTC()
		if err := sm.sessions.Update(context.Background(), sess); err != nil {
			slog.Warn("finalize update failed", "session_id", run.sessionID, "error", err)
		}
	}

	sm.removeRun(run.sessionID)
	sm.broadcastStatus(run.sessionID, status)
	close(run.done)
	slog.Info("agent session finished", "session_id", run.sessionID, "status", status)
}

// reconcileOrphan settles a session whose process died while the
// daemon was down, using the progress log as the only witness.
func (sm *Manager) reconcileOrphan(sess *db.AgentSession) {
	status := StatusError
	if entries, err := progress.ReadAll(sess.ProgressPath); err == nil {
		for _, e := range entries {
			if e.Terminal() {
				status = StatusCompleted
				break
			}
		}
	}
	if status == StatusError {
		sm.appendSynthesizedStop(sess.ProgressPath)
	}

	sess.Status = status
	sess.PID = 0
	sess.CompletedAt = time.Now().UTC()
	if err := sm.sessions.Update(context.Background(), sess); err != nil {
		slog.Warn("orphan reconcile failed", "session_id", sess.ID, "error", err)
		return
	}
	sm.broadcastStatus(sess.ID, status)
	slog.Info("reconciled orphaned session", "session_id", sess.ID, "status", status)
}

// appendSynthesizedStop records the inferred stop in the progress log
// itself so the file remains a complete audit trail of the run.
func (sm *Manager) appendSynthesizedStop(path string) {
	store, err := progress.OpenStore(path)
	if err != nil {
		slog.Warn("open progress log for synthesized stop failed", "path", path, "error", err)
		return
	}
	defer store.Close()
	err = store.Append(progress.Entry{
		Type:      progress.EntryAgentStopped,
		Reason:    synthesizedStopReason,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("append synthesized stop failed", "path", path, "error", err)
	}
}

func (sm *Manager) persistCheckpoint(sessionID string, offset int64) {
	sess, err := sm.sessions.Get(context.Background(), sessionID)
	if err != nil || sess == nil {
		return
	}
	sess.CheckpointRef = fmt.Sprintf("offset:%d", offset)
	if err := sm.sessions.Update(context.Background(), sess); err != nil {
		slog.Warn("checkpoint update failed", "session_id", sessionID, "error", err)
	}
}

func (sm *Manager) broadcastStatus(sessionID, status string) {
	if sm.hub != nil {
		sm.hub.BroadcastSessionStatus(sessionID, status)
	}
}

func (sm *Manager) removeRun(sessionID string) {
	sm.mu.Lock()
	delete(sm.running, sessionID)
	sm.mu.Unlock()
}

func (sm *Manager) ensureStarted() error {
	if sm == nil {
		return fmt.Errorf("session manager unavailable")
	}
	sm.mu.RLock()
	started := sm.cancel != nil
	sm.mu.RUnlock()
	if started {
		return nil
	}
	return sm.Start(context.Background())
}

func buildArgv(agent *registry.AgentConfig, kind string, req StartRequest, resumeRef string) []string {
	var argv []string
	if kind == KindPlanning {
		argv = append(argv, agent.PlanArgs...)
	} else {
		argv = append(argv, agent.ExecuteArgs...)
	}
	if resumeRef != "" && agent.ResumeFlag != "" {
		argv = append(argv, agent.ResumeFlag, resumeRef)
	}

	prompt := strings.TrimSpace(req.TaskDescription)
	if kind == KindExecution && req.PlanRef != "" {
		prompt = strings.TrimSpace(prompt + "\n\nFollow the approved plan: " + req.PlanRef)
	}
	if prompt != "" {
		argv = append(argv, prompt)
	}
	return argv
}

func runningStatus(kind string) string {
	if kind == KindPlanning {
		return StatusPlanning
	}
	return StatusExecuting
}

func isTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusError, StatusKilled:
		return true
	}
	return false
}

// checkpointOffset recovers the byte offset from a persisted ref of
// the form "offset:N". Unknown shapes restart the tail from zero.
func checkpointOffset(ref string) int64 {
	rest, ok := strings.CutPrefix(ref, "offset:")
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
