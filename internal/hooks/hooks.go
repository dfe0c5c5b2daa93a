package hooks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kballard/go-shellquote"
)

const (
	// Per-callback timeouts. The tool-use callback fires on every tool
	// invocation and must stay cheap; the stop callback may flush more.
	// A timeout loses the event, it never crashes the agent run.
	ToolUseTimeoutSeconds = 5
	StopTimeoutSeconds    = 10
)

// HookCommand is one generated callback: a shell snippet the agent
// runtime invokes on the hook event, bounded by a timeout.
type HookCommand struct {
	Command        string
	TimeoutSeconds int
}

// HookConfig binds the two callbacks of one agent run to a single
// progress file. Configs are generated fresh per run and never reused.
type HookConfig struct {
	TaskID       string
	RunID        string
	ProgressPath string
	PostToolUse  HookCommand
	Stop         HookCommand
}

// Build derives the hook configuration for one run. It is a pure
// function of its arguments: the same task, run, and progress directory
// always produce the same config. Paths are normalized to forward
// slashes so the rendered shell snippets are valid regardless of the
// host path style.
func Build(taskID, runID, progressDir string) HookConfig {
	progressPath := filepath.ToSlash(filepath.Join(progressDir, taskID, runID+".jsonl"))
	quoted := shellquote.Join(progressPath)

	postToolUse := fmt.Sprintf(
		`printf '{"type":"tool_use","tool":"%%s","timestamp":"%%s"}\n' "$TOOL_USE_NAME" "$(date -u +%%Y-%%m-%%dT%%H:%%M:%%SZ)" >> %s`,
		quoted)
	stop := fmt.Sprintf(
		`printf '{"type":"agent_stopped","reason":"%%s","timestamp":"%%s"}\n' "$STOP_REASON" "$(date -u +%%Y-%%m-%%dT%%H:%%M:%%SZ)" >> %s`,
		quoted)

	return HookConfig{
		TaskID:       taskID,
		RunID:        runID,
		ProgressPath: progressPath,
		PostToolUse:  HookCommand{Command: postToolUse, TimeoutSeconds: ToolUseTimeoutSeconds},
		Stop:         HookCommand{Command: stop, TimeoutSeconds: StopTimeoutSeconds},
	}
}

// settings documents mirror the agent runtime's settings.json hooks
// schema: event name -> matcher groups -> command hooks.
type settingsDoc struct {
	Hooks map[string][]matcherGroup `json:"hooks"`
}

type matcherGroup struct {
	Matcher string        `json:"matcher,omitempty"`
	Hooks   []commandHook `json:"hooks"`
}

type commandHook struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Timeout int    `json:"timeout"`
}

// Write renders cfg as an agent settings file under configDir and makes
// sure the progress directory for the run exists. It returns the path of
// the written settings file. Stale settings from earlier runs are left
// in place; they are audit trail, not garbage.
func Write(cfg HookConfig, configDir string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.ProgressPath), 0o755); err != nil {
		return "", fmt.Errorf("create progress dir: %w", err)
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", fmt.Errorf("create hook config dir: %w", err)
	}

	doc := settingsDoc{
		Hooks: map[string][]matcherGroup{
			"PostToolUse": {{
				Matcher: "*",
				Hooks: []commandHook{{
					Type:    "command",
					Command: cfg.PostToolUse.Command,
					Timeout: cfg.PostToolUse.TimeoutSeconds,
				}},
			}},
			"Stop": {{
				Hooks: []commandHook{{
					Type:    "command",
					Command: cfg.Stop.Command,
					Timeout: cfg.Stop.TimeoutSeconds,
				}},
			}},
		},
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal hook settings: %w", err)
	}

	path := filepath.Join(configDir, cfg.TaskID+"-"+cfg.RunID+".settings.json")
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write hook settings %q: %w", path, err)
	}
	return path, nil
}
