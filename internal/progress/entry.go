package progress

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EntryType is the kind of a progress log line.
type EntryType string

const (
	EntryToolUse      EntryType = "tool_use"
	EntryAgentStopped EntryType = "agent_stopped"
)

// Entry is one JSON object in a run's progress log. tool_use entries
// carry Tool; agent_stopped entries carry Reason.
type Entry struct {
	Type      EntryType `json:"type"`
	Tool      string    `json:"tool,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Terminal reports whether the entry ends a run.
func (e Entry) Terminal() bool {
	return e.Type == EntryAgentStopped
}

// ParseLine decodes one complete progress log line.
func ParseLine(line []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(line, &e); err != nil {
		return Entry{}, fmt.Errorf("progress: invalid line %q: %w", truncate(string(line), 80), err)
	}
	switch e.Type {
	case EntryToolUse, EntryAgentStopped:
	default:
		return Entry{}, fmt.Errorf("progress: unknown entry type %q", e.Type)
	}
	return e, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
