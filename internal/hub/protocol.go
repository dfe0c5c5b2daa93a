package hub

// Server to client messages. Every message carries a type tag so the
// client can dispatch without a length-prefixed framing layer.

type TerminalDataMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Terminal  string `json:"terminal"`
	Data      string `json:"data"`
	Ts        int64  `json:"ts"`
}

type TerminalTitleMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Terminal  string `json:"terminal"`
	Title     string `json:"title"`
}

type TerminalClosedMessage struct {
	Type     string `json:"type"`
	Terminal string `json:"terminal"`
}

type ProgressMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`
	Tool      string `json:"tool,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Ts        int64  `json:"ts"`
}

type SessionStatusMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

type SessionsMessage struct {
	Type string        `json:"type"`
	List []SessionInfo `json:"list"`
}

type SessionInfo struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	Kind      string `json:"kind"`
	AgentType string `json:"agent_type"`
	Status    string `json:"status"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClientMessage is the single inbound envelope. Terminal refers to a
// pty id, SessionID to an agent session for subscription filtering.
type ClientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Terminal  string `json:"terminal,omitempty"`
	Data      string `json:"data,omitempty"`
	Cols      int    `json:"cols,omitempty"`
	Rows      int    `json:"rows,omitempty"`
}

type hubBroadcast struct {
	data      []byte
	sessionID string
}
