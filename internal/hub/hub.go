// Package hub fans session and terminal events out to connected
// websocket clients. Clients authenticate with the daemon token,
// optionally subscribe to a subset of agent sessions, and send
// terminal input and resize requests back through a single envelope
// message type.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
)

const defaultBatchInterval = 100 * time.Millisecond

type Hub struct {
	clients    map[string]*Client
	register   chan *clientRegistration
	unregister chan *Client
	broadcast  chan hubBroadcast

	onTerminalInput  func(terminalID string, data string)
	onTerminalResize func(terminalID string, cols, rows int)
	sessionSnapshot  func() []SessionInfo

	token       string
	mu          sync.RWMutex
	rateLimiter *RateLimiter
	ctxWrap     *ctxWrapper
	running     atomic.Bool
}

type ctxWrapper struct {
	ctx context.Context
}

type clientRegistration struct {
	client          *Client
	initialSessions []byte
}

func New(token string) *Hub {
	h := &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *clientRegistration, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan hubBroadcast, 256),
		token:      token,
		ctxWrap:    &ctxWrapper{ctx: context.Background()},
	}
	h.rateLimiter = NewRateLimiter(defaultBatchInterval, func(terminalID string, msg TerminalDataMessage) {
		h.sendBroadcast(msg.SessionID, msg)
	})
	return h
}

// SetOnTerminalInput registers the callback invoked when a client
// types into a remote terminal.
func (h *Hub) SetOnTerminalInput(fn func(terminalID string, data string)) {
	h.onTerminalInput = fn
}

// SetOnTerminalResize registers the callback invoked when a client
// viewport changes size.
func (h *Hub) SetOnTerminalResize(fn func(terminalID string, cols, rows int)) {
	h.onTerminalResize = fn
}

// SetSessionSnapshot registers the provider for the session list sent
// to every newly connected client.
func (h *Hub) SetSessionSnapshot(fn func() []SessionInfo) {
	h.sessionSnapshot = fn
}

func (h *Hub) getContext() context.Context {
	if h.ctxWrap != nil {
		return h.ctxWrap.ctx
	}
	return context.Background()
}

func (h *Hub) Run(ctx context.Context) {
	h.ctxWrap = &ctxWrapper{ctx: ctx}
	h.running.Store(true)
	defer h.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			h.rateLimiter.FlushAll()
			h.mu.Lock()
			for _, c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[string]*Client)
			h.mu.Unlock()
			return

		case reg := <-h.register:
			h.mu.Lock()
			h.clients[reg.client.id] = reg.client
			h.mu.Unlock()
			if reg.initialSessions != nil {
				select {
				case reg.client.send <- reg.initialSessions:
				default:
				}
			}
			go reg.client.writePump(h.getContext())
			go reg.client.readPump(h.getContext())
			slog.Info("hub: client connected", "client", reg.client.id, "total", h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.mu.Unlock()
			slog.Info("hub: client disconnected", "client", client.id, "total", h.ClientCount())

		case b := <-h.broadcast:
			h.broadcastToClients(b)
		}
	}
}

func (h *Hub) broadcastToClients(b hubBroadcast) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.wantsSession(b.sessionID) {
			continue
		}
		select {
		case c.send <- b.data:
		default:
			slog.Warn("hub: client send buffer full, dropping message", "client", c.id)
		}
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" || token != h.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("hub: websocket accept failed", "error", err)
		return
	}

	client := newClient(conn, h)

	var sessions []SessionInfo
	if h.sessionSnapshot != nil {
		sessions = h.sessionSnapshot()
	}
	if sessions == nil {
		sessions = []SessionInfo{}
	}
	initial, _ := json.Marshal(SessionsMessage{Type: "sessions", List: sessions})

	select {
	case h.register <- &clientRegistration{client: client, initialSessions: initial}:
	default:
		slog.Warn("hub: not accepting connections")
		conn.Close(websocket.StatusTryAgainLater, "server busy")
		return
	}
}

// BroadcastTerminalData pushes raw pty output through the batcher.
func (h *Hub) BroadcastTerminalData(sessionID, terminalID, data string) {
	h.rateLimiter.Add(TerminalDataMessage{
		Type:      "terminal_data",
		SessionID: sessionID,
		Terminal:  terminalID,
		Data:      data,
		Ts:        time.Now().UnixMilli(),
	})
}

// BroadcastTerminalTitle pushes a title change immediately, bypassing
// the batcher since titles are rare and must not be concatenated.
func (h *Hub) BroadcastTerminalTitle(sessionID, terminalID, title string) {
	h.sendBroadcast(sessionID, TerminalTitleMessage{
		Type:      "terminal_title",
		SessionID: sessionID,
		Terminal:  terminalID,
		Title:     title,
	})
}

// BroadcastTerminalClosed tells clients a pty has exited.
func (h *Hub) BroadcastTerminalClosed(terminalID string) {
	h.sendBroadcast("", TerminalClosedMessage{Type: "terminal_closed", Terminal: terminalID})
}

// BroadcastProgress pushes one agent progress record to subscribers of
// the originating session.
func (h *Hub) BroadcastProgress(msg ProgressMessage) {
	msg.Type = "progress"
	h.sendBroadcast(msg.SessionID, msg)
}

// BroadcastSessionStatus announces a session state transition.
func (h *Hub) BroadcastSessionStatus(sessionID, status string) {
	h.sendBroadcast(sessionID, SessionStatusMessage{
		Type:      "session_status",
		SessionID: sessionID,
		Status:    status,
	})
}

// BroadcastSessions replaces every client's session list snapshot.
func (h *Hub) BroadcastSessions(sessions []SessionInfo) {
	if sessions == nil {
		sessions = []SessionInfo{}
	}
	h.sendBroadcast("", SessionsMessage{Type: "sessions", List: sessions})
}

func (h *Hub) sendBroadcast(sessionID string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("hub: marshal broadcast failed", "error", err)
		return
	}
	select {
	case h.broadcast <- hubBroadcast{data: data, sessionID: sessionID}:
	default:
		slog.Warn("hub: broadcast channel full, dropping message")
	}
}

func (h *Hub) SendError(client *Client, message string) {
	data, err := json.Marshal(ErrorMessage{Type: "error", Message: message})
	if err != nil {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) handleTerminalInput(terminalID string, data string) {
	if h.onTerminalInput != nil {
		h.onTerminalInput(terminalID, data)
	}
}

func (h *Hub) handleTerminalResize(terminalID string, cols, rows int) {
	if h.onTerminalResize != nil {
		h.onTerminalResize(terminalID, cols, rows)
	}
}

// FlushPendingOutput forces any batched terminal data out, used during
// shutdown so the final bytes of a session are not lost.
func (h *Hub) FlushPendingOutput() {
	if h.rateLimiter != nil {
		h.rateLimiter.FlushAll()
	}
}

func (h *Hub) isRunning() bool {
	return h.running.Load()
}

func (h *Hub) unregisterClient(c *Client) {
	if !h.isRunning() {
		c.conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	select {
	case h.unregister <- c:
	default:
		slog.Warn("hub: unregister channel full, forcing close", "client", c.id)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}
}
