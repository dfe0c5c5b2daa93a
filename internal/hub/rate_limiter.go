package hub

import (
	"strings"
	"sync"
	"time"
)

// RateLimiter coalesces terminal output per pty so a chatty process
// does not flood every connected client with one websocket frame per
// read. Chunks accumulate until the interval elapses, then flush as a
// single message.
type RateLimiter struct {
	mu       sync.Mutex
	pending  map[string]*pendingOutput
	interval time.Duration
	onFlush  func(terminalID string, msg TerminalDataMessage)
}

type pendingOutput struct {
	sessionID string
	chunks    []string
	ts        int64
	timer     *time.Timer
}

func NewRateLimiter(interval time.Duration, onFlush func(string, TerminalDataMessage)) *RateLimiter {
	return &RateLimiter{
		pending:  make(map[string]*pendingOutput),
		interval: interval,
		onFlush:  onFlush,
	}
}

func (r *RateLimiter) Add(msg TerminalDataMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	terminalID := msg.Terminal
	p, exists := r.pending[terminalID]
	if !exists {
		p = &pendingOutput{sessionID: msg.SessionID}
		r.pending[terminalID] = p
	}

	p.chunks = append(p.chunks, msg.Data)
	if msg.Ts > p.ts {
		p.ts = msg.Ts
	}

	if p.timer == nil {
		p.timer = time.AfterFunc(r.interval, func() {
			r.flushTerminal(terminalID)
		})
	}
}

func (r *RateLimiter) flushTerminal(terminalID string) {
	r.mu.Lock()
	p, exists := r.pending[terminalID]
	if !exists {
		r.mu.Unlock()
		return
	}
	delete(r.pending, terminalID)
	r.mu.Unlock()

	if r.onFlush != nil && len(p.chunks) > 0 {
		r.onFlush(terminalID, TerminalDataMessage{
			Type:      "terminal_data",
			SessionID: p.sessionID,
			Terminal:  terminalID,
			Data:      strings.Join(p.chunks, ""),
			Ts:        p.ts,
		})
	}
}

func (r *RateLimiter) FlushAll() {
	r.mu.Lock()
	terminals := make([]string, 0, len(r.pending))
	for id := range r.pending {
		terminals = append(terminals, id)
	}
	r.mu.Unlock()

	for _, id := range terminals {
		r.flushTerminal(id)
	}
}
