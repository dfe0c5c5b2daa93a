package pty

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	creackpty "github.com/creack/pty"
)

// Session wraps an interactive shell (or other command) running inside
// a PTY. Output and title changes are pushed on the events channel as
// they arrive; the channel closes after the child exits.
type Session struct {
	id        string
	createdAt time.Time

	cmd  *exec.Cmd
	ptmx *os.File

	events chan Event

	mu        sync.Mutex
	cols      uint16
	rows      uint16
	closed    bool
	closeOnce sync.Once
}

func newSession(id string, cols, rows uint16, argv []string, workDir string, env []string) (*Session, error) {
	if cols == 0 {
		cols = 120
	}
	if rows == 0 {
		rows = 30
	}
	if len(argv) == 0 {
		shell := os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/sh"
		}
		argv = []string{shell}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = workDir
	if len(env) > 0 {
		cmd.Env = env
	}

	ptmx, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{
		Cols: cols,
		Rows: rows,
	})
	if err != nil {
		return nil, fmt.Errorf("pty: start %q: %w", argv[0], err)
	}

	s := &Session{
		id:        id,
		createdAt: time.Now(),
		cmd:       cmd,
		ptmx:      ptmx,
		events:    make(chan Event, 1024),
		cols:      cols,
		rows:      rows,
	}

	go s.readPump()
	go s.waitExit()

	return s, nil
}

// readPump reads data from the PTY fd and sends EventOutput (and, when
// the shell sets a window title, EventTitle) events. It runs until the
// PTY is closed or any read error occurs.
func (s *Session) readPump() {
	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			data := string(buf[:n])
			s.events <- Event{
				Type: EventOutput,
				ID:   s.id,
				Data: data,
			}
			if title, ok := lastTitle(data); ok {
				s.events <- Event{
					Type: EventTitle,
					ID:   s.id,
					Data: title,
				}
			}
		}
		if err != nil {
			break
		}
	}
}

// waitExit waits for the child process to exit, then sends an
// EventClosed event and closes the events channel.
func (s *Session) waitExit() {
	_ = s.cmd.Wait()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.events <- Event{
		Type: EventClosed,
		ID:   s.id,
	}
	close(s.events)
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Events returns the read-only channel of session events.
func (s *Session) Events() <-chan Event { return s.events }

// Write sends data to the PTY (and therefore to the child's stdin).
func (s *Session) Write(data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, fmt.Errorf("%w: %q", ErrClosed, s.id)
	}
	return s.ptmx.Write(data)
}

// Resize changes the PTY window size.
func (s *Session) Resize(cols, rows uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("%w: %q", ErrClosed, s.id)
	}

	if err := creackpty.Setsize(s.ptmx, &creackpty.Winsize{
		Cols: cols,
		Rows: rows,
	}); err != nil {
		return err
	}

	s.cols = cols
	s.rows = rows
	return nil
}

// Close terminates the child process (SIGTERM) and closes the PTY fd.
// It is safe to call Close multiple times.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if s.cmd.Process != nil {
			_ = s.cmd.Process.Signal(syscall.SIGTERM)
		}

		err = s.ptmx.Close()
	})
	if err != nil && errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

func (s *Session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:        s.id,
		Active:    !s.closed,
		Cols:      s.cols,
		Rows:      s.rows,
		CreatedAt: s.createdAt,
	}
}

// lastTitle extracts the most recent OSC 0/2 window title in chunk, if
// any. Sequences split across read chunks are dropped rather than
// buffered; the next title set will correct the display.
func lastTitle(chunk string) (string, bool) {
	title := ""
	found := false
	for {
		idx := strings.Index(chunk, "\x1b]")
		if idx < 0 {
			break
		}
		rest := chunk[idx+2:]
		if !strings.HasPrefix(rest, "0;") && !strings.HasPrefix(rest, "2;") {
			chunk = rest
			continue
		}
		rest = rest[2:]
		end := strings.IndexAny(rest, "\x07\x1b")
		if end < 0 {
			break
		}
		title = rest[:end]
		found = true
		chunk = rest[end:]
	}
	return title, found
}
