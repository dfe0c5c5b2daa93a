package progress

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store appends entries to a run's progress log. Agent runs write their
// own log through the generated hook callbacks; the daemon uses a Store
// only to add synthesized entries (for example a stop record when the
// process exits without one) so the file stays a complete audit trail.
type Store struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// OpenStore opens (creating if needed) the log at path for appending.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("progress: create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("progress: open log %q: %w", path, err)
	}
	return &Store{path: path, file: file}, nil
}

// Append writes one entry as a newline-terminated JSON object.
func (s *Store) Append(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("progress: marshal entry: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("progress: store %q is closed", s.path)
	}
	if _, err := s.file.Write(data); err != nil {
		return fmt.Errorf("progress: append to %q: %w", s.path, err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// ReadAll parses every complete line of a progress log. Malformed lines
// are skipped, matching the watcher's delivery behavior. An unterminated
// trailing line is ignored: the writer may still be mid-append.
func ReadAll(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("progress: read log %q: %w", path, err)
	}

	idx := bytes.LastIndexByte(data, '\n')
	if idx < 0 {
		return nil, nil
	}

	var entries []Entry
	for _, line := range bytes.Split(data[:idx], []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		e, err := ParseLine(line)
		if err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
