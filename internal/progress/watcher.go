package progress

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultPollInterval = 500 * time.Millisecond

// Event is one delivered progress entry. Offset is the byte offset just
// past the entry's line; it doubles as the run's resume token.
type Event struct {
	SessionID string
	Entry     Entry
	Offset    int64
}

// Watcher tails progress logs for active runs. Each watched file gets
// its own goroutine that reacts to filesystem change notifications with
// an interval-polling fallback, so delivery works on filesystems where
// notifications are unreliable.
type Watcher struct {
	poll time.Duration
}

func NewWatcher(poll time.Duration) *Watcher {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Watcher{poll: poll}
}

// Watch tails path until ctx is canceled, delivering one Event per
// complete JSON line in file order. The returned channel closes after
// the remaining buffered bytes have been drained; callers must keep
// receiving until it closes. The file does not have to exist yet.
func (w *Watcher) Watch(ctx context.Context, sessionID, path string) (<-chan Event, error) {
	return w.WatchFrom(ctx, sessionID, path, 0)
}

// WatchFrom starts the tail at a byte offset, typically a resume token
// recovered from a prior watch's Event.Offset. Lines before the offset
// are never re-delivered.
func (w *Watcher) WatchFrom(ctx context.Context, sessionID, path string, offset int64) (<-chan Event, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("progress: create watch directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("progress: create fsnotify watcher: %w", err)
	}
	// Watch the directory, not the file: the log usually does not exist
	// until the agent's first hook fires.
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("progress: watch %q: %w", dir, err)
	}

	events := make(chan Event, 64)
	t := &tailer{
		sessionID: sessionID,
		path:      path,
		out:       events,
		offset:    offset,
	}

	go func() {
		defer close(events)
		defer fsw.Close()

		ticker := time.NewTicker(w.poll)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				// Final drain: anything the writer flushed before the
				// cancel still gets delivered.
				t.readNew()
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Name == path && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					t.readNew()
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				slog.Warn("progress watcher fsnotify error", "session_id", sessionID, "error", err)
			case <-ticker.C:
				t.readNew()
			}
		}
	}()

	return events, nil
}

// tailer holds the per-file cursor. offset only ever advances past fully
// terminated lines, so a partial trailing line is re-read (and never
// duplicated) once the writer completes it.
type tailer struct {
	sessionID string
	path      string
	out       chan<- Event
	offset    int64
}

func (t *tailer) readNew() {
	file, err := os.Open(t.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("progress watcher open failed", "session_id", t.sessionID, "error", err)
		}
		return
	}
	defer file.Close()

	if _, err := file.Seek(t.offset, io.SeekStart); err != nil {
		slog.Warn("progress watcher seek failed", "session_id", t.sessionID, "error", err)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		slog.Warn("progress watcher read failed", "session_id", t.sessionID, "error", err)
		return
	}
	if len(data) == 0 {
		return
	}

	consumed := int64(0)
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := data[:idx]
		data = data[idx+1:]
		consumed += int64(idx + 1)

		if len(bytes.TrimSpace(line)) == 0 {
			t.offset += consumed
			consumed = 0
			continue
		}

		entry, err := ParseLine(line)
		lineOffset := t.offset + consumed
		if err != nil {
			// One corrupt line must not blind the watcher to the rest
			// of the run.
			slog.Warn("progress watcher skipping malformed line",
				"session_id", t.sessionID, "offset", lineOffset, "error", err)
			t.offset = lineOffset
			consumed = 0
			continue
		}

		t.out <- Event{SessionID: t.sessionID, Entry: entry, Offset: lineOffset}
		t.offset = lineOffset
		consumed = 0
	}
}
