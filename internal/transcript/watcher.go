package transcript

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/lightfastai/switchboard/internal/protocol"
)

// Watcher runs the two-level watch over an agent's transcript tree: a
// directory watch that catches new transcript files matching the agent's
// naming convention, and an incremental tail of whichever file is current.
type Watcher struct {
	locator Locator
	logger  *slog.Logger

	// OnSession fires when a transcript file first identifies an external
	// session id, and again if the agent starts a new run.
	onSession func(externalSessionID, path string)
	// OnEvent receives structured transcript events. Records with role
	// "user" are suppressed: the orchestrator already recorded the
	// outbound message when it was typed, and emitting it again would
	// duplicate the display.
	onEvent func(Event)

	mu          sync.Mutex
	fsw         *fsnotify.Watcher
	tailer      *Tailer
	sessionID   string
	parseErrors int

	// drainMu serializes tailer reads: the fsnotify loop and an adopt
	// goroutine must not advance the tailer's offset concurrently.
	drainMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

// NewWatcher creates a watcher over the locator's directory.
func NewWatcher(locator Locator, onSession func(id, path string), onEvent func(Event), logger *slog.Logger) *Watcher {
	return &Watcher{
		locator:   locator,
		logger:    logger,
		onSession: onSession,
		onEvent:   onEvent,
		done:      make(chan struct{}),
	}
}

// Start begins watching. The transcript directory is created if the agent
// has not written it yet, so the watch never races the agent's first write.
func (w *Watcher) Start() error {
	dir := w.locator.Dir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create transcript directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.mu.Lock()
	w.fsw = fsw
	w.mu.Unlock()

	w.logger.Debug("watching transcript directory", "dir", dir)
	go w.loop(fsw)
	return nil
}

// Adopt attaches the watcher to a known transcript file, reading whatever
// it already contains. Used when resuming a previously linked session.
//
// The attach and the initial read run on their own goroutine. Callers hold
// their own locks while adopting, and the session/event callbacks call back
// into them; delivering synchronously would deadlock.
func (w *Watcher) Adopt(externalSessionID, path string) {
	go func() {
		select {
		case <-w.done:
			return
		default:
		}
		w.adopt(externalSessionID, path)
		w.drain()
	}()
}

// ParseErrors reports how many malformed lines have been dropped.
func (w *Watcher) ParseErrors() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.parseErrors
}

// Close stops the watch. Idempotent.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		fsw := w.fsw
		w.mu.Unlock()
		if fsw != nil {
			fsw.Close()
		}
	})
}

func (w *Watcher) loop(fsw *fsnotify.Watcher) {
	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleFSEvent(ev)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("transcript watch error", "error", err)
		}
	}
}

func (w *Watcher) handleFSEvent(ev fsnotify.Event) {
	name := filepath.Base(ev.Name)

	switch {
	case ev.Op.Has(fsnotify.Create):
		id, ok := w.locator.SessionID(name)
		if !ok {
			return
		}
		// A create for a matching name is a new run, whether this is the
		// first file we see or a recreate of one that was deleted.
		w.adopt(id, ev.Name)
		w.drain()

	case ev.Op.Has(fsnotify.Write):
		w.mu.Lock()
		current := w.tailer != nil && w.tailer.Path() == ev.Name
		w.mu.Unlock()
		if current {
			w.drain()
		}

	case ev.Op.Has(fsnotify.Remove):
		// Keep state; a recreate arrives as a fresh Create and is adopted
		// as a new session rather than an error.
	}
}

func (w *Watcher) adopt(id, path string) {
	w.mu.Lock()
	w.tailer = NewTailer(path)
	w.sessionID = id
	w.mu.Unlock()

	w.logger.Info("transcript session identified", "external_session_id", id, "path", path)
	if w.onSession != nil {
		w.onSession(id, path)
	}
}

// drain reads appended complete lines and emits their events. Reads are
// serialized; no watcher lock is held while callbacks run.
func (w *Watcher) drain() {
	w.drainMu.Lock()
	defer w.drainMu.Unlock()

	w.mu.Lock()
	tailer := w.tailer
	w.mu.Unlock()
	if tailer == nil {
		return
	}

	lines, err := tailer.ReadNew()
	if err != nil {
		w.logger.Warn("failed to read transcript", "error", err)
		return
	}

	for _, line := range lines {
		ev, err := ParseLine(line)
		if err != nil {
			w.mu.Lock()
			w.parseErrors++
			w.mu.Unlock()
			w.logger.Warn("dropping malformed transcript line", "error", err)
			continue
		}
		if ev == nil {
			continue
		}
		if ev.Role == protocol.RoleUser {
			continue
		}
		if w.onEvent != nil {
			w.onEvent(*ev)
		}
	}
}
