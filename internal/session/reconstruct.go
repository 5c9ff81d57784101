package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lightfastai/switchboard/internal/ndjson"
	"github.com/lightfastai/switchboard/internal/protocol"
)

// LedgerCorruptionError reports an unparseable ledger line. Reconstruction
// recovers by skipping the line; it never aborts startup.
type LedgerCorruptionError struct {
	Path string
	Line int
	Err  error
}

func (e *LedgerCorruptionError) Error() string {
	return fmt.Sprintf("ledger %s line %d: %v", e.Path, e.Line, e.Err)
}

func (e *LedgerCorruptionError) Unwrap() error {
	return e.Err
}

// ReadEvents reads a ledger file into its event list in append order.
// Malformed lines are logged and skipped. Events written by newer versions
// with unknown types are kept here and skipped during the fold, preserving
// forward compatibility.
func ReadEvents(path string, logger *slog.Logger) ([]protocol.SessionEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer file.Close()

	dec := ndjson.NewDecoder(file, logger)
	var events []protocol.SessionEvent

	for {
		var ev protocol.SessionEvent
		err := dec.Decode(&ev)
		if err == nil {
			events = append(events, ev)
			continue
		}
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		var lineErr *ndjson.LineError
		if errors.As(err, &lineErr) {
			corrupt := &LedgerCorruptionError{Path: path, Line: lineErr.Line, Err: lineErr.Err}
			logger.Warn("skipping corrupt ledger line", "error", corrupt)
			continue
		}
		return nil, fmt.Errorf("error reading ledger: %w", err)
	}
}

// Reconstruct folds an event list into session state. The fold is pure and
// deterministic: the same event list always yields the same state, and the
// input is never mutated. Unknown event types are skipped.
func Reconstruct(events []protocol.SessionEvent) protocol.Session {
	state := protocol.Session{
		LinkedAgents:  []protocol.LinkedAgent{},
		Tasks:         []protocol.Task{},
		SharedContext: map[string]any{},
	}

	for _, ev := range events {
		switch ev.Type {
		case protocol.EventSessionCreated:
			state.SessionID = ev.SessionID
			state.Status = protocol.SessionStatusActive
			state.CreatedAt = ev.Timestamp
			if ev.Metadata != nil {
				state.Metadata = *ev.Metadata
			}

		case protocol.EventAgentLinked:
			if ev.Agent == nil {
				continue
			}
			if findLinked(state.LinkedAgents, ev.Agent.AgentKind, ev.Agent.ExternalSessionID) >= 0 {
				continue
			}
			state.LinkedAgents = append(state.LinkedAgents, *ev.Agent)

		case protocol.EventAgentUnlinked:
			if ev.Agent == nil {
				continue
			}
			if i := findLinked(state.LinkedAgents, ev.Agent.AgentKind, ev.Agent.ExternalSessionID); i >= 0 {
				state.LinkedAgents = append(state.LinkedAgents[:i], state.LinkedAgents[i+1:]...)
			}

		case protocol.EventStatusChanged:
			if ev.Status != "" {
				state.Status = ev.Status
			}

		case protocol.EventTaskAdded:
			if ev.Task == nil {
				continue
			}
			state.Tasks = append(state.Tasks, *ev.Task)

		case protocol.EventTaskUpdated:
			if ev.TaskUpdate == nil {
				continue
			}
			applyTaskUpdate(state.Tasks, ev.TaskUpdate)

		case protocol.EventContextShared:
			if ev.ContextKey != "" {
				state.SharedContext[ev.ContextKey] = ev.ContextValue
			}

		case protocol.EventAgentSwitched:
			// Ownership history; no derived fields beyond UpdatedAt.

		default:
			continue
		}

		if ev.Timestamp.After(state.UpdatedAt) {
			state.UpdatedAt = ev.Timestamp
		}
	}

	return state
}

func findLinked(agents []protocol.LinkedAgent, kind protocol.AgentKind, externalID string) int {
	for i, a := range agents {
		if a.AgentKind == kind && a.ExternalSessionID == externalID {
			return i
		}
	}
	return -1
}

func applyTaskUpdate(tasks []protocol.Task, update *protocol.TaskUpdate) {
	for i := range tasks {
		if tasks[i].ID != update.ID {
			continue
		}
		if update.Status != nil {
			tasks[i].Status = *update.Status
		}
		if update.Content != nil {
			tasks[i].Content = *update.Content
		}
		if update.ActiveForm != nil {
			tasks[i].ActiveForm = *update.ActiveForm
		}
		return
	}
}
