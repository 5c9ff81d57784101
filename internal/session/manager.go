// Package session implements the durable session layer: an append-only
// NDJSON event ledger plus a pure fold that reconstructs session state from
// it. Creating a session and resuming one are the same code path.
package session

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lightfastai/switchboard/internal/fsutil"
	"github.com/lightfastai/switchboard/internal/ndjson"
	"github.com/lightfastai/switchboard/internal/protocol"
)

const (
	ledgerFileName   = "ledger.ndjson"
	snapshotFileName = "session.json"
)

// Manager owns one session's ledger file and its derived state. All
// mutators construct a single event and append it; state is always the
// result of replaying the full ledger.
type Manager struct {
	root   string
	logger *slog.Logger

	mu        sync.Mutex
	sessionID string
	file      *os.File
	encoder   *ndjson.Encoder
	state     protocol.Session
}

// NewManager creates a session manager rooted at the given sessions
// directory. Initialize must be called before any mutator.
func NewManager(root string, logger *slog.Logger) *Manager {
	return &Manager{
		root:   root,
		logger: logger,
	}
}

// LedgerPath returns the ledger file path for a session id under root.
func LedgerPath(root, sessionID string) string {
	return filepath.Join(root, sessionID, ledgerFileName)
}

// SnapshotPath returns the advisory snapshot path for a session id.
func SnapshotPath(root, sessionID string) string {
	return filepath.Join(root, sessionID, snapshotFileName)
}

// Initialize opens (or creates) the ledger for sessionID and reconstructs
// state from it. An empty sessionID creates a fresh session. When no ledger
// exists yet, a session_created event is synthesized and appended, so a new
// session's ledger is never empty.
func (m *Manager) Initialize(sessionID string) (protocol.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file != nil {
		return protocol.Session{}, fmt.Errorf("session manager already initialized")
	}

	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	path := LedgerPath(m.root, sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return protocol.Session{}, fmt.Errorf("failed to create session directory: %w", err)
	}

	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return protocol.Session{}, fmt.Errorf("failed to open ledger: %w", err)
	}

	m.sessionID = sessionID
	m.file = file
	m.encoder = ndjson.NewEncoder(file, m.logger)

	if fresh {
		created := protocol.NewEvent(protocol.EventSessionCreated)
		created.SessionID = sessionID
		created.Metadata = captureMetadata()
		if err := m.appendLocked(created); err != nil {
			return protocol.Session{}, err
		}
		m.logger.Info("session created", "session_id", sessionID)
	} else {
		if err := m.reloadLocked(); err != nil {
			return protocol.Session{}, err
		}
		m.logger.Info("session resumed",
			"session_id", sessionID,
			"status", m.state.Status,
			"linked_agents", len(m.state.LinkedAgents))
	}

	return m.state, nil
}

// SessionID returns the id of the initialized session.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Session returns a copy of the current derived state.
func (m *Manager) Session() protocol.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copySession(m.state)
}

// Tasks returns a copy of the session's tasks.
func (m *Manager) Tasks() []protocol.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	tasks := make([]protocol.Task, len(m.state.Tasks))
	copy(tasks, m.state.Tasks)
	return tasks
}

// AppendEvent serializes the event as one ledger line, then re-reads the
// full ledger and folds it into fresh state. Full replay on every append is
// deliberate: ledgers are bounded by conversation length, and replay keeps
// the append path identical to the recovery path.
func (m *Manager) AppendEvent(event protocol.SessionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(event)
}

func (m *Manager) appendLocked(event protocol.SessionEvent) error {
	if m.file == nil {
		return fmt.Errorf("session manager not initialized")
	}

	if err := m.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to append %s event: %w", event.Type, err)
	}

	if err := m.reloadLocked(); err != nil {
		return err
	}

	// Advisory snapshot for listing tools; the ledger stays authoritative.
	snapPath := SnapshotPath(m.root, m.sessionID)
	if err := fsutil.AtomicWriteJSON(snapPath, m.state); err != nil {
		m.logger.Warn("failed to write session snapshot", "error", err)
	}

	return nil
}

func (m *Manager) reloadLocked() error {
	events, err := ReadEvents(LedgerPath(m.root, m.sessionID), m.logger)
	if err != nil {
		return err
	}
	m.state = Reconstruct(events)
	return nil
}

// LinkAgent records an external agent session binding.
func (m *Manager) LinkAgent(agent protocol.LinkedAgent) error {
	ev := protocol.NewEvent(protocol.EventAgentLinked)
	if agent.LinkedAt.IsZero() {
		agent.LinkedAt = ev.Timestamp
	}
	ev.Agent = &agent
	return m.AppendEvent(ev)
}

// UnlinkAgent records the removal of an external agent session binding.
func (m *Manager) UnlinkAgent(kind protocol.AgentKind, externalSessionID string) error {
	ev := protocol.NewEvent(protocol.EventAgentUnlinked)
	ev.Agent = &protocol.LinkedAgent{
		AgentKind:         kind,
		ExternalSessionID: externalSessionID,
		LinkedAt:          ev.Timestamp,
	}
	return m.AppendEvent(ev)
}

// UpdateStatus records a session status change.
func (m *Manager) UpdateStatus(status protocol.SessionStatus) error {
	ev := protocol.NewEvent(protocol.EventStatusChanged)
	ev.Status = status
	return m.AppendEvent(ev)
}

// AddTask records a new task and returns it with its generated id.
func (m *Manager) AddTask(content, activeForm string) (protocol.Task, error) {
	ev := protocol.NewEvent(protocol.EventTaskAdded)
	task := protocol.Task{
		ID:         uuid.New().String(),
		Content:    content,
		ActiveForm: activeForm,
		Status:     protocol.TaskStatusPending,
		Timestamp:  ev.Timestamp,
	}
	ev.Task = &task
	if err := m.AppendEvent(ev); err != nil {
		return protocol.Task{}, err
	}
	return task, nil
}

// UpdateTask records a task mutation referencing an existing task id.
func (m *Manager) UpdateTask(update protocol.TaskUpdate) error {
	ev := protocol.NewEvent(protocol.EventTaskUpdated)
	ev.TaskUpdate = &update
	return m.AppendEvent(ev)
}

// ShareContext records a shared-context key/value pair.
func (m *Manager) ShareContext(key string, value any) error {
	ev := protocol.NewEvent(protocol.EventContextShared)
	ev.ContextKey = key
	ev.ContextValue = value
	return m.AppendEvent(ev)
}

// RecordAgentSwitch records an ownership transition between agents.
func (m *Manager) RecordAgentSwitch(from, to protocol.AgentKind) error {
	ev := protocol.NewEvent(protocol.EventAgentSwitched)
	ev.FromAgent = from
	ev.ToAgent = to
	return m.AppendEvent(ev)
}

// Close closes the ledger file. The manager cannot be reused afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	return err
}

// captureMetadata records the environment a session is created in. Branch
// detection is best effort; sessions outside a git checkout have none.
func captureMetadata() *protocol.SessionMetadata {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = ""
	}
	return &protocol.SessionMetadata{
		CWD:    cwd,
		Branch: currentBranch(cwd),
	}
}

func currentBranch(dir string) string {
	for dir != "" {
		head, err := os.ReadFile(filepath.Join(dir, ".git", "HEAD"))
		if err == nil {
			ref := strings.TrimSpace(string(head))
			if name, ok := strings.CutPrefix(ref, "ref: refs/heads/"); ok {
				return name
			}
			return ""
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

func copySession(s protocol.Session) protocol.Session {
	out := s
	out.LinkedAgents = append([]protocol.LinkedAgent(nil), s.LinkedAgents...)
	out.Tasks = append([]protocol.Task(nil), s.Tasks...)
	out.SharedContext = make(map[string]any, len(s.SharedContext))
	for k, v := range s.SharedContext {
		out.SharedContext[k] = v
	}
	return out
}
