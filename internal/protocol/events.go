package protocol

import (
	"time"
)

// EventType is the discriminator for session ledger events.
type EventType string

const (
	EventSessionCreated EventType = "session_created"
	EventAgentLinked    EventType = "agent_linked"
	EventAgentUnlinked  EventType = "agent_unlinked"
	EventStatusChanged  EventType = "status_changed"
	EventTaskAdded      EventType = "task_added"
	EventTaskUpdated    EventType = "task_updated"
	EventContextShared  EventType = "context_shared"
	EventAgentSwitched  EventType = "agent_switched"
)

// SessionEvent is one immutable entry in a session's append-only ledger.
// Exactly the payload fields relevant to Type are populated; the rest stay
// zero and are omitted from the serialized line.
type SessionEvent struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// session_created
	SessionID string           `json:"session_id,omitempty"`
	Metadata  *SessionMetadata `json:"metadata,omitempty"`

	// agent_linked / agent_unlinked
	Agent *LinkedAgent `json:"agent,omitempty"`

	// status_changed
	Status SessionStatus `json:"status,omitempty"`

	// task_added
	Task *Task `json:"task,omitempty"`

	// task_updated
	TaskUpdate *TaskUpdate `json:"task_update,omitempty"`

	// context_shared
	ContextKey   string `json:"context_key,omitempty"`
	ContextValue any    `json:"context_value,omitempty"`

	// agent_switched
	FromAgent AgentKind `json:"from_agent,omitempty"`
	ToAgent   AgentKind `json:"to_agent,omitempty"`
}

// NewEvent returns a SessionEvent of the given type stamped with the current
// UTC time. Callers fill in the payload fields for the type.
func NewEvent(t EventType) SessionEvent {
	return SessionEvent{Type: t, Timestamp: time.Now().UTC()}
}
