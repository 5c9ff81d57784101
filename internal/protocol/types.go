package protocol

import (
	"time"
)

// AgentKind identifies which participant currently owns the conversation.
type AgentKind string

const (
	// AgentRouter is the natural-language routing layer; it is the initial
	// owner and the owner between agent handoffs.
	AgentRouter AgentKind = "router"
	// AgentClaude is the Claude Code interactive CLI.
	AgentClaude AgentKind = "claude"
	// AgentCodex is the Codex interactive CLI.
	AgentCodex AgentKind = "codex"
)

// Spawnable reports whether k names an external agent process (not the router).
func (k AgentKind) Spawnable() bool {
	return k == AgentClaude || k == AgentCodex
}

// Role tags a conversation message with its origin.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ChatMessage is one visible entry in the orchestrated conversation.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Agent     AgentKind `json:"agent,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ApprovalPrompt is a suspend-and-confirm request raised by an active agent.
// While one is pending, ordinary text forwarding is suspended until the
// operator approves or rejects.
type ApprovalPrompt struct {
	Prompt  string         `json:"prompt"`
	Options []string       `json:"options,omitempty"`
	Raw     map[string]any `json:"raw,omitempty"`
}

// LinkedAgent records an external agent session bound to a switchboard
// session. Uniqueness key is (AgentKind, ExternalSessionID).
type LinkedAgent struct {
	AgentKind         AgentKind `json:"agent_kind"`
	ExternalSessionID string    `json:"external_session_id"`
	FilePath          string    `json:"file_path,omitempty"`
	LinkedAt          time.Time `json:"linked_at"`
}

// TaskStatus represents a task's lifecycle position.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
)

// Task is one unit of tracked work inside a session. Updates are recorded as
// new events referencing ID, never as in-place edits.
type Task struct {
	ID         string     `json:"id"`
	Content    string     `json:"content"`
	ActiveForm string     `json:"active_form,omitempty"`
	Status     TaskStatus `json:"status"`
	Timestamp  time.Time  `json:"timestamp"`
}

// TaskUpdate carries the mutable fields of a task_updated event. Nil fields
// leave the corresponding task field unchanged.
type TaskUpdate struct {
	ID         string      `json:"id"`
	Status     *TaskStatus `json:"status,omitempty"`
	Content    *string     `json:"content,omitempty"`
	ActiveForm *string     `json:"active_form,omitempty"`
}

// SessionStatus represents the overall state of a session.
type SessionStatus string

const (
	SessionStatusActive        SessionStatus = "active"
	SessionStatusPaused        SessionStatus = "paused"
	SessionStatusAwaitingInput SessionStatus = "awaiting_input"
	SessionStatusCompleted     SessionStatus = "completed"
)

// SessionMetadata captures the environment a session was created in.
type SessionMetadata struct {
	CWD    string `json:"cwd"`
	Branch string `json:"branch,omitempty"`
}

// Session is the state derived by replaying a session's event ledger. It is
// never persisted as a source of truth; the ledger is.
type Session struct {
	SessionID     string          `json:"session_id"`
	Status        SessionStatus   `json:"status"`
	LinkedAgents  []LinkedAgent   `json:"linked_agents"`
	Tasks         []Task          `json:"tasks"`
	SharedContext map[string]any  `json:"shared_context"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Metadata      SessionMetadata `json:"metadata"`
}
