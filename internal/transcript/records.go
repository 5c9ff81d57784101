// Package transcript discovers and tails the session log an external agent
// writes for itself, converting appended JSONL records into structured
// events. The format is owned by the agent; this package only reads it.
package transcript

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lightfastai/switchboard/internal/protocol"
)

// ParseError reports a single malformed transcript line. It is always
// recovered by dropping the line.
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("transcript line unparseable: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Event is one structured record reconstructed from the transcript.
type Event struct {
	// SessionID is the external agent's own session id, when the record
	// carries one.
	SessionID string
	// CWD and Branch come from session metadata records.
	CWD    string
	Branch string
	// Role and Text are set for message records.
	Role protocol.Role
	Text string
	// Approval is set instead of Text for approval-request records.
	Approval  *protocol.ApprovalPrompt
	Timestamp time.Time
}

// IsMessage reports whether the event carries displayable message content.
func (e Event) IsMessage() bool {
	return e.Text != "" && e.Role != ""
}

// rawRecord covers the union of record shapes the supported CLIs write.
// Unknown fields are ignored; unknown record types are skipped upstream.
type rawRecord struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId"`
	CWD       string      `json:"cwd"`
	GitBranch string      `json:"gitBranch"`
	Timestamp string      `json:"timestamp"`
	Message   *rawMessage `json:"message"`

	// approval requests
	Prompt  string         `json:"prompt"`
	Options []string       `json:"options"`
	Data    map[string]any `json:"data"`
}

type rawMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ParseLine decodes one complete transcript line. A nil event with nil error
// means the record kind is not one this core consumes. A *ParseError means
// the line was not valid JSON.
func ParseLine(line []byte) (*Event, error) {
	var rec rawRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, &ParseError{Line: string(line), Err: err}
	}

	ev := &Event{
		SessionID: rec.SessionID,
		CWD:       rec.CWD,
		Branch:    rec.GitBranch,
		Timestamp: parseTimestamp(rec.Timestamp),
	}

	switch rec.Type {
	case "user", "assistant", "system":
		ev.Role = protocol.Role(rec.Type)
		if rec.Message != nil {
			if rec.Message.Role != "" {
				ev.Role = protocol.Role(rec.Message.Role)
			}
			ev.Text = flattenContent(rec.Message.Content)
		}
		return ev, nil

	case "approval_request", "permission_request":
		ev.Approval = &protocol.ApprovalPrompt{
			Prompt:  rec.Prompt,
			Options: rec.Options,
			Raw:     rec.Data,
		}
		return ev, nil

	default:
		// Summaries, tool results, and future record kinds.
		return nil, nil
	}
}

// flattenContent handles both content encodings the CLIs use: a plain
// string, or an array of typed parts of which only text parts render.
func flattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}

	var texts []string
	for _, p := range parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
