// Package router provides the natural-language routing collaborator: given
// an operator message, decide whether to answer directly or hand the
// conversation to a specific agent kind. The decision itself is external to
// the orchestrator core; this package defines the contract and ships an
// LLM-backed implementation.
package router

import (
	"context"

	"github.com/lightfastai/switchboard/internal/protocol"
)

// Decision is the structured result of routing one operator message.
type Decision struct {
	// Agent names the agent kind to hand off to; empty means the router
	// keeps the conversation and Reply carries its answer.
	Agent protocol.AgentKind `json:"agent,omitempty"`
	// Task is the instruction to type into the chosen agent. Defaults to
	// the operator's own message when empty.
	Task string `json:"task,omitempty"`
	// Integrations names auxiliary integrations that must be provisioned
	// before the handoff (e.g. "blender").
	Integrations []string `json:"integrations,omitempty"`
	// Reply is the router's conversational answer when no handoff happens.
	Reply string `json:"reply,omitempty"`
}

// Decider makes routing decisions. Implementations must be safe for
// sequential reuse; the orchestrator serializes calls.
type Decider interface {
	Decide(ctx context.Context, message string) (Decision, error)
}

// StaticDecider returns a fixed sequence of decisions and is used in tests
// and dry runs. After the sequence is exhausted, it keeps returning the
// last decision.
type StaticDecider struct {
	Decisions []Decision
	next      int
}

func (s *StaticDecider) Decide(_ context.Context, _ string) (Decision, error) {
	if len(s.Decisions) == 0 {
		return Decision{}, nil
	}
	d := s.Decisions[s.next]
	if s.next < len(s.Decisions)-1 {
		s.next++
	}
	return d, nil
}
