package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lightfastai/switchboard/internal/protocol"
)

func TestFormatMessage(t *testing.T) {
	assert.Equal(t, "[you] hello",
		formatMessage(protocol.ChatMessage{Role: protocol.RoleUser, Content: "hello"}))

	assert.Equal(t, "[system] claude handed back; router active",
		formatMessage(protocol.ChatMessage{Role: protocol.RoleSystem, Content: "claude handed back; router active"}))

	assert.Equal(t, "[claude] done",
		formatMessage(protocol.ChatMessage{
			Role:    protocol.RoleAssistant,
			Agent:   protocol.AgentClaude,
			Content: "done",
		}))

	// A message without an agent attribution still renders.
	assert.Equal(t, "[agent] done",
		formatMessage(protocol.ChatMessage{Role: protocol.RoleAssistant, Content: "done"}))
}

func TestFormatPrompt(t *testing.T) {
	assert.Equal(t, "router> ", formatPrompt(protocol.AgentRouter))
	assert.Equal(t, "codex> ", formatPrompt(protocol.AgentCodex))
}
