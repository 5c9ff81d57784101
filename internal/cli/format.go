package cli

import (
	"fmt"

	"github.com/lightfastai/switchboard/internal/protocol"
)

// formatMessage renders one conversation entry for console display.
func formatMessage(msg protocol.ChatMessage) string {
	switch msg.Role {
	case protocol.RoleUser:
		return fmt.Sprintf("[you] %s", msg.Content)
	case protocol.RoleSystem:
		return fmt.Sprintf("[system] %s", msg.Content)
	default:
		agent := string(msg.Agent)
		if agent == "" {
			agent = "agent"
		}
		return fmt.Sprintf("[%s] %s", agent, msg.Content)
	}
}

// formatPrompt renders the input prompt for the active agent.
func formatPrompt(active protocol.AgentKind) string {
	return fmt.Sprintf("%s> ", active)
}
