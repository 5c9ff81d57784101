package spawner

import (
	"bytes"
	"log/slog"

	"github.com/lightfastai/switchboard/internal/protocol"
)

// claudeReadyMarkers are fragments of the Claude Code startup screen. Any
// one of them appearing in the recent-output window flips readiness early;
// otherwise the grace delay does.
var claudeReadyMarkers = [][]byte{
	[]byte("? for shortcuts"),
	[]byte("Welcome to Claude"),
}

// NewClaude returns a Spawner for the Claude Code CLI. Claude probes the
// terminal for its cursor position on startup and stalls without an answer,
// so the cursor handshake is enabled for this kind. Its permission dialog
// selects options by number: "1" confirms, Escape dismisses.
func NewClaude(cfg Config, logger *slog.Logger) Spawner {
	return newPTYProcess(protocol.AgentClaude, cfg, hooks{
		readyFn: func(window []byte) bool {
			for _, m := range claudeReadyMarkers {
				if bytes.Contains(window, m) {
					return true
				}
			}
			return false
		},
		answerCursorProbe: true,
		approveKeys: func(approved bool) []byte {
			if approved {
				return []byte("1")
			}
			return []byte{0x1b}
		},
	}, logger)
}
