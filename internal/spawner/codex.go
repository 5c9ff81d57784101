package spawner

import (
	"bytes"
	"log/slog"

	"github.com/lightfastai/switchboard/internal/protocol"
)

// codexReadyMarkers are fragments of the Codex CLI startup screen.
var codexReadyMarkers = [][]byte{
	[]byte("Codex"),
	[]byte("Ctrl+C to quit"),
}

// NewCodex returns a Spawner for the Codex CLI. Codex draws its own screen
// without probing the terminal, so no cursor handshake is needed. Its
// approval dialog is a y/n prompt submitted with return.
func NewCodex(cfg Config, logger *slog.Logger) Spawner {
	return newPTYProcess(protocol.AgentCodex, cfg, hooks{
		readyFn: func(window []byte) bool {
			for _, m := range codexReadyMarkers {
				if bytes.Contains(window, m) {
					return true
				}
			}
			return false
		},
		approveKeys: func(approved bool) []byte {
			if approved {
				return []byte("y\r")
			}
			return []byte("n\r")
		},
	}, logger)
}
