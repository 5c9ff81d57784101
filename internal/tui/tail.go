package tui

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lightfastai/switchboard/internal/protocol"
)

// EventMsg carries one ledger event into the bubbletea loop.
type EventMsg struct {
	Event protocol.SessionEvent
}

// TickMsg schedules the next ledger poll.
type TickMsg time.Time

func pollTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Tailer follows a ledger file from the beginning, yielding complete lines
// as they are appended. The ledger is append-only, so a plain buffered
// reader suffices; there is no truncation to detect.
type Tailer struct {
	file    *os.File
	reader  *bufio.Reader
	partial bytes.Buffer
}

func NewTailer(path string) (*Tailer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Tailer{
		file:   f,
		reader: bufio.NewReader(f),
	}, nil
}

// ReadAvailable drains all complete lines currently in the file and returns
// them as commands. A fragment at EOF is buffered until the writer finishes
// the line. Unparseable lines are skipped; the live view tolerates what
// ledger reconstruction tolerates.
func (t *Tailer) ReadAvailable() []tea.Cmd {
	var cmds []tea.Cmd
	for {
		chunk, err := t.reader.ReadBytes('\n')
		t.partial.Write(chunk)

		if err != nil {
			// EOF and transient errors both resolve on a later poll.
			break
		}

		line := bytes.TrimSpace(t.partial.Bytes())
		if len(line) > 0 {
			var ev protocol.SessionEvent
			if parseErr := json.Unmarshal(line, &ev); parseErr == nil {
				cmds = append(cmds, eventCmd(ev))
			}
		}
		t.partial.Reset()
	}
	return cmds
}

func eventCmd(ev protocol.SessionEvent) tea.Cmd {
	return func() tea.Msg { return EventMsg{Event: ev} }
}

func (t *Tailer) Close() {
	if t.file != nil {
		t.file.Close()
	}
}
