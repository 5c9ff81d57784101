// Package tui renders a read-only live dashboard over a session ledger. It
// observes the same NDJSON file the orchestrator appends to and never
// writes, so it can run alongside an active session in another terminal.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lightfastai/switchboard/internal/protocol"
	"github.com/lightfastai/switchboard/internal/session"
)

const tickerSize = 10

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			Width(100).
			Align(lipgloss.Center)

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

	statusActiveStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusWaitingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusPausedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	statusCompleteStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))

	taskPendingStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	taskInProgressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	taskCompletedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))

	tickerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

// Model is the bubbletea model for the dashboard. Session state is refolded
// from the accumulated event list on each new event, keeping the view in
// lockstep with what ledger reconstruction would produce.
type Model struct {
	tailer *Tailer

	events []protocol.SessionEvent
	recent []protocol.SessionEvent
	state  protocol.Session

	width  int
	height int
	ready  bool
}

func NewModel(tailer *Tailer) Model {
	return Model{
		tailer: tailer,
		recent: make([]protocol.SessionEvent, 0, tickerSize),
	}
}

func (m Model) Init() tea.Cmd {
	return pollTick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.tailer.Close()
			return m, tea.Quit
		}

	case TickMsg:
		cmds = append(cmds, m.tailer.ReadAvailable()...)
		cmds = append(cmds, pollTick())

	case EventMsg:
		m.events = append(m.events, msg.Event)
		m.state = session.Reconstruct(m.events)

		m.recent = append(m.recent, msg.Event)
		if len(m.recent) > tickerSize {
			m.recent = m.recent[1:]
		}
	}

	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if !m.ready {
		return "loading ledger...\n"
	}

	title := m.state.SessionID
	if title == "" {
		title = "waiting for session_created..."
	}
	header := headerStyle.Render(fmt.Sprintf("\n%s\n%s • agents: %d • tasks: %d\n",
		title, renderStatus(m.state.Status), len(m.state.LinkedAgents), len(m.state.Tasks)))

	topHeight := m.height - 14
	if topHeight < 8 {
		topHeight = 8
	}
	leftWidth := m.width / 3
	rightWidth := m.width - leftWidth - 4

	leftBox := paneStyle.Width(leftWidth).Height(topHeight).Render("AGENTS\n\n" + m.renderAgents())
	rightBox := paneStyle.Width(rightWidth).Height(topHeight).Render("TASKS\n\n" + m.renderTasks())
	topSection := lipgloss.JoinHorizontal(lipgloss.Top, leftBox, rightBox)

	bottomBox := paneStyle.Width(m.width - 2).Height(6).Render("EVENTS\n\n" + m.renderTicker())

	return lipgloss.JoinVertical(lipgloss.Left, header, topSection, bottomBox)
}

func renderStatus(status protocol.SessionStatus) string {
	switch status {
	case protocol.SessionStatusActive:
		return statusActiveStyle.Render("ACTIVE")
	case protocol.SessionStatusAwaitingInput:
		return statusWaitingStyle.Render("AWAITING INPUT")
	case protocol.SessionStatusPaused:
		return statusPausedStyle.Render("PAUSED")
	case protocol.SessionStatusCompleted:
		return statusCompleteStyle.Render("COMPLETED")
	default:
		return string(status)
	}
}

func (m Model) renderAgents() string {
	if len(m.state.LinkedAgents) == 0 {
		return "No agents linked."
	}
	var out strings.Builder
	for _, a := range m.state.LinkedAgents {
		fmt.Fprintf(&out, "%s\n    %s\n    linked %s\n\n",
			a.AgentKind, a.ExternalSessionID, a.LinkedAt.Local().Format("15:04:05"))
	}
	return out.String()
}

func (m Model) renderTasks() string {
	if len(m.state.Tasks) == 0 {
		return "No tasks recorded."
	}
	var out strings.Builder
	for _, t := range m.state.Tasks {
		prefix := "[ ]"
		style := taskPendingStyle
		switch t.Status {
		case protocol.TaskStatusInProgress:
			prefix = "[~]"
			style = taskInProgressStyle
		case protocol.TaskStatusCompleted:
			prefix = "[x]"
			style = taskCompletedStyle
		}
		label := t.Content
		if t.Status == protocol.TaskStatusInProgress && t.ActiveForm != "" {
			label = t.ActiveForm
		}
		out.WriteString(style.Render(fmt.Sprintf("%s %s", prefix, label)))
		out.WriteString("\n")
	}
	return out.String()
}

func (m Model) renderTicker() string {
	var out strings.Builder
	for _, e := range m.recent {
		out.WriteString(tickerStyle.Render(fmt.Sprintf("[%s] %-16s %s",
			e.Timestamp.Local().Format("15:04:05.000"), e.Type, tickerDetail(e))))
		out.WriteString("\n")
	}
	return out.String()
}

// tickerDetail picks the one field worth showing per event type.
func tickerDetail(e protocol.SessionEvent) string {
	switch e.Type {
	case protocol.EventAgentSwitched:
		return fmt.Sprintf("%s -> %s", e.FromAgent, e.ToAgent)
	case protocol.EventAgentLinked, protocol.EventAgentUnlinked:
		if e.Agent != nil {
			return string(e.Agent.AgentKind)
		}
	case protocol.EventStatusChanged:
		return string(e.Status)
	case protocol.EventTaskAdded:
		if e.Task != nil {
			return e.Task.Content
		}
	case protocol.EventContextShared:
		return e.ContextKey
	}
	return ""
}
