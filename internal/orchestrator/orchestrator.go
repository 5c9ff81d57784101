// Package orchestrator implements the agent-handoff state machine: exactly
// one of {router, claude, codex} owns the conversation at any instant, and
// every transition is recorded in the session ledger. This is the only
// interface the surrounding CLI/UI may drive.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lightfastai/switchboard/internal/protocol"
	"github.com/lightfastai/switchboard/internal/router"
	"github.com/lightfastai/switchboard/internal/session"
	"github.com/lightfastai/switchboard/internal/spawner"
	"github.com/lightfastai/switchboard/internal/syncer"
	"github.com/lightfastai/switchboard/internal/transcript"
)

// handbackSentinels end an agent's ownership when typed as a whole message,
// case-insensitively.
var handbackSentinels = map[string]bool{
	"back":     true,
	"return":   true,
	"handback": true,
}

// State is the orchestrator's externally visible state. It is derived, not
// persisted; the ledger carries the durable record.
type State struct {
	ActiveAgent     protocol.AgentKind
	Messages        []protocol.ChatMessage
	PendingApproval *protocol.ApprovalPrompt
}

// Listener receives a state snapshot after every visible change. Listeners
// run on the mutating goroutine and must not call back into the
// orchestrator.
type Listener func(State)

// SpawnerFactory builds the spawner for an agent kind. onSystem receives
// process-level messages (exit reports) asynchronously.
type SpawnerFactory func(kind protocol.AgentKind, onSystem func(string)) (spawner.Spawner, error)

// Watcher is the transcript dependency the orchestrator manages per agent.
// Adopt must deliver its callbacks asynchronously: the orchestrator adopts
// while holding its own lock, and both callbacks re-enter the orchestrator.
type Watcher interface {
	Start() error
	Adopt(externalSessionID, path string)
	Close()
}

// WatcherFactory builds the transcript watcher for an agent kind. A nil
// watcher (with nil error) disables transcript tailing for that kind.
type WatcherFactory func(kind protocol.AgentKind, onSession func(id, path string), onEvent func(transcript.Event)) (Watcher, error)

// Provisioner prepares the auxiliary integrations a routing decision names.
type Provisioner interface {
	Provision(ctx context.Context, names []string) error
}

// Config wires an orchestrator's collaborators.
type Config struct {
	Sessions     *session.Manager
	Decider      router.Decider
	Integrations Provisioner
	Syncer       *syncer.Service
	NewSpawner   SpawnerFactory
	NewWatcher   WatcherFactory
	Logger       *slog.Logger
}

// ApprovalProtocolError reports an approval response arriving with no
// pending approval. It is logged and ignored, never fatal.
type ApprovalProtocolError struct {
	Kind protocol.AgentKind
}

func (e *ApprovalProtocolError) Error() string {
	return fmt.Sprintf("approval response with no pending approval (active: %s)", e.Kind)
}

// Orchestrator owns at most one live spawner/watcher pair and the visible
// conversation. Message handling is strictly serialized: one call runs to
// completion, including any spawn or forward, before the next is accepted,
// because spawning and teardown must never race with forwarding.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	active    protocol.AgentKind
	spawners  map[protocol.AgentKind]spawner.Spawner
	watchers  map[protocol.AgentKind]Watcher
	messages  []protocol.ChatMessage
	pending   *protocol.ApprovalPrompt
	listeners []Listener
	cleaned   bool
}

// New creates an orchestrator in the router state.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		logger:   cfg.Logger,
		active:   protocol.AgentRouter,
		spawners: make(map[protocol.AgentKind]spawner.Spawner),
		watchers: make(map[protocol.AgentKind]Watcher),
	}
}

// Subscribe registers a listener for state snapshots.
func (o *Orchestrator) Subscribe(l Listener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, l)
}

// GetState returns a copy of the current state.
func (o *Orchestrator) GetState() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// HandleUserMessage applies one operator message: records it, then either
// routes it (router active), treats it as a handback sentinel, or forwards
// it verbatim to the active agent.
func (o *Orchestrator) HandleUserMessage(ctx context.Context, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cleaned {
		return fmt.Errorf("orchestrator is cleaned up")
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	o.appendMessageLocked(protocol.RoleUser, o.active, text)

	if o.pending != nil {
		o.systemLocked("an approval is pending; approve or reject it before sending messages")
		return nil
	}

	if handbackSentinels[strings.ToLower(text)] {
		o.handbackLocked()
		return nil
	}

	if o.active == protocol.AgentRouter {
		return o.routeLocked(ctx, text)
	}
	return o.forwardLocked(ctx, text)
}

// HandbackToRouter returns ownership to the router, tearing down the active
// spawner and watcher. A no-op (with a visible notice) when the router is
// already active.
func (o *Orchestrator) HandbackToRouter() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handbackLocked()
	return nil
}

// SwitchToAgent switches ownership directly to an already-running agent.
// This is the operator/debug path around the router; it is rejected when
// the target's process is not running.
func (o *Orchestrator) SwitchToAgent(kind protocol.AgentKind) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if kind == protocol.AgentRouter {
		o.handbackLocked()
		return nil
	}
	if !kind.Spawnable() {
		return fmt.Errorf("unknown agent kind %q", kind)
	}
	if kind == o.active {
		o.systemLocked(fmt.Sprintf("%s is already active", kind))
		return nil
	}

	sp, ok := o.spawners[kind]
	if !ok || !sp.IsRunning() {
		return fmt.Errorf("%s is not running; hand back to the router first", kind)
	}

	from := o.active
	o.active = kind
	if err := o.cfg.Sessions.RecordAgentSwitch(from, kind); err != nil {
		o.logger.Warn("failed to record agent switch", "error", err)
	}
	o.systemLocked(fmt.Sprintf("switched to %s", kind))
	return nil
}

// HandleApprovalResponse resolves the pending approval with a dedicated
// control signal to the active agent. Responding with nothing pending is
// logged and ignored.
func (o *Orchestrator) HandleApprovalResponse(approved bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.pending == nil {
		o.logger.Warn("ignoring approval response", "error", &ApprovalProtocolError{Kind: o.active})
		return nil
	}

	sp := o.spawners[o.active]
	if sp != nil {
		if err := sp.Approve(approved); err != nil {
			o.systemLocked(fmt.Sprintf("failed to deliver approval response: %v", err))
			return nil
		}
	}

	o.pending = nil
	if err := o.cfg.Sessions.UpdateStatus(protocol.SessionStatusActive); err != nil {
		o.logger.Warn("failed to record status change", "error", err)
	}
	o.syncStatusLocked(protocol.SessionStatusActive)

	if approved {
		o.systemLocked("approved")
	} else {
		o.systemLocked("rejected")
	}
	return nil
}

// Cleanup tears down all spawners and watchers. Idempotent; the only path
// out of the state machine.
func (o *Orchestrator) Cleanup() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cleaned {
		return
	}
	o.cleaned = true

	for kind, sp := range o.spawners {
		sp.Cleanup()
		delete(o.spawners, kind)
	}
	for kind, w := range o.watchers {
		w.Close()
		delete(o.watchers, kind)
	}
	o.active = protocol.AgentRouter
	o.pending = nil
	o.logger.Info("orchestrator cleaned up")
}

// routeLocked hands a message to the routing collaborator and applies its
// decision.
func (o *Orchestrator) routeLocked(ctx context.Context, text string) error {
	decision, err := o.cfg.Decider.Decide(ctx, text)
	if err != nil {
		o.systemLocked(fmt.Sprintf("routing failed: %v", err))
		return nil
	}

	if decision.Agent == "" {
		reply := decision.Reply
		if reply == "" {
			reply = "No agent selected; staying with the router."
		}
		o.appendMessageLocked(protocol.RoleAssistant, protocol.AgentRouter, reply)
		return nil
	}

	return o.startAgentLocked(ctx, decision)
}

// startAgentLocked performs the router-to-agent transition. Any failure
// leaves ownership with the router and reports through a system message.
func (o *Orchestrator) startAgentLocked(ctx context.Context, decision router.Decision) error {
	kind := decision.Agent

	if o.active != protocol.AgentRouter {
		o.systemLocked(fmt.Sprintf("%s is active; hand back before starting %s", o.active, kind))
		return nil
	}

	// A spawner left running by a manual switch is reused, never doubled.
	if sp, ok := o.spawners[kind]; ok && sp.IsRunning() {
		from := o.active
		o.active = kind
		if err := o.cfg.Sessions.RecordAgentSwitch(from, kind); err != nil {
			o.logger.Warn("failed to record agent switch", "error", err)
		}
		o.systemLocked(fmt.Sprintf("handing off to %s", kind))
		o.deliverAsync(sp, kind, decision.Task)
		return nil
	}

	if len(decision.Integrations) > 0 && o.cfg.Integrations != nil {
		if err := o.cfg.Integrations.Provision(ctx, decision.Integrations); err != nil {
			o.systemLocked(fmt.Sprintf("cannot start %s: %v", kind, err))
			return nil
		}
	}

	sp, err := o.cfg.NewSpawner(kind, o.systemFrom(kind))
	if err != nil {
		o.systemLocked(fmt.Sprintf("cannot start %s: %v", kind, err))
		return nil
	}
	if err := sp.Start(ctx); err != nil {
		o.systemLocked(fmt.Sprintf("cannot start %s: %v", kind, err))
		return nil
	}

	if o.cfg.NewWatcher != nil {
		w, err := o.cfg.NewWatcher(kind, o.onTranscriptSession(kind), o.onTranscriptEvent(kind))
		if err != nil {
			o.systemLocked(fmt.Sprintf("transcript watch unavailable for %s: %v", kind, err))
		} else if w != nil {
			if err := w.Start(); err != nil {
				o.systemLocked(fmt.Sprintf("transcript watch unavailable for %s: %v", kind, err))
			} else {
				o.watchers[kind] = w
				sp.OnCleanup(w.Close)
				o.adoptLinkedLocked(kind, w)
			}
		}
	}

	o.spawners[kind] = sp
	from := o.active
	o.active = kind
	if err := o.cfg.Sessions.RecordAgentSwitch(from, kind); err != nil {
		o.logger.Warn("failed to record agent switch", "error", err)
	}
	o.systemLocked(fmt.Sprintf("handing off to %s", kind))

	// Readiness is awaited inside Write; the initial instruction types
	// itself as soon as the agent settles, without blocking this call.
	o.deliverAsync(sp, kind, decision.Task)
	return nil
}

func (o *Orchestrator) deliverAsync(sp spawner.Spawner, kind protocol.AgentKind, task string) {
	if task == "" {
		return
	}
	go func() {
		if err := sp.Write(context.Background(), task); err != nil {
			o.systemFrom(kind)(fmt.Sprintf("failed to deliver instruction: %v", err))
		}
	}()
}

// adoptLinkedLocked re-attaches a watcher to a transcript already linked in
// a resumed session, so its history and new lines flow again.
func (o *Orchestrator) adoptLinkedLocked(kind protocol.AgentKind, w Watcher) {
	for _, linked := range o.cfg.Sessions.Session().LinkedAgents {
		if linked.AgentKind == kind && linked.FilePath != "" {
			w.Adopt(linked.ExternalSessionID, linked.FilePath)
			return
		}
	}
}

// forwardLocked types a non-sentinel message into the active agent.
func (o *Orchestrator) forwardLocked(ctx context.Context, text string) error {
	sp := o.spawners[o.active]
	if sp == nil || !sp.IsRunning() {
		o.systemLocked(fmt.Sprintf("%s is no longer running; handing back", o.active))
		o.handbackLocked()
		return nil
	}
	if err := sp.Write(ctx, text); err != nil {
		o.systemLocked(fmt.Sprintf("failed to forward message to %s: %v", o.active, err))
	}
	return nil
}

// handbackLocked tears down the active agent and returns to the router.
func (o *Orchestrator) handbackLocked() {
	if o.active == protocol.AgentRouter {
		o.systemLocked("router already active")
		return
	}

	kind := o.active
	if sp, ok := o.spawners[kind]; ok {
		sp.Cleanup()
		delete(o.spawners, kind)
	}
	// Watcher closing is registered as a spawner cleanup hook; drop the
	// handle either way.
	delete(o.watchers, kind)

	for _, linked := range o.cfg.Sessions.Session().LinkedAgents {
		if linked.AgentKind != kind {
			continue
		}
		if err := o.cfg.Sessions.UnlinkAgent(kind, linked.ExternalSessionID); err != nil {
			o.logger.Warn("failed to record agent unlink", "error", err)
		}
	}
	if err := o.cfg.Sessions.RecordAgentSwitch(kind, protocol.AgentRouter); err != nil {
		o.logger.Warn("failed to record agent switch", "error", err)
	}

	o.active = protocol.AgentRouter
	o.pending = nil
	o.systemLocked(fmt.Sprintf("%s handed back; router active", kind))
}

// systemFrom returns the system-message sink for a spawner's process-level
// reports (exit codes, delivery failures). Runs on arbitrary goroutines.
func (o *Orchestrator) systemFrom(kind protocol.AgentKind) func(string) {
	return func(msg string) {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.cleaned {
			return
		}
		o.appendMessageLocked(protocol.RoleSystem, kind, msg)
	}
}

// onTranscriptSession links an external session the first time its
// transcript file identifies itself.
func (o *Orchestrator) onTranscriptSession(kind protocol.AgentKind) func(id, path string) {
	return func(id, path string) {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.cleaned {
			return
		}
		for _, linked := range o.cfg.Sessions.Session().LinkedAgents {
			if linked.AgentKind == kind && linked.ExternalSessionID == id {
				return
			}
		}
		err := o.cfg.Sessions.LinkAgent(protocol.LinkedAgent{
			AgentKind:         kind,
			ExternalSessionID: id,
			FilePath:          path,
		})
		if err != nil {
			o.logger.Warn("failed to record agent link", "error", err)
		}
	}
}

// onTranscriptEvent folds a transcript event into the conversation. User
// records never arrive here; the watcher suppresses them.
func (o *Orchestrator) onTranscriptEvent(kind protocol.AgentKind) func(transcript.Event) {
	return func(ev transcript.Event) {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.cleaned {
			return
		}

		if ev.Approval != nil {
			o.pending = ev.Approval
			if err := o.cfg.Sessions.UpdateStatus(protocol.SessionStatusAwaitingInput); err != nil {
				o.logger.Warn("failed to record status change", "error", err)
			}
			o.syncStatusLocked(protocol.SessionStatusAwaitingInput)
			o.systemLocked(fmt.Sprintf("%s requests approval: %s", kind, ev.Approval.Prompt))
			return
		}

		if ev.IsMessage() {
			o.appendMessageLocked(ev.Role, kind, ev.Text)
		}
	}
}

func (o *Orchestrator) appendMessageLocked(role protocol.Role, agent protocol.AgentKind, content string) {
	msg := protocol.ChatMessage{
		ID:        uuid.New().String(),
		Role:      role,
		Agent:     agent,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	o.messages = append(o.messages, msg)

	if o.cfg.Syncer != nil {
		o.cfg.Syncer.SyncMessage(context.Background(), o.cfg.Sessions.SessionID(), msg)
	}
	o.notifyLocked()
}

func (o *Orchestrator) systemLocked(content string) {
	o.appendMessageLocked(protocol.RoleSystem, protocol.AgentRouter, content)
}

func (o *Orchestrator) syncStatusLocked(status protocol.SessionStatus) {
	if o.cfg.Syncer != nil {
		o.cfg.Syncer.SyncStatus(context.Background(), o.cfg.Sessions.SessionID(), status)
	}
}

func (o *Orchestrator) snapshotLocked() State {
	st := State{
		ActiveAgent: o.active,
		Messages:    append([]protocol.ChatMessage(nil), o.messages...),
	}
	if o.pending != nil {
		p := *o.pending
		st.PendingApproval = &p
	}
	return st
}

func (o *Orchestrator) notifyLocked() {
	if len(o.listeners) == 0 {
		return
	}
	snapshot := o.snapshotLocked()
	for _, l := range o.listeners {
		l(snapshot)
	}
}
