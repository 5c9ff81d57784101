package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lightfastai/switchboard/internal/protocol"
	"github.com/lightfastai/switchboard/internal/router"
	"github.com/lightfastai/switchboard/internal/session"
	"github.com/lightfastai/switchboard/internal/spawner"
	"github.com/lightfastai/switchboard/internal/transcript"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSpawner stands in for a PTY-driven agent process.
type fakeSpawner struct {
	kind      protocol.AgentKind
	failStart bool

	mu        sync.Mutex
	running   bool
	writes    []string
	approvals []bool
	cleanups  int
	hooks     []func()
}

func (f *fakeSpawner) Start(ctx context.Context) error {
	if f.failStart {
		return &spawner.SpawnError{Kind: f.kind, Err: fmt.Errorf("binary not found")}
	}
	f.mu.Lock()
	f.running = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSpawner) Write(ctx context.Context, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return fmt.Errorf("process not running")
	}
	f.writes = append(f.writes, message)
	return nil
}

func (f *fakeSpawner) WriteRaw(data []byte) error { return nil }

func (f *fakeSpawner) Resize(rows, cols uint16) error { return nil }

func (f *fakeSpawner) SendInterrupt() error { return nil }

func (f *fakeSpawner) Approve(approved bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvals = append(f.approvals, approved)
	return nil
}

func (f *fakeSpawner) Cleanup() {
	f.mu.Lock()
	hooks := f.hooks
	f.hooks = nil
	f.running = false
	f.cleanups++
	f.mu.Unlock()
	for _, h := range hooks {
		h()
	}
}

func (f *fakeSpawner) OnCleanup(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks = append(f.hooks, fn)
}

func (f *fakeSpawner) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeSpawner) Kind() protocol.AgentKind { return f.kind }

func (f *fakeSpawner) sentWrites() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *fakeSpawner) kill() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
}

// fakeProvisioner fails provisioning when told to.
type fakeProvisioner struct {
	fail  bool
	names []string
}

func (p *fakeProvisioner) Provision(ctx context.Context, names []string) error {
	p.names = append(p.names, names...)
	if p.fail {
		return fmt.Errorf("blender bridge not reachable")
	}
	return nil
}

type harness struct {
	orch     *Orchestrator
	sessions *session.Manager
	spawners map[protocol.AgentKind]*fakeSpawner
	prov     *fakeProvisioner
}

func newHarness(t *testing.T, decisions ...router.Decision) *harness {
	t.Helper()

	sessions := session.NewManager(t.TempDir(), discardLogger())
	if _, err := sessions.Initialize(""); err != nil {
		t.Fatalf("failed to initialize session: %v", err)
	}
	t.Cleanup(func() { sessions.Close() })

	h := &harness{
		sessions: sessions,
		spawners: make(map[protocol.AgentKind]*fakeSpawner),
		prov:     &fakeProvisioner{},
	}

	h.orch = New(Config{
		Sessions:     sessions,
		Decider:      &router.StaticDecider{Decisions: decisions},
		Integrations: h.prov,
		NewSpawner: func(kind protocol.AgentKind, onSystem func(string)) (spawner.Spawner, error) {
			sp, ok := h.spawners[kind]
			if !ok {
				sp = &fakeSpawner{kind: kind}
				h.spawners[kind] = sp
			}
			return sp, nil
		},
		Logger: discardLogger(),
	})
	t.Cleanup(h.orch.Cleanup)
	return h
}

// waitForWrite polls until the initial instruction delivery lands; it is
// typed from a separate goroutine.
func waitForWrite(t *testing.T, sp *fakeSpawner, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, w := range sp.sentWrites() {
			if w == want {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("write %q never delivered; got %v", want, sp.sentWrites())
}

func lastSystemMessage(st State) string {
	for i := len(st.Messages) - 1; i >= 0; i-- {
		if st.Messages[i].Role == protocol.RoleSystem {
			return st.Messages[i].Content
		}
	}
	return ""
}

func TestRouterReplyWithoutHandoff(t *testing.T) {
	h := newHarness(t, router.Decision{Reply: "just asking? nothing to do"})

	if err := h.orch.HandleUserMessage(context.Background(), "what can you do"); err != nil {
		t.Fatalf("message handling failed: %v", err)
	}

	st := h.orch.GetState()
	if st.ActiveAgent != protocol.AgentRouter {
		t.Fatalf("expected router active, got %s", st.ActiveAgent)
	}
	if len(st.Messages) != 2 {
		t.Fatalf("expected user + assistant messages, got %d", len(st.Messages))
	}
	if st.Messages[1].Role != protocol.RoleAssistant || st.Messages[1].Agent != protocol.AgentRouter {
		t.Fatalf("unexpected reply message: %+v", st.Messages[1])
	}
}

func TestRouterToAgentHandoff(t *testing.T) {
	h := newHarness(t, router.Decision{Agent: protocol.AgentClaude, Task: "fix the tests"})

	if err := h.orch.HandleUserMessage(context.Background(), "fix the tests"); err != nil {
		t.Fatalf("message handling failed: %v", err)
	}

	st := h.orch.GetState()
	if st.ActiveAgent != protocol.AgentClaude {
		t.Fatalf("expected claude active, got %s", st.ActiveAgent)
	}

	sp := h.spawners[protocol.AgentClaude]
	if sp == nil || !sp.IsRunning() {
		t.Fatal("expected claude spawner running")
	}
	waitForWrite(t, sp, "fix the tests")

	if got := lastSystemMessage(st); !strings.Contains(got, "handing off to claude") {
		t.Fatalf("expected handoff notice, got %q", got)
	}
}

func TestForwardingToActiveAgent(t *testing.T) {
	h := newHarness(t, router.Decision{Agent: protocol.AgentCodex, Task: "start"})
	ctx := context.Background()

	if err := h.orch.HandleUserMessage(ctx, "start"); err != nil {
		t.Fatalf("handoff failed: %v", err)
	}
	sp := h.spawners[protocol.AgentCodex]
	waitForWrite(t, sp, "start")

	if err := h.orch.HandleUserMessage(ctx, "also add logging"); err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	waitForWrite(t, sp, "also add logging")
}

func TestHandbackSentinel(t *testing.T) {
	h := newHarness(t, router.Decision{Agent: protocol.AgentClaude, Task: "go"})
	ctx := context.Background()

	if err := h.orch.HandleUserMessage(ctx, "go"); err != nil {
		t.Fatalf("handoff failed: %v", err)
	}
	sp := h.spawners[protocol.AgentClaude]
	waitForWrite(t, sp, "go")

	if err := h.orch.HandleUserMessage(ctx, "BACK"); err != nil {
		t.Fatalf("handback failed: %v", err)
	}

	st := h.orch.GetState()
	if st.ActiveAgent != protocol.AgentRouter {
		t.Fatalf("expected router active after handback, got %s", st.ActiveAgent)
	}
	if sp.IsRunning() {
		t.Fatal("expected spawner torn down on handback")
	}
	// The sentinel itself must not be typed into the agent.
	for _, w := range sp.sentWrites() {
		if strings.EqualFold(w, "back") {
			t.Fatal("sentinel forwarded to agent")
		}
	}
	if len(h.sessions.Session().LinkedAgents) != 0 {
		t.Fatal("expected linked agents cleared on handback")
	}
}

func TestHandbackAtRouterIsNoOp(t *testing.T) {
	h := newHarness(t)

	if err := h.orch.HandbackToRouter(); err != nil {
		t.Fatalf("handback failed: %v", err)
	}

	st := h.orch.GetState()
	if st.ActiveAgent != protocol.AgentRouter {
		t.Fatalf("expected router active, got %s", st.ActiveAgent)
	}
	if got := lastSystemMessage(st); !strings.Contains(got, "router already active") {
		t.Fatalf("expected notice, got %q", got)
	}
}

func TestSpawnFailureStaysWithRouter(t *testing.T) {
	h := newHarness(t, router.Decision{Agent: protocol.AgentClaude, Task: "go"})
	h.spawners[protocol.AgentClaude] = &fakeSpawner{kind: protocol.AgentClaude, failStart: true}

	if err := h.orch.HandleUserMessage(context.Background(), "go"); err != nil {
		t.Fatalf("message handling failed: %v", err)
	}

	st := h.orch.GetState()
	if st.ActiveAgent != protocol.AgentRouter {
		t.Fatalf("expected router to keep ownership, got %s", st.ActiveAgent)
	}
	if got := lastSystemMessage(st); !strings.Contains(got, "cannot start claude") {
		t.Fatalf("expected spawn failure notice, got %q", got)
	}
}

func TestIntegrationFailureAbortsHandoff(t *testing.T) {
	h := newHarness(t, router.Decision{
		Agent:        protocol.AgentClaude,
		Task:         "model a donut",
		Integrations: []string{"blender"},
	})
	h.prov.fail = true

	if err := h.orch.HandleUserMessage(context.Background(), "model a donut"); err != nil {
		t.Fatalf("message handling failed: %v", err)
	}

	st := h.orch.GetState()
	if st.ActiveAgent != protocol.AgentRouter {
		t.Fatalf("expected router to keep ownership, got %s", st.ActiveAgent)
	}
	if sp := h.spawners[protocol.AgentClaude]; sp != nil && sp.IsRunning() {
		t.Fatal("agent must not start when provisioning fails")
	}
}

func TestSwitchToAgentRequiresRunningProcess(t *testing.T) {
	h := newHarness(t)

	if err := h.orch.SwitchToAgent(protocol.AgentCodex); err == nil {
		t.Fatal("expected switch to a non-running agent to fail")
	}
	if st := h.orch.GetState(); st.ActiveAgent != protocol.AgentRouter {
		t.Fatalf("ownership must be unchanged, got %s", st.ActiveAgent)
	}
}

func TestApprovalFlow(t *testing.T) {
	h := newHarness(t, router.Decision{Agent: protocol.AgentClaude, Task: "go"})
	ctx := context.Background()

	if err := h.orch.HandleUserMessage(ctx, "go"); err != nil {
		t.Fatalf("handoff failed: %v", err)
	}
	sp := h.spawners[protocol.AgentClaude]
	waitForWrite(t, sp, "go")

	// Approval request arrives via the transcript path.
	h.orch.onTranscriptEvent(protocol.AgentClaude)(transcript.Event{
		Approval: &protocol.ApprovalPrompt{Prompt: "Run rm -rf build?"},
	})

	st := h.orch.GetState()
	if st.PendingApproval == nil {
		t.Fatal("expected pending approval")
	}
	if h.sessions.Session().Status != protocol.SessionStatusAwaitingInput {
		t.Fatalf("expected awaiting_input, got %s", h.sessions.Session().Status)
	}

	// Ordinary messages are blocked while an approval is pending.
	before := len(sp.sentWrites())
	if err := h.orch.HandleUserMessage(ctx, "keep going"); err != nil {
		t.Fatalf("message handling failed: %v", err)
	}
	if len(sp.sentWrites()) != before {
		t.Fatal("message forwarded despite pending approval")
	}

	if err := h.orch.HandleApprovalResponse(true); err != nil {
		t.Fatalf("approval failed: %v", err)
	}

	st = h.orch.GetState()
	if st.PendingApproval != nil {
		t.Fatal("approval not cleared")
	}
	if h.sessions.Session().Status != protocol.SessionStatusActive {
		t.Fatalf("expected active after approval, got %s", h.sessions.Session().Status)
	}
	sp.mu.Lock()
	approvals := append([]bool(nil), sp.approvals...)
	sp.mu.Unlock()
	if len(approvals) != 1 || approvals[0] != true {
		t.Fatalf("expected one approval control signal, got %v", approvals)
	}
}

func TestApprovalResponseWithoutPendingIsIgnored(t *testing.T) {
	h := newHarness(t)

	if err := h.orch.HandleApprovalResponse(true); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if st := h.orch.GetState(); st.ActiveAgent != protocol.AgentRouter {
		t.Fatalf("state changed unexpectedly: %s", st.ActiveAgent)
	}
}

func TestDeadAgentTriggersHandback(t *testing.T) {
	h := newHarness(t, router.Decision{Agent: protocol.AgentCodex, Task: "go"})
	ctx := context.Background()

	if err := h.orch.HandleUserMessage(ctx, "go"); err != nil {
		t.Fatalf("handoff failed: %v", err)
	}
	sp := h.spawners[protocol.AgentCodex]
	waitForWrite(t, sp, "go")

	sp.kill()

	if err := h.orch.HandleUserMessage(ctx, "still there?"); err != nil {
		t.Fatalf("message handling failed: %v", err)
	}

	st := h.orch.GetState()
	if st.ActiveAgent != protocol.AgentRouter {
		t.Fatalf("expected automatic handback, got %s", st.ActiveAgent)
	}
	if got := lastSystemMessage(st); !strings.Contains(got, "router active") {
		t.Fatalf("expected handback notice, got %q", got)
	}
}

func TestTranscriptSessionLinksOnce(t *testing.T) {
	h := newHarness(t, router.Decision{Agent: protocol.AgentClaude, Task: "go"})
	ctx := context.Background()

	if err := h.orch.HandleUserMessage(ctx, "go"); err != nil {
		t.Fatalf("handoff failed: %v", err)
	}

	onSession := h.orch.onTranscriptSession(protocol.AgentClaude)
	onSession("ext-1", "/tmp/ext-1.jsonl")
	onSession("ext-1", "/tmp/ext-1.jsonl")

	linked := h.sessions.Session().LinkedAgents
	if len(linked) != 1 {
		t.Fatalf("expected 1 linked agent, got %d", len(linked))
	}
	if linked[0].ExternalSessionID != "ext-1" || linked[0].AgentKind != protocol.AgentClaude {
		t.Fatalf("unexpected link: %+v", linked[0])
	}
}

// A resumed session re-attaches its linked transcript during the next
// handoff. The adopt must not block message handling: the watcher's
// callbacks re-enter the orchestrator, so a synchronous adopt held under
// the orchestrator lock would never return.
func TestResumeAdoptsLinkedTranscript(t *testing.T) {
	transcriptRoot := t.TempDir()
	sessionsRoot := t.TempDir()

	locator := transcript.NewLocator(protocol.AgentClaude, transcriptRoot, "/home/me/proj", time.Now())
	if err := os.MkdirAll(locator.Dir(), 0700); err != nil {
		t.Fatalf("failed to create transcript dir: %v", err)
	}
	extID := "0b944a6e-25a0-4a11-96cd-c2e6b716b04d"
	path := filepath.Join(locator.Dir(), extID+".jsonl")
	line := `{"type":"assistant","sessionId":"` + extID + `","message":{"role":"assistant","content":"picking up where we left off"}}` + "\n"
	if err := os.WriteFile(path, []byte(line), 0600); err != nil {
		t.Fatalf("failed to write transcript: %v", err)
	}

	// First run links the transcript, then stops.
	first := session.NewManager(sessionsRoot, discardLogger())
	created, err := first.Initialize("")
	if err != nil {
		t.Fatalf("failed to initialize session: %v", err)
	}
	err = first.LinkAgent(protocol.LinkedAgent{
		AgentKind:         protocol.AgentClaude,
		ExternalSessionID: extID,
		FilePath:          path,
		LinkedAt:          time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to link agent: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("failed to close session: %v", err)
	}

	sessions := session.NewManager(sessionsRoot, discardLogger())
	if _, err := sessions.Initialize(created.SessionID); err != nil {
		t.Fatalf("failed to resume session: %v", err)
	}
	t.Cleanup(func() { sessions.Close() })

	orch := New(Config{
		Sessions: sessions,
		Decider: &router.StaticDecider{Decisions: []router.Decision{
			{Agent: protocol.AgentClaude, Task: "continue"},
		}},
		NewSpawner: func(kind protocol.AgentKind, onSystem func(string)) (spawner.Spawner, error) {
			return &fakeSpawner{kind: kind}, nil
		},
		NewWatcher: func(kind protocol.AgentKind, onSession func(id, path string), onEvent func(transcript.Event)) (Watcher, error) {
			return transcript.NewWatcher(locator, onSession, onEvent, discardLogger()), nil
		},
		Logger: discardLogger(),
	})
	t.Cleanup(orch.Cleanup)

	done := make(chan error, 1)
	go func() { done <- orch.HandleUserMessage(context.Background(), "continue") }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("message handling failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message handling never returned while adopting the linked transcript")
	}

	// The adopted transcript's history flows in asynchronously.
	deadline := time.Now().Add(3 * time.Second)
	for {
		st := orch.GetState()
		found := false
		for _, m := range st.Messages {
			if m.Role == protocol.RoleAssistant && m.Content == "picking up where we left off" {
				found = true
			}
		}
		if found {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("adopted transcript never surfaced; messages: %+v", st.Messages)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if linked := sessions.Session().LinkedAgents; len(linked) != 1 {
		t.Fatalf("expected the existing link preserved, got %d", len(linked))
	}
}

func TestCleanupIdempotent(t *testing.T) {
	h := newHarness(t, router.Decision{Agent: protocol.AgentClaude, Task: "go"})

	if err := h.orch.HandleUserMessage(context.Background(), "go"); err != nil {
		t.Fatalf("handoff failed: %v", err)
	}
	sp := h.spawners[protocol.AgentClaude]
	waitForWrite(t, sp, "go")

	h.orch.Cleanup()
	h.orch.Cleanup()

	if sp.IsRunning() {
		t.Fatal("spawner still running after cleanup")
	}
	if err := h.orch.HandleUserMessage(context.Background(), "hello"); err == nil {
		t.Fatal("expected messages rejected after cleanup")
	}
}
