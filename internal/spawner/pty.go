package spawner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/lightfastai/switchboard/internal/protocol"
)

const (
	// ringSize bounds the readiness-detection window of recent PTY output.
	ringSize = 8 * 1024

	defaultRows uint16 = 40
	defaultCols uint16 = 120
)

// cursorProbe is the terminal's cursor-position query. Some CLIs issue it on
// startup and hang until a position report arrives; the PTY has no real
// terminal behind it, so we answer ourselves.
var (
	cursorProbe  = []byte("\x1b[6n")
	cursorAnswer = []byte("\x1b[1;1R")
)

// hooks are the per-agent-kind behaviors layered over ptyProcess.
type hooks struct {
	// readyFn inspects the recent-output window and reports readiness.
	// Pattern matching over chunked output is inherently fragile; the grace
	// delay in Timing backstops it.
	readyFn func(window []byte) bool
	// answerCursorProbe enables the startup cursor-position handshake.
	answerCursorProbe bool
	// approveKeys maps an approval response to the raw key sequence the
	// agent's confirmation UI expects.
	approveKeys func(approved bool) []byte
}

// ptyProcess is the shared engine behind every Spawner implementation: PTY
// lifecycle, readiness tracking, keystroke simulation, exit reporting.
type ptyProcess struct {
	kind   protocol.AgentKind
	cfg    Config
	timing Timing
	hooks  hooks
	logger *slog.Logger

	mu           sync.Mutex
	cmd          *exec.Cmd
	ptmx         *os.File
	running      bool
	cleaned      bool
	cleanupFns   []func()
	graceTimer   *time.Timer
	ring         *outputRing
	probeDone    bool
	ready        chan struct{}
	readyOnce    sync.Once
	done         chan struct{}
}

func newPTYProcess(kind protocol.AgentKind, cfg Config, h hooks, logger *slog.Logger) *ptyProcess {
	return &ptyProcess{
		kind:   kind,
		cfg:    cfg,
		timing: cfg.timing(),
		hooks:  h,
		logger: logger,
		ring:   newOutputRing(ringSize),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (p *ptyProcess) Kind() protocol.AgentKind {
	return p.kind
}

func (p *ptyProcess) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return &SpawnError{Kind: p.kind, Err: errors.New("already running")}
	}
	if len(p.cfg.Command) == 0 {
		return &SpawnError{Kind: p.kind, Err: errors.New("empty command")}
	}

	cmd := exec.CommandContext(ctx, p.cfg.Command[0], p.cfg.Command[1:]...)
	cmd.Dir = p.cfg.Dir
	cmd.Env = append(os.Environ(), p.cfg.Env...)

	p.logger.Info("starting agent", "kind", p.kind, "cmd", p.cfg.Command, "dir", p.cfg.Dir)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: defaultRows, Cols: defaultCols})
	if err != nil {
		return &SpawnError{Kind: p.kind, Err: err}
	}

	p.cmd = cmd
	p.ptmx = ptmx
	p.running = true

	// Grace fallback: once elapsed, readiness is asserted unconditionally.
	p.graceTimer = time.AfterFunc(p.timing.ReadyGrace, func() {
		p.signalReady("grace delay")
	})

	go p.readLoop(ptmx)
	go p.waitForExit(cmd)

	p.logger.Info("agent started", "kind", p.kind, "pid", cmd.Process.Pid)
	return nil
}

// readLoop drains PTY output into the readiness window. The output itself is
// not surfaced; conversation content comes from the agent's transcript file,
// which survives redraw noise and ANSI control traffic.
func (p *ptyProcess) readLoop(ptmx *os.File) {
	buf := make([]byte, 4096)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			p.ring.Write(chunk)
			p.maybeAnswerProbe()
			if p.hooks.readyFn != nil && p.hooks.readyFn(p.ring.Bytes()) {
				p.signalReady("output pattern")
			}
		}
		if err != nil {
			return
		}
	}
}

func (p *ptyProcess) maybeAnswerProbe() {
	if !p.hooks.answerCursorProbe {
		return
	}
	p.mu.Lock()
	answered := p.probeDone
	ptmx := p.ptmx
	p.mu.Unlock()
	if answered || ptmx == nil {
		return
	}
	if bytes.Contains(p.ring.Bytes(), cursorProbe) {
		p.mu.Lock()
		p.probeDone = true
		p.mu.Unlock()
		if _, err := ptmx.Write(cursorAnswer); err != nil {
			p.logger.Warn("failed to answer cursor probe", "kind", p.kind, "error", err)
		}
	}
}

func (p *ptyProcess) signalReady(reason string) {
	p.readyOnce.Do(func() {
		p.logger.Debug("agent ready", "kind", p.kind, "reason", reason)
		close(p.ready)
	})
}

func (p *ptyProcess) waitForExit(cmd *exec.Cmd) {
	err := cmd.Wait()

	p.mu.Lock()
	p.running = false
	cleaned := p.cleaned
	p.mu.Unlock()

	msg := exitMessage(p.kind, err)
	p.logger.Info("agent process exited", "kind", p.kind, "result", msg)

	// Deliberate Cleanup already reported; an unexpected death has not.
	if !cleaned && p.cfg.OnSystem != nil {
		p.cfg.OnSystem(msg)
	}

	p.Cleanup()
}

func exitMessage(kind protocol.AgentKind, err error) string {
	if err == nil {
		return fmt.Sprintf("%s process exited (code 0)", kind)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return fmt.Sprintf("%s process exited (code %d)", kind, code)
		}
		return fmt.Sprintf("%s process terminated (%s)", kind, exitErr.ProcessState.String())
	}
	return fmt.Sprintf("%s process exited: %v", kind, err)
}

func (p *ptyProcess) Write(ctx context.Context, message string) error {
	p.mu.Lock()
	started := p.cmd != nil
	p.mu.Unlock()
	if !started {
		return fmt.Errorf("%s agent not started", p.kind)
	}

	// Readiness gates the first write; later writes pass straight through.
	select {
	case <-p.ready:
	case <-p.done:
		return fmt.Errorf("%s agent terminated before ready", p.kind)
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, r := range message {
		if err := p.WriteRaw([]byte(string(r))); err != nil {
			return err
		}
		if err := p.pause(ctx, p.timing.KeyDelay); err != nil {
			return err
		}
	}

	if err := p.pause(ctx, p.timing.SettleDelay); err != nil {
		return err
	}
	if err := p.WriteRaw([]byte("\r")); err != nil {
		return err
	}
	return p.pause(ctx, p.timing.SettleDelay)
}

// pause waits for d unless the context is cancelled or the process is
// cleaned up, so no typed input lands on an already-killed PTY.
func (p *ptyProcess) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-p.done:
		return fmt.Errorf("%s agent terminated", p.kind)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *ptyProcess) WriteRaw(data []byte) error {
	p.mu.Lock()
	ptmx := p.ptmx
	p.mu.Unlock()
	if ptmx == nil {
		return fmt.Errorf("%s agent not running", p.kind)
	}
	if _, err := ptmx.Write(data); err != nil {
		return fmt.Errorf("pty write failed: %w", err)
	}
	return nil
}

func (p *ptyProcess) Resize(rows, cols uint16) error {
	p.mu.Lock()
	ptmx := p.ptmx
	p.mu.Unlock()
	if ptmx == nil {
		return fmt.Errorf("%s agent not running", p.kind)
	}
	return pty.Setsize(ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

func (p *ptyProcess) SendInterrupt() error {
	return p.WriteRaw([]byte{0x03})
}

func (p *ptyProcess) Approve(approved bool) error {
	if p.hooks.approveKeys == nil {
		return fmt.Errorf("%s agent has no approval keys", p.kind)
	}
	return p.WriteRaw(p.hooks.approveKeys(approved))
}

func (p *ptyProcess) OnCleanup(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleanupFns = append(p.cleanupFns, fn)
}

func (p *ptyProcess) Cleanup() {
	p.mu.Lock()
	if p.cleaned {
		p.mu.Unlock()
		return
	}
	p.cleaned = true
	fns := p.cleanupFns
	p.cleanupFns = nil
	timer := p.graceTimer
	ptmx := p.ptmx
	cmd := p.cmd
	p.ptmx = nil
	p.mu.Unlock()

	// Watchers first, so nothing observes the dying process.
	for _, fn := range fns {
		fn()
	}

	if timer != nil {
		timer.Stop()
	}
	close(p.done)

	if ptmx != nil {
		ptmx.Close()
	}
	if cmd != nil && cmd.Process != nil {
		// Already-exited processes return an error here; nothing to do.
		_ = cmd.Process.Kill()
	}

	p.logger.Debug("agent cleaned up", "kind", p.kind)
}

func (p *ptyProcess) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
