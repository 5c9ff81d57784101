// Package spawner runs one external interactive coding agent attached to a
// pseudo-terminal and simulates realistic keystroke input. One implementation
// exists per agent kind; shared PTY and typing logic lives in the ptyProcess
// helper rather than a base class.
package spawner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lightfastai/switchboard/internal/protocol"
)

// Spawner drives a single external agent process. At most one Spawner is
// live per orchestrator at any time.
type Spawner interface {
	// Start spawns the agent process on a PTY. Failure is a *SpawnError.
	Start(ctx context.Context) error
	// Write types a message into the PTY character by character and submits
	// it. It blocks until the spawner is ready (pattern match or grace
	// delay, whichever comes first).
	Write(ctx context.Context, message string) error
	// WriteRaw passes bytes to the PTY unbuffered and without delays.
	WriteRaw(data []byte) error
	// Resize updates the PTY window size.
	Resize(rows, cols uint16) error
	// SendInterrupt delivers Ctrl-C immediately, bypassing typed input.
	SendInterrupt() error
	// Approve sends the agent's approval control keys (not plain text).
	Approve(approved bool) error
	// Cleanup disposes registered watchers then kills the process. Safe to
	// call any number of times, including while a Write is in flight.
	Cleanup()
	// OnCleanup registers a hook run once during Cleanup, before the
	// process is killed. Used to tear down per-agent transcript watchers.
	OnCleanup(fn func())
	// IsRunning reports whether the process is currently alive.
	IsRunning() bool
	// Kind identifies the agent variant.
	Kind() protocol.AgentKind
}

// SpawnError indicates the agent process failed to start. The transition
// that triggered the spawn is aborted and ownership stays with the router.
type SpawnError struct {
	Kind protocol.AgentKind
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %s: %v", e.Kind, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Timing controls the keystroke simulation. Chunked terminal output makes
// readiness pattern matching unreliable, so ReadyGrace is always honored as
// a fallback: once it elapses, readiness is asserted unconditionally.
type Timing struct {
	ReadyGrace  time.Duration
	KeyDelay    time.Duration
	SettleDelay time.Duration
}

// DefaultTiming returns the timing used against the stock CLIs. KeyDelay
// defeats paste-detection heuristics that would otherwise swallow input.
func DefaultTiming() Timing {
	return Timing{
		ReadyGrace:  1500 * time.Millisecond,
		KeyDelay:    25 * time.Millisecond,
		SettleDelay: 300 * time.Millisecond,
	}
}

// Config carries everything needed to start an agent process.
type Config struct {
	// Command is the agent argv; Command[0] is the binary.
	Command []string
	// Dir is the working directory the agent runs in.
	Dir string
	// Env entries are appended to the inherited environment.
	Env []string
	// Timing overrides; zero fields fall back to DefaultTiming.
	Timing Timing
	// OnSystem receives system-level messages (process exit reports).
	OnSystem func(message string)
}

func (c Config) timing() Timing {
	t := DefaultTiming()
	if c.Timing.ReadyGrace > 0 {
		t.ReadyGrace = c.Timing.ReadyGrace
	}
	if c.Timing.KeyDelay > 0 {
		t.KeyDelay = c.Timing.KeyDelay
	}
	if c.Timing.SettleDelay > 0 {
		t.SettleDelay = c.Timing.SettleDelay
	}
	return t
}

// New returns the spawner implementation for an agent kind.
func New(kind protocol.AgentKind, cfg Config, logger *slog.Logger) (Spawner, error) {
	switch kind {
	case protocol.AgentClaude:
		return NewClaude(cfg, logger), nil
	case protocol.AgentCodex:
		return NewCodex(cfg, logger), nil
	default:
		return nil, fmt.Errorf("no spawner for agent kind %q", kind)
	}
}
