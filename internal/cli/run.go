package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lightfastai/switchboard/internal/config"
	"github.com/lightfastai/switchboard/internal/integration"
	"github.com/lightfastai/switchboard/internal/orchestrator"
	"github.com/lightfastai/switchboard/internal/protocol"
	"github.com/lightfastai/switchboard/internal/router"
	"github.com/lightfastai/switchboard/internal/session"
	"github.com/lightfastai/switchboard/internal/spawner"
	"github.com/lightfastai/switchboard/internal/syncer"
	"github.com/lightfastai/switchboard/internal/transcript"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an interactive orchestration session",
	RunE:  runSession,
}

func init() {
	runCmd.Flags().String("session", "", "Resume an existing session by id")
}

func runSession(cmd *cobra.Command, args []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return err
	}
	sessionID, err := cmd.Flags().GetString("session")
	if err != nil {
		return err
	}

	logger := newLogger(verbose)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Router.APIKey == "" {
		return fmt.Errorf("configuration error: no router API key\n\nHint: set router.api_key in switchboard.yaml or export OPENAI_API_KEY")
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to determine working directory: %w", err)
	}

	sessions := session.NewManager(cfg.SessionsRoot, logger)
	sess, err := sessions.Initialize(sessionID)
	if err != nil {
		return fmt.Errorf("failed to initialize session: %w", err)
	}
	defer sessions.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session %s (%s)\n", sess.SessionID, sess.Status)
	fmt.Fprintf(out, "ledger: %s\n", session.LedgerPath(cfg.SessionsRoot, sess.SessionID))
	fmt.Fprintln(out, `type a task to route it; "back" returns control to the router; /help lists commands`)

	var sync *syncer.Service
	if cfg.Remote.URL != "" {
		interval := time.Duration(cfg.Remote.SyncIntervalSec) * time.Second
		sync = syncer.NewService(syncer.NewHTTPRemote(cfg.Remote.URL), interval, logger)
		sync.Start()
		defer sync.Close()
		sync.SyncSessionCreated(cmd.Context(), sess)
	}

	integrations := integration.NewManager(logger)
	integrations.Register(integration.NewBlenderBridge(cfg.Integrations.BlenderAddr))

	decider := router.NewOpenAIDecider(cfg.Router.APIKey, cfg.Router.Model, logger)

	orch := orchestrator.New(orchestrator.Config{
		Sessions:     sessions,
		Decider:      decider,
		Integrations: integrations,
		Syncer:       sync,
		NewSpawner:   spawnerFactory(cfg, cwd, logger),
		NewWatcher:   watcherFactory(cfg, cwd, logger),
		Logger:       logger,
	})
	defer orch.Cleanup()

	// Print each new message as it lands. Listeners run serialized under the
	// orchestrator's lock, so the counter needs no extra synchronization.
	printed := 0
	orch.Subscribe(func(st orchestrator.State) {
		for ; printed < len(st.Messages); printed++ {
			fmt.Fprintln(out, formatMessage(st.Messages[printed]))
		}
	})

	if err := sessions.UpdateStatus(protocol.SessionStatusActive); err != nil {
		logger.Warn("failed to record status change", "error", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	readLoop(ctx, orch, out)

	if err := sessions.UpdateStatus(protocol.SessionStatusPaused); err != nil {
		logger.Warn("failed to record status change", "error", err)
	}
	if sync != nil {
		sync.SyncStatus(context.Background(), sess.SessionID, protocol.SessionStatusPaused)
	}
	fmt.Fprintln(out, "session paused; resume with: switchboard run --session "+sess.SessionID)
	return nil
}

// readLoop consumes operator input until EOF, /quit, or signal.
func readLoop(ctx context.Context, orch *orchestrator.Orchestrator, out io.Writer) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(out, formatPrompt(orch.GetState().ActiveAgent))

		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if strings.HasPrefix(strings.TrimSpace(line), "/") {
				if quit := handleCommand(orch, out, strings.TrimSpace(line)); quit {
					return
				}
				continue
			}
			if err := orch.HandleUserMessage(ctx, line); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
	}
}

// handleCommand dispatches a slash command; returns true when the loop
// should exit.
func handleCommand(orch *orchestrator.Orchestrator, out io.Writer, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/back":
		if err := orch.HandbackToRouter(); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	case "/switch":
		if len(fields) < 2 {
			fmt.Fprintln(out, "usage: /switch <claude|codex|router>")
			return false
		}
		if err := orch.SwitchToAgent(protocol.AgentKind(fields[1])); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	case "/approve":
		if err := orch.HandleApprovalResponse(true); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	case "/reject":
		if err := orch.HandleApprovalResponse(false); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	case "/help":
		fmt.Fprintln(out, "commands: /back /switch <agent> /approve /reject /quit")
	default:
		fmt.Fprintf(out, "unknown command %s (try /help)\n", fields[0])
	}
	return false
}

// spawnerFactory builds per-kind spawners from the agent configuration.
func spawnerFactory(cfg *config.Config, cwd string, logger *slog.Logger) orchestrator.SpawnerFactory {
	return func(kind protocol.AgentKind, onSystem func(string)) (spawner.Spawner, error) {
		agent := agentConfig(cfg, kind)
		if agent == nil {
			return nil, fmt.Errorf("no configuration for agent %q", kind)
		}
		return spawner.New(kind, spawner.Config{
			Command: agent.Cmd,
			Dir:     cwd,
			Env:     agent.Env,
			Timing: spawner.Timing{
				ReadyGrace:  time.Duration(agent.ReadyGraceMs) * time.Millisecond,
				KeyDelay:    time.Duration(agent.KeyDelayMs) * time.Millisecond,
				SettleDelay: time.Duration(agent.SettleDelayMs) * time.Millisecond,
			},
			OnSystem: onSystem,
		}, logger)
	}
}

// watcherFactory builds per-kind transcript watchers. A kind with no
// transcript root gets no watcher and runs without transcript capture.
func watcherFactory(cfg *config.Config, cwd string, logger *slog.Logger) orchestrator.WatcherFactory {
	return func(kind protocol.AgentKind, onSession func(id, path string), onEvent func(transcript.Event)) (orchestrator.Watcher, error) {
		agent := agentConfig(cfg, kind)
		if agent == nil || agent.TranscriptRoot == "" {
			return nil, nil
		}
		locator := transcript.NewLocator(kind, agent.TranscriptRoot, cwd, time.Now().UTC())
		if locator == nil {
			return nil, nil
		}
		return transcript.NewWatcher(locator, onSession, onEvent, logger), nil
	}
}

func agentConfig(cfg *config.Config, kind protocol.AgentKind) *config.Agent {
	switch kind {
	case protocol.AgentClaude:
		return cfg.Agents.Claude
	case protocol.AgentCodex:
		return cfg.Agents.Codex
	default:
		return nil
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}
