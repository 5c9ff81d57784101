package cli

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/lightfastai/switchboard/internal/config"
	"github.com/lightfastai/switchboard/internal/session"
	"github.com/lightfastai/switchboard/internal/tui"
)

var tailCmd = &cobra.Command{
	Use:   "tail <session-id>",
	Short: "Watch a session's ledger in a live dashboard",
	Args:  cobra.ExactArgs(1),
	RunE:  tailSession,
}

func tailSession(cmd *cobra.Command, args []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ledger := session.LedgerPath(cfg.SessionsRoot, args[0])
	if _, err := os.Stat(ledger); err != nil {
		return fmt.Errorf("no ledger for session %s (looked at %s)", args[0], ledger)
	}

	tailer, err := tui.NewTailer(ledger)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}

	program := tea.NewProgram(tui.NewModel(tailer), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("dashboard error: %w", err)
	}
	return nil
}
