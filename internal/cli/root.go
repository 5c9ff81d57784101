package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "switchboard",
	Short: "Sequential handoff orchestrator for interactive coding agents",
	Long: `switchboard routes natural-language tasks to one interactive
coding-agent CLI at a time (Claude Code or Codex), drives it through a
pseudo-terminal, and records the whole session in an append-only ledger.

Say "back" at any time to hand control back to the router.

Running 'switchboard' without a subcommand is equivalent to 'switchboard run'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(tailCmd)

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to switchboard.yaml (default: search . and ~/.config/switchboard)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
