package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lightfastai/switchboard/internal/config"
	"github.com/lightfastai/switchboard/internal/protocol"
	"github.com/lightfastai/switchboard/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded sessions",
	RunE:  listSessions,
}

func listSessions(cmd *cobra.Command, args []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(cfg.SessionsRoot)
	if os.IsNotExist(err) {
		fmt.Fprintln(cmd.OutOrStdout(), "no sessions recorded")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read sessions root: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSTATUS\tAGENTS\tTASKS\tUPDATED")

	found := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sess, ok := readSnapshot(cfg.SessionsRoot, entry.Name())
		if !ok {
			continue
		}
		found++
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			sess.SessionID,
			sess.Status,
			len(sess.LinkedAgents),
			len(sess.Tasks),
			sess.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
		)
	}
	if found == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no sessions recorded")
		return nil
	}
	return w.Flush()
}

// readSnapshot loads a session's advisory snapshot; a missing or malformed
// snapshot falls back to replaying the ledger.
func readSnapshot(root, sessionID string) (protocol.Session, bool) {
	data, err := os.ReadFile(session.SnapshotPath(root, sessionID))
	if err == nil {
		var sess protocol.Session
		if err := json.Unmarshal(data, &sess); err == nil && sess.SessionID != "" {
			return sess, true
		}
	}

	ledger := session.LedgerPath(root, sessionID)
	if _, err := os.Stat(ledger); err != nil {
		return protocol.Session{}, false
	}
	events, err := session.ReadEvents(ledger, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil || len(events) == 0 {
		return protocol.Session{}, false
	}
	sess := session.Reconstruct(events)
	return sess, sess.SessionID != ""
}
