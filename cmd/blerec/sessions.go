package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blerec/internal/catalog"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions [session-id]",
		Short: "List recorded sessions",
		Long: `Lists the sessions journaled in the catalog, newest first. With a session id,
shows that session and its link transitions.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSessions,
	}
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Catalog.Path == "" {
		return fmt.Errorf("the session catalog is disabled")
	}
	logger, err := configureLogger(cmd, cfg, "verbose")
	if err != nil {
		return err
	}
	asJSON, _ := cmd.Flags().GetBool("json")

	cmd.SilenceUsage = true

	cat, err := catalog.Open(cfg.Catalog.Path, logger)
	if err != nil {
		return err
	}
	defer cat.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		s, err := cat.Get(ctx, args[0])
		if err != nil {
			return err
		}
		transitions, err := cat.Transitions(ctx, s.ID)
		if err != nil {
			return err
		}
		if asJSON {
			return writeJSON(out, struct {
				catalog.Session
				Transitions []catalog.Transition
			}{s, transitions})
		}
		printSession(out, s)
		for _, t := range transitions {
			fmt.Fprintf(out, "  %s  %-12s %s\n", t.At.Format("15:04:05.000"), t.Kind, t.Detail)
		}
		return nil
	}

	sessions, err := cat.Sessions(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		if sessions == nil {
			sessions = []catalog.Session{}
		}
		return writeJSON(out, sessions)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions recorded")
		return nil
	}
	for _, s := range sessions {
		printSession(out, s)
	}
	return nil
}

func printSession(w io.Writer, s catalog.Session) {
	state := "running or interrupted"
	if !s.EndedAt.IsZero() {
		state = fmt.Sprintf("%s after %s", s.EndReason, s.EndedAt.Sub(s.StartedAt).Round(time.Second))
	}
	fmt.Fprintf(w, "%s  %s  %-9s %s  %s/%s_*.csv\n",
		s.ID, s.StartedAt.Format(time.DateTime), s.Transport, s.Peer, s.OutputDir, s.FilePrefix)
	fmt.Fprintf(w, "    %s; frames %d, missed %d, reconnects %d, fixes %d\n",
		state, s.Frames, s.Missed, s.Reconnects, s.LocationFixes)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
