package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"sonactl/internal/journal"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List supervised sessions from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openJournal(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			sessions, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				if sessions == nil {
					sessions = []*journal.Session{}
				}
				return writeJSON(cmd, sessions)
			}
			stdout := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(stdout, "No sessions recorded")
				return nil
			}
			fmt.Fprint(stdout, renderSessionTable(sessions))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of sessions to show (0 for all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output sessions as JSON")

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every recorded session",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openJournal(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			removed, err := store.Clear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d session(s)\n", removed)
			return nil
		},
	})
	return cmd
}

func openJournal(ctx *commandContext) (*journal.Store, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	store, err := journal.Open(cfg)
	if errors.Is(err, journal.ErrDisabled) {
		return nil, fmt.Errorf("%w (set journal.enabled = true in %s)", err, displayConfigPath(ctx))
	}
	return store, err
}

func displayConfigPath(ctx *commandContext) string {
	if ctx.configPath != "" {
		return ctx.configPath
	}
	return "the config file"
}

func renderSessionTable(sessions []*journal.Session) string {
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		port := "-"
		if s.Port > 0 {
			port = strconv.Itoa(s.Port)
		}
		exit := "-"
		if s.ExitCode != nil {
			exit = strconv.Itoa(*s.ExitCode)
		}
		rows = append(rows, []string{
			shortID(s.ID),
			formatTimestamp(s.StartedAt),
			formatDuration(s.Duration()),
			displayLabel(string(s.State)),
			port,
			exit,
			firstLine(s.Detail),
		})
	}
	return renderTable([]tableColumn{
		{header: "ID"},
		{header: "Started"},
		{header: "Duration", align: alignRight},
		{header: "State"},
		{header: "Port", align: alignRight},
		{header: "Exit", align: alignRight},
		{header: "Detail"},
	}, rows)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
