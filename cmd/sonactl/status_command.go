package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"sonactl/internal/config"
	"sonactl/internal/journal"
	"sonactl/internal/preflight"
	"sonactl/internal/runstate"
)

const recentSessionLimit = 5

type statusReport struct {
	Overall      statusLine         `json:"overall"`
	Supervisor   []statusLine       `json:"supervisor"`
	Checks       []statusLine       `json:"checks"`
	Dependencies []statusLine       `json:"dependencies"`
	Sessions     []*journal.Session `json:"recent_sessions,omitempty"`
	JournalNote  string             `json:"journal_note,omitempty"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the active run, preflight checks and recent sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			report, err := buildStatusReport(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, report)
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			writeSection(stdout, "Supervisor", report.Supervisor, colorize)
			fmt.Fprintln(stdout)
			writeSection(stdout, "Preflight", report.Checks, colorize)
			fmt.Fprintln(stdout)
			writeSection(stdout, "Dependencies", report.Dependencies, colorize)
			fmt.Fprintln(stdout)
			fmt.Fprintln(stdout, report.Overall.render(colorize))
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Recent Sessions", colorize) {
				fmt.Fprintln(stdout, line)
			}
			if report.JournalNote != "" {
				fmt.Fprintln(stdout, report.JournalNote)
				return nil
			}
			if len(report.Sessions) == 0 {
				fmt.Fprintln(stdout, "No sessions recorded")
				return nil
			}
			fmt.Fprint(stdout, renderSessionTable(report.Sessions))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	return cmd
}

func buildStatusReport(ctx context.Context, cfg *config.Config) (*statusReport, error) {
	report := &statusReport{}

	status, err := runstate.Inspect(cfg.RunStatePath(), cfg.LockPath())
	if err != nil {
		return nil, fmt.Errorf("inspect run state: %w", err)
	}
	report.Supervisor = supervisorLines(status, time.Now())

	// Each section writes only its own report fields.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for _, result := range preflight.RunAll(cfg) {
			kind := statusOK
			if !result.Passed {
				kind = statusError
			}
			report.Checks = append(report.Checks, newStatusLine(result.Name, kind, result.Detail))
		}
		return nil
	})
	g.Go(func() error {
		for _, dep := range preflight.CheckSystemDeps(cfg.Runner.Binary) {
			switch {
			case dep.Available:
				report.Dependencies = append(report.Dependencies, newStatusLine(dep.Name, statusOK, fmt.Sprintf("Ready (%s, found via %s)", dep.Command, dep.Tier)))
			case dep.Optional:
				report.Dependencies = append(report.Dependencies, newStatusLine(dep.Name, statusWarn, dep.Detail))
			default:
				report.Dependencies = append(report.Dependencies, newStatusLine(dep.Name, statusError, fmt.Sprintf("%s (%s)", dep.Detail, dep.Description)))
			}
		}
		return nil
	})
	g.Go(func() error {
		sessions, note, err := recentSessions(gctx, cfg)
		report.Sessions = sessions
		report.JournalNote = note
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	overall := worstKind(report.Checks, report.Dependencies)
	report.Overall = newStatusLine("Overall", overall, verdict(overall))
	return report, nil
}

func recentSessions(ctx context.Context, cfg *config.Config) ([]*journal.Session, string, error) {
	if !cfg.Journal.Enabled {
		return nil, "Journal disabled", nil
	}
	store, err := journal.Open(cfg)
	if err != nil {
		return nil, fmt.Sprintf("Journal unavailable: %v", err), nil
	}
	defer store.Close()
	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	sessions, err := store.List(queryCtx, recentSessionLimit)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, "", err
	}
	return sessions, "", nil
}

func supervisorLines(status runstate.Status, now time.Time) []statusLine {
	switch {
	case status.Active && status.State.SupervisorPID > 0:
		st := status.State
		lines := []statusLine{
			newStatusLine("Run", statusOK, fmt.Sprintf("Active (supervisor pid %d)", st.SupervisorPID)),
		}
		switch {
		case st.ServerPID == 0:
			lines = append(lines, newStatusLine("Server", statusInfo, "Starting (waiting for ready signal)"))
		case status.ServerAlive:
			lines = append(lines, newStatusLine("Server", statusOK, fmt.Sprintf("Listening on port %d (pid %d)", st.Port, st.ServerPID)))
		default:
			lines = append(lines, newStatusLine("Server", statusWarn, fmt.Sprintf("pid %d not running; supervisor is shutting down", st.ServerPID)))
		}
		lines = append(lines,
			newStatusLine("Binary", statusInfo, st.Binary),
			newStatusLine("Uptime", statusInfo, formatDuration(now.Sub(st.StartedAt))),
		)
		return lines
	case status.Active:
		return []statusLine{newStatusLine("Run", statusWarn, "Lock held but no run state recorded (starting up?)")}
	case status.Stale:
		return []statusLine{newStatusLine("Run", statusWarn, fmt.Sprintf("Not running (stale state from pid %d)", status.State.SupervisorPID))}
	default:
		return []statusLine{newStatusLine("Run", statusInfo, "Not running")}
	}
}
