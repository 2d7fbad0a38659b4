package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sonactl/internal/runstate"
)

// stopGrace is added to the configured stop timeout so the supervisor has time
// to force kill a stubborn server and release its lock.
const stopGrace = 5 * time.Second

func newStopCommand(ctx *commandContext) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the foreground sonactl run and its server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()

			st, err := runstate.SignalSupervisor(cfg.RunStatePath(), cfg.LockPath())
			if errors.Is(err, runstate.ErrNotRunning) {
				fmt.Fprintln(stdout, "sona is not running")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Stopping sona on port %d (supervisor pid %d)...\n", st.Port, st.SupervisorPID)

			wait := timeout
			if wait <= 0 {
				wait = cfg.StopTimeout() + stopGrace
			}
			waitCtx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()
			if err := runstate.WaitReleased(waitCtx, cfg.LockPath()); err != nil {
				return err
			}
			fmt.Fprintln(stdout, "sona stopped")
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "How long to wait for shutdown (default: stop_timeout plus 5s)")
	return cmd
}
