package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sonactl/internal/config"
	"sonactl/internal/journal"
	"sonactl/internal/logging"
	"sonactl/internal/preflight"
	"sonactl/internal/runner"
	"sonactl/internal/runstate"
)

type runFlags struct {
	port          int
	binary        string
	model         string
	host          string
	jsonOutput    bool
	skipPreflight bool
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the sona server and supervise it in the foreground",
		Long: "Start the sona server and supervise it until interrupted.\n\n" +
			"The server's readiness line is printed once it is listening. " +
			"Ctrl-C or `sonactl stop` shuts it down gracefully.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg, flags); err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			return runSupervisor(cmd, cfg, logger, flags)
		},
	}

	cmd.Flags().IntVarP(&flags.port, "port", "p", 0, "Port to request from the server (0 lets the server choose)")
	cmd.Flags().StringVar(&flags.binary, "binary", "", "Path to the sona executable (skips the search)")
	cmd.Flags().StringVar(&flags.model, "model", "", "Model file passed to sona serve")
	cmd.Flags().StringVar(&flags.host, "host", "", "Address the server binds to")
	cmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "Print the readiness summary as JSON")
	cmd.Flags().BoolVar(&flags.skipPreflight, "skip-preflight", false, "Launch even when preflight checks fail")
	return cmd
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config, flags runFlags) error {
	if cmd.Flags().Changed("port") {
		cfg.Runner.Port = flags.port
	}
	if cmd.Flags().Changed("host") {
		cfg.Runner.Host = strings.TrimSpace(flags.host)
	}
	if cmd.Flags().Changed("binary") {
		path, err := config.ExpandPath(strings.TrimSpace(flags.binary))
		if err != nil {
			return fmt.Errorf("resolve --binary: %w", err)
		}
		cfg.Runner.Binary = path
	}
	if cmd.Flags().Changed("model") {
		path, err := config.ExpandPath(strings.TrimSpace(flags.model))
		if err != nil {
			return fmt.Errorf("resolve --model: %w", err)
		}
		cfg.Runner.Model = path
	}
	return cfg.Validate()
}

type readySummary struct {
	Status    string `json:"status"`
	Port      int    `json:"port"`
	PID       int    `json:"pid"`
	RunID     string `json:"run_id"`
	Binary    string `json:"binary"`
	StartedAt string `json:"started_at"`
}

func runSupervisor(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger, flags runFlags) error {
	signalCtx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stdout := cmd.OutOrStdout()
	logger = logging.NewComponentLogger(logger, "supervisor")

	if !flags.skipPreflight {
		if failed := preflight.Failed(preflight.RunAll(cfg)); len(failed) > 0 {
			lines := make([]string, 0, len(failed))
			for _, result := range failed {
				lines = append(lines, fmt.Sprintf("  - %s: %s", result.Name, result.Detail))
			}
			return fmt.Errorf("preflight checks failed:\n%s", strings.Join(lines, "\n"))
		}
	}

	r, err := runner.New(runner.Options{
		Binary:         cfg.Runner.Binary,
		Host:           cfg.Runner.Host,
		Model:          cfg.Runner.Model,
		Env:            cfg.Runner.Env,
		StartupTimeout: cfg.StartupTimeout(),
		StopTimeout:    cfg.StopTimeout(),
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	// The state file names this process from the moment the lock is held, so
	// a stop during the handshake never reads a previous run's pids.
	lock, err := runstate.Claim(cfg.LockPath(), cfg.RunStatePath(), runstate.State{
		RunID:         r.ID(),
		SupervisorPID: os.Getpid(),
		Binary:        r.Binary(),
		StartedAt:     time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, runstate.ErrAlreadyRunning) {
			return fmt.Errorf("%w (use `sonactl status` to inspect it or `sonactl stop` to end it)", err)
		}
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("release run lock", logging.Error(err))
		}
	}()
	defer func() {
		if err := runstate.Remove(cfg.RunStatePath()); err != nil {
			logger.Warn("remove run state", logging.Error(err))
		}
	}()

	rec := openRecorder(signalCtx, cfg, logger, r)
	defer rec.close()

	rec.begin(r, cfg.Runner.Port)
	port, err := r.Start(signalCtx, cfg.Runner.Port)
	if err != nil {
		rec.finish(r, journal.OutcomeFailed, err.Error())
		return fmt.Errorf("start sona: %w", err)
	}
	defer r.Stop()

	state := runstate.State{
		RunID:         r.ID(),
		SupervisorPID: os.Getpid(),
		ServerPID:     r.PID(),
		Port:          port,
		Binary:        r.Binary(),
		StartedAt:     r.StartedAt().UTC(),
	}
	if err := runstate.Write(cfg.RunStatePath(), state); err != nil {
		logger.Warn("write run state", logging.Error(err),
			logging.String(logging.FieldImpact, "sonactl status shows the run as starting"))
	}

	if err := printReady(cmd, stdout, state, flags.jsonOutput); err != nil {
		return err
	}

	exitedOnItsOwn := serverExitedOnItsOwn(signalCtx, r.Done())
	if !exitedOnItsOwn {
		logger.Info("shutdown requested", logging.String("reason", context.Cause(signalCtx).Error()))
	}

	result := r.Stop()
	if exitedOnItsOwn {
		detail := strings.TrimSpace(r.StderrTail())
		rec.finish(r, journal.OutcomeExited, detail)
		msg := fmt.Sprintf("sona exited unexpectedly (exit code %d)", r.ExitCode())
		if detail != "" {
			msg += ":\n" + detail
		}
		return errors.New(msg)
	}

	rec.finish(r, journal.OutcomeStopped, stopDetail(result))
	if !flags.jsonOutput {
		fmt.Fprintf(stdout, "sona stopped (%s)\n", stopDetail(result))
	}
	return nil
}

// serverExitedOnItsOwn blocks until shutdown is requested or the server
// exits. An exit that races a shutdown request counts as requested.
func serverExitedOnItsOwn(ctx context.Context, done <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return false
	case <-done:
		return ctx.Err() == nil
	}
}

func printReady(cmd *cobra.Command, out io.Writer, state runstate.State, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(cmd, readySummary{
			Status:    runner.ReadyStatus,
			Port:      state.Port,
			PID:       state.ServerPID,
			RunID:     state.RunID,
			Binary:    state.Binary,
			StartedAt: state.StartedAt.Format(time.RFC3339),
		})
	}
	fmt.Fprintf(out, "sona ready on port %d (pid %d)\n", state.Port, state.ServerPID)
	fmt.Fprintf(out, "binary: %s\n", state.Binary)
	fmt.Fprintln(out, "press Ctrl-C or run `sonactl stop` to shut it down")
	return nil
}

func stopDetail(result runner.StopResult) string {
	switch {
	case result.ForcedKill:
		return "forced kill after stop timeout"
	case result.Graceful:
		return "graceful"
	default:
		return "already exited"
	}
}

// sessionRecorder writes journal entries when the journal is available.
// Journal failures are logged and never interrupt supervision.
type sessionRecorder struct {
	store  *journal.Store
	logger *slog.Logger
	ctx    context.Context
}

func openRecorder(ctx context.Context, cfg *config.Config, logger *slog.Logger, r *runner.Runner) *sessionRecorder {
	rec := &sessionRecorder{logger: logger, ctx: context.WithoutCancel(ctx)}
	if !cfg.Journal.Enabled {
		return rec
	}
	store, err := journal.Open(cfg)
	if err != nil {
		logging.WarnWithContext(logger, "session journal unavailable", "journal_open_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "this run will not appear in sonactl history"),
		)
		return rec
	}
	rec.store = store
	if n, err := store.MarkAbandoned(rec.ctx, r.ID()); err != nil {
		logger.Warn("mark abandoned sessions", logging.Error(err))
	} else if n > 0 {
		logger.Info("closed abandoned sessions", logging.Int("count", int(n)))
	}
	return rec
}

func (s *sessionRecorder) begin(r *runner.Runner, requestedPort int) {
	if s.store == nil {
		return
	}
	err := s.store.Begin(s.ctx, journal.Session{
		ID:            r.ID(),
		Binary:        r.Binary(),
		RequestedPort: requestedPort,
		StartedAt:     time.Now(),
	})
	if err != nil {
		s.logger.Warn("record session start", logging.Error(err))
	}
}

func (s *sessionRecorder) finish(r *runner.Runner, outcome journal.Outcome, detail string) {
	if s.store == nil {
		return
	}
	fin := journal.Finish{
		State:  outcome,
		Port:   r.Port(),
		PID:    r.PID(),
		Detail: detail,
	}
	if code := r.ExitCode(); code >= 0 {
		fin.ExitCode = &code
	}
	if err := s.store.Finish(s.ctx, r.ID(), fin); err != nil {
		s.logger.Warn("record session outcome", logging.Error(err))
	}
}

func (s *sessionRecorder) close() {
	if s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("close journal", logging.Error(err))
	}
}
