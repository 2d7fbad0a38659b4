package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sonactl/internal/deps"
	"sonactl/internal/logging"
)

const (
	// DefaultStopTimeout bounds the wait between the polite request and the forced kill.
	DefaultStopTimeout = 30 * time.Second

	maxStderrCapture = 64 << 10
	stderrTailLimit  = 16 << 10
	drainGrace       = 2 * time.Second
)

// Options configures a Runner.
type Options struct {
	// Binary is the server executable. Empty runs the default search.
	Binary string
	Host   string
	Model  string
	// Env holds KEY=VALUE entries appended to the inherited environment.
	Env []string
	// StartupTimeout bounds the handshake. Zero waits until the child exits or ctx ends.
	StartupTimeout time.Duration
	StopTimeout    time.Duration
	Logger         *slog.Logger
}

// signaler is the platform's shutdown capability.
type signaler interface {
	Terminate(*os.Process) error
	Kill(*os.Process) error
}

// Runner supervises one sona server process. It is single use.
type Runner struct {
	id     string
	binary string
	opts   Options
	logger *slog.Logger
	sig    signaler

	// lifecycle serializes Start and Stop; mu guards the fields below and is
	// only held briefly so Alive never blocks on a shutdown in progress.
	lifecycle sync.Mutex
	mu        sync.Mutex

	state     State
	failure   error
	port      int
	startedAt time.Time
	cmd       *exec.Cmd
	done      chan struct{}
	stdout    *os.File
	stderr    *os.File
	tail      *tailBuffer
	drainers  sync.WaitGroup
	released  bool
}

// New resolves the server binary and returns an unstarted Runner.
func New(opts Options) (*Runner, error) {
	binary, err := deps.ResolveServer(opts.Binary)
	if err != nil {
		return nil, err
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.StartupTimeout < 0 {
		opts.StartupTimeout = 0
	}
	id := uuid.NewString()
	logger := logging.NewComponentLogger(opts.Logger, "runner").With(logging.String(logging.FieldRunnerID, id))
	return &Runner{
		id:     id,
		binary: binary,
		opts:   opts,
		logger: logger,
		sig:    newSignaler(),
		state:  StateNotStarted,
		tail:   newTailBuffer(stderrTailLimit),
	}, nil
}

func (r *Runner) ID() string     { return r.id }
func (r *Runner) Binary() string { return r.binary }

func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the reason a Runner ended in StateFailed.
func (r *Runner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failure
}

// Port returns the server-reported port, or 0 before readiness.
func (r *Runner) Port() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.port
}

// PID returns the child's process id, or 0 if nothing was launched.
func (r *Runner) PID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil || r.cmd.Process == nil {
		return 0
	}
	return r.cmd.Process.Pid
}

func (r *Runner) StartedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startedAt
}

// Alive reports whether the child is running. It never blocks.
func (r *Runner) Alive() bool {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Done is closed when the child exits. Before launch it is already closed.
func (r *Runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return r.done
}

// ExitCode follows os.ProcessState.ExitCode: -1 while running or when the
// child was terminated by a signal.
func (r *Runner) ExitCode() int {
	r.mu.Lock()
	cmd, done := r.cmd, r.done
	r.mu.Unlock()
	if done == nil {
		return -1
	}
	select {
	case <-done:
		return cmd.ProcessState.ExitCode()
	default:
		return -1
	}
}

// StderrTail returns the most recent stderr lines written after readiness.
func (r *Runner) StderrTail() string {
	return r.tail.String()
}

// Start launches the server and blocks until it announces readiness. The
// returned port is the one the server reports, which matters when
// requestedPort is 0.
func (r *Runner) Start(ctx context.Context, requestedPort int) (int, error) {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if requestedPort < 0 || requestedPort > 65535 {
		return 0, fmt.Errorf("invalid port %d: must be between 0 and 65535", requestedPort)
	}
	r.mu.Lock()
	if r.state != StateNotStarted {
		state := r.state
		r.mu.Unlock()
		return 0, fmt.Errorf("%w (state %s)", ErrAlreadyStarted, state)
	}
	r.state = StateStarting
	r.mu.Unlock()

	args := r.args(requestedPort)
	r.logger.Info("starting sona server",
		logging.Binary(r.binary),
		logging.RequestedPort(requestedPort),
		logging.String("args", strings.Join(args, " ")),
	)

	if err := r.launch(args); err != nil {
		return 0, r.fail(err)
	}

	ready, stdout, err := r.awaitReady(ctx)
	if err != nil {
		return 0, r.fail(err)
	}

	r.mu.Lock()
	r.state = StateReady
	r.port = ready.Port
	r.mu.Unlock()

	r.drainers.Add(2)
	go r.drain("stdout", stdout, nil)
	go r.drain("stderr", r.stderr, r.tail)

	r.logger.Info("sona server ready",
		logging.PID(r.PID()),
		logging.Port(ready.Port),
		logging.RequestedPort(requestedPort),
	)
	return ready.Port, nil
}

func (r *Runner) args(port int) []string {
	args := []string{"serve", "--port", strconv.Itoa(port)}
	if host := strings.TrimSpace(r.opts.Host); host != "" {
		args = append(args, "--host", host)
	}
	if model := strings.TrimSpace(r.opts.Model); model != "" {
		args = append(args, model)
	}
	return args
}

func (r *Runner) launch(args []string) error {
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	cmd := exec.Command(r.binary, args...)
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	cmd.SysProcAttr = serverProcAttr()
	if len(r.opts.Env) > 0 {
		cmd.Env = append(os.Environ(), r.opts.Env...)
	}

	startErr := cmd.Start()
	// The child holds its own copies; ours must go so EOF arrives when it exits.
	stdoutW.Close()
	stderrW.Close()
	if startErr != nil {
		stdoutR.Close()
		stderrR.Close()
		return fmt.Errorf("launch %s: %w", r.binary, startErr)
	}

	done := make(chan struct{})
	r.mu.Lock()
	r.cmd = cmd
	r.done = done
	r.stdout = stdoutR
	r.stderr = stderrR
	r.startedAt = time.Now()
	r.mu.Unlock()

	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	return nil
}

type readResult struct {
	line string
	err  error
}

func (r *Runner) awaitReady(ctx context.Context) (ReadyMessage, *bufio.Reader, error) {
	reader := bufio.NewReader(r.stdout)
	lines := make(chan readResult, 1)
	go func() {
		line, err := reader.ReadString('\n')
		lines <- readResult{line: line, err: err}
	}()

	var timeout <-chan time.Time
	if r.opts.StartupTimeout > 0 {
		timer := time.NewTimer(r.opts.StartupTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var res readResult
	select {
	case res = <-lines:
	case <-timeout:
		r.abort()
		<-lines
		return ReadyMessage{}, nil, fmt.Errorf("%w after %s", ErrStartupTimeout, r.opts.StartupTimeout)
	case <-ctx.Done():
		r.abort()
		<-lines
		return ReadyMessage{}, nil, fmt.Errorf("wait for ready signal: %w", ctx.Err())
	}

	if res.line == "" {
		r.abort()
		return ReadyMessage{}, nil, &StartError{Kind: ErrPrematureExit, Detail: r.captureStderr(), Err: readFailure(res.err)}
	}
	ready, err := ParseReady(res.line)
	if err != nil {
		r.abort()
		return ReadyMessage{}, nil, err
	}
	return ready, reader, nil
}

func readFailure(err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// captureStderr reads what the dead child left on stderr. The deadline guards
// against a grandchild that inherited the write end.
func (r *Runner) captureStderr() string {
	_ = r.stderr.SetReadDeadline(time.Now().Add(drainGrace))
	data, _ := io.ReadAll(io.LimitReader(r.stderr, maxStderrCapture))
	return strings.TrimSpace(string(data))
}

// abort kills the child and waits for it to be reaped.
func (r *Runner) abort() {
	r.mu.Lock()
	cmd, done := r.cmd, r.done
	r.mu.Unlock()
	if err := r.sig.Kill(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		r.logger.Warn("kill after failed start", logging.Error(err))
	}
	<-done
	// Unblocks a handshake read still parked on a descendant's copy of stdout.
	_ = r.stdout.SetReadDeadline(time.Now())
}

func (r *Runner) fail(err error) error {
	r.closePipes()
	r.mu.Lock()
	r.state = StateFailed
	r.failure = err
	r.mu.Unlock()
	r.logger.Error("sona server failed to start",
		logging.Error(err),
		logging.String(logging.FieldEventType, "start_failed"),
	)
	return err
}

func (r *Runner) drain(stream string, src io.Reader, tail *tailBuffer) {
	defer r.drainers.Done()
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if tail != nil {
			tail.add(line)
		}
		r.logger.Debug("server output", logging.String(logging.FieldStream, stream), logging.String("line", line))
	}
	if scanner.Err() != nil {
		// An overlong line stops the scanner; keep the pipe flowing anyway.
		_, _ = io.Copy(io.Discard, src)
	}
}

// Stop shuts the child down and releases its pipes. It is idempotent and safe
// in any state.
func (r *Runner) Stop() StopResult {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.Lock()
	cmd, done := r.cmd, r.done
	r.mu.Unlock()
	if cmd == nil {
		return StopResult{AlreadyExited: true}
	}

	var result StopResult
	select {
	case <-done:
		result.AlreadyExited = true
	default:
		result = r.terminate(cmd.Process, done)
	}

	r.release()

	r.mu.Lock()
	if r.state == StateReady || r.state == StateStarting {
		r.state = StateStopped
	}
	r.mu.Unlock()

	r.logger.Info("sona server stopped",
		logging.Bool("already_exited", result.AlreadyExited),
		logging.Bool("graceful", result.Graceful),
		logging.Bool("forced_kill", result.ForcedKill),
		logging.Int("exit_code", r.ExitCode()),
	)
	return result
}

func (r *Runner) terminate(proc *os.Process, done <-chan struct{}) StopResult {
	if err := r.sig.Terminate(proc); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			<-done
			return StopResult{AlreadyExited: true}
		}
		r.logger.Warn("termination request failed; killing", logging.Error(err))
		r.kill(proc, done)
		return StopResult{ForcedKill: true}
	}

	timer := time.NewTimer(r.opts.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return StopResult{Graceful: true}
	case <-timer.C:
		logging.WarnWithContext(r.logger, "sona server ignored termination request; killing", "shutdown_timeout",
			logging.Duration("stop_timeout", r.opts.StopTimeout),
			logging.PID(proc.Pid),
			logging.String(logging.FieldErrorHint, "check the server log for a stuck shutdown"),
			logging.String(logging.FieldImpact, "server was force killed"),
		)
		r.kill(proc, done)
		return StopResult{ForcedKill: true}
	}
}

func (r *Runner) kill(proc *os.Process, done <-chan struct{}) {
	if err := r.sig.Kill(proc); err != nil && !errors.Is(err, os.ErrProcessDone) {
		r.logger.Error("kill sona server", logging.Error(err), logging.PID(proc.Pid))
		return
	}
	<-done
}

// release joins the drainers and closes the parent's read ends. Drainers get a
// grace period to flush what the child wrote before the pipes are closed
// underneath them.
func (r *Runner) release() {
	joined := make(chan struct{})
	go func() {
		r.drainers.Wait()
		close(joined)
	}()
	timer := time.NewTimer(drainGrace)
	defer timer.Stop()
	select {
	case <-joined:
	case <-timer.C:
		r.closePipes()
	}
	<-joined
	r.closePipes()
}

func (r *Runner) closePipes() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	r.released = true
	if r.stdout != nil {
		_ = r.stdout.Close()
	}
	if r.stderr != nil {
		_ = r.stderr.Close()
	}
}
