package runner

import (
	"context"
	"errors"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sonactl/internal/deps"
)

type countingSignaler struct {
	inner      signaler
	terminates atomic.Int32
	kills      atomic.Int32
}

func (c *countingSignaler) Terminate(p *os.Process) error {
	c.terminates.Add(1)
	return c.inner.Terminate(p)
}

func (c *countingSignaler) Kill(p *os.Process) error {
	c.kills.Add(1)
	return c.inner.Kill(p)
}

func newHelperRunner(t *testing.T, opts Options) (*Runner, *countingSignaler) {
	t.Helper()
	r, err := New(opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	sig := &countingSignaler{inner: r.sig}
	r.sig = sig
	t.Cleanup(func() { r.Stop() })
	return r, sig
}

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("graceful termination needs unix signals")
	}
}

func TestStartReportsServerPortAndStopsGracefully(t *testing.T) {
	requireUnix(t)
	r, sig := newHelperRunner(t, helperOptions(t, "ready"))

	if r.Alive() {
		t.Fatal("runner should not be alive before Start")
	}
	if r.State() != StateNotStarted {
		t.Fatalf("unexpected initial state %s", r.State())
	}

	port, err := r.Start(context.Background(), 0)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if port != helperPort {
		t.Fatalf("expected server-reported port %d, got %d", helperPort, port)
	}
	if !r.Alive() || r.State() != StateReady || r.Port() != helperPort || r.PID() == 0 {
		t.Fatalf("unexpected ready runner: alive=%v state=%s port=%d pid=%d", r.Alive(), r.State(), r.Port(), r.PID())
	}
	if r.StartedAt().IsZero() {
		t.Fatal("expected start time")
	}

	began := time.Now()
	result := r.Stop()
	if elapsed := time.Since(began); elapsed > r.opts.StopTimeout {
		t.Fatalf("Stop took %s, longer than the stop timeout", elapsed)
	}
	if !result.Graceful || result.ForcedKill || result.AlreadyExited {
		t.Fatalf("expected graceful stop, got %+v", result)
	}
	if sig.terminates.Load() != 1 || sig.kills.Load() != 0 {
		t.Fatalf("expected one termination and no kill, got %d/%d", sig.terminates.Load(), sig.kills.Load())
	}
	if r.Alive() {
		t.Fatal("runner should not be alive after Stop")
	}
	if r.State() != StateStopped {
		t.Fatalf("expected stopped state, got %s", r.State())
	}
	if code := r.ExitCode(); code != 0 {
		t.Fatalf("expected clean exit, got %d", code)
	}
}

func TestStartPassesRequestedPortThrough(t *testing.T) {
	requireUnix(t)
	r, _ := newHelperRunner(t, helperOptions(t, "ready"))

	port, err := r.Start(context.Background(), 41000)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if port != 41000 {
		t.Fatalf("expected requested port to be echoed, got %d", port)
	}
}

func TestStopKillsChildThatIgnoresTermination(t *testing.T) {
	requireUnix(t)
	opts := helperOptions(t, "ignore-term")
	opts.StopTimeout = 300 * time.Millisecond
	r, sig := newHelperRunner(t, opts)

	if _, err := r.Start(context.Background(), 0); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	result := r.Stop()
	if !result.ForcedKill {
		t.Fatalf("expected forced kill, got %+v", result)
	}
	if sig.kills.Load() != 1 {
		t.Fatalf("expected exactly one kill, got %d", sig.kills.Load())
	}
	if r.Alive() {
		t.Fatal("child should not be running after forced stop")
	}
}

func TestStartPrematureExitCarriesStderr(t *testing.T) {
	r, _ := newHelperRunner(t, helperOptions(t, "exit-early"))

	_, err := r.Start(context.Background(), 0)
	if !errors.Is(err, ErrPrematureExit) {
		t.Fatalf("expected ErrPrematureExit, got %v", err)
	}
	var startErr *StartError
	if !errors.As(err, &startErr) {
		t.Fatalf("expected *StartError, got %T", err)
	}
	if !strings.Contains(startErr.Detail, "model file missing") {
		t.Fatalf("expected stderr in detail, got %q", startErr.Detail)
	}
	if r.Alive() {
		t.Fatal("runner should not be alive after premature exit")
	}
	if r.State() != StateFailed || !errors.Is(r.Err(), ErrPrematureExit) {
		t.Fatalf("expected failed state with reason, got %s / %v", r.State(), r.Err())
	}
	if code := r.ExitCode(); code != 3 {
		t.Fatalf("expected exit code 3, got %d", code)
	}
	if result := r.Stop(); !result.AlreadyExited {
		t.Fatalf("expected Stop to be a no-op, got %+v", result)
	}
	if r.State() != StateFailed {
		t.Fatalf("failed runner must stay failed, got %s", r.State())
	}
}

func TestStartPrematureExitWithoutStderr(t *testing.T) {
	r, _ := newHelperRunner(t, helperOptions(t, "silent-exit"))

	_, err := r.Start(context.Background(), 0)
	if !errors.Is(err, ErrPrematureExit) {
		t.Fatalf("expected ErrPrematureExit, got %v", err)
	}
	if err.Error() != ErrPrematureExit.Error() {
		t.Fatalf("expected bare message without stderr, got %q", err.Error())
	}
}

func TestStartRejectsUnexpectedReadySignal(t *testing.T) {
	cases := []struct {
		mode   string
		detail string
	}{
		{mode: "bad-status", detail: `"status":"error"`},
		{mode: "malformed", detail: "listening on 8080"},
	}
	for _, tc := range cases {
		t.Run(tc.mode, func(t *testing.T) {
			r, sig := newHelperRunner(t, helperOptions(t, tc.mode))

			_, err := r.Start(context.Background(), 0)
			if !errors.Is(err, ErrUnexpectedReadySignal) {
				t.Fatalf("expected ErrUnexpectedReadySignal, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.detail) {
				t.Fatalf("expected raw line %q in %q", tc.detail, err.Error())
			}
			if r.Alive() {
				t.Fatal("child must be killed after a bad ready signal")
			}
			if sig.kills.Load() != 1 {
				t.Fatalf("expected one kill, got %d", sig.kills.Load())
			}
		})
	}
}

func TestStartWaitsForCompleteReadyLine(t *testing.T) {
	r, _ := newHelperRunner(t, helperOptions(t, "partial"))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := r.Start(ctx, 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the handshake to keep waiting for a full line, got %v", err)
	}
	if r.Alive() {
		t.Fatal("child must be killed when the context ends")
	}
}

func TestStartTimesOutSilentChild(t *testing.T) {
	opts := helperOptions(t, "hang")
	opts.StartupTimeout = 200 * time.Millisecond
	r, _ := newHelperRunner(t, opts)

	began := time.Now()
	_, err := r.Start(context.Background(), 0)
	if !errors.Is(err, ErrStartupTimeout) {
		t.Fatalf("expected ErrStartupTimeout, got %v", err)
	}
	if time.Since(began) > 5*time.Second {
		t.Fatal("startup timeout did not bound the handshake")
	}
	if r.Alive() || r.State() != StateFailed {
		t.Fatalf("expected dead failed runner, got alive=%v state=%s", r.Alive(), r.State())
	}
}

func TestStartHonorsContextCancellation(t *testing.T) {
	opts := helperOptions(t, "hang")
	opts.StartupTimeout = 0
	r, _ := newHelperRunner(t, opts)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	_, err := r.Start(ctx, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if r.Alive() {
		t.Fatal("child must be killed on cancellation")
	}
}

func TestStartRejectsInvalidPortWithoutSpawning(t *testing.T) {
	r, _ := newHelperRunner(t, helperOptions(t, "ready"))
	for _, port := range []int{-1, 65536} {
		if _, err := r.Start(context.Background(), port); err == nil {
			t.Fatalf("expected error for port %d", port)
		}
	}
	if r.PID() != 0 || r.State() != StateNotStarted {
		t.Fatalf("no process should be spawned, got pid=%d state=%s", r.PID(), r.State())
	}
}

func TestStartTwiceFails(t *testing.T) {
	requireUnix(t)
	r, _ := newHelperRunner(t, helperOptions(t, "ready"))
	if _, err := r.Start(context.Background(), 0); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if _, err := r.Start(context.Background(), 0); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	r.Stop()
	if _, err := r.Start(context.Background(), 0); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("stopped runner must not restart, got %v", err)
	}
}

func TestStopIsIdempotentAndSafeBeforeStart(t *testing.T) {
	requireUnix(t)
	r, sig := newHelperRunner(t, helperOptions(t, "ready"))

	if result := r.Stop(); !result.AlreadyExited {
		t.Fatalf("Stop before Start should report nothing to stop, got %+v", result)
	}
	if _, err := r.Start(context.Background(), 0); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	first := r.Stop()
	second := r.Stop()
	if !first.Graceful {
		t.Fatalf("expected graceful first stop, got %+v", first)
	}
	if !second.AlreadyExited {
		t.Fatalf("expected second stop to be a no-op, got %+v", second)
	}
	if sig.terminates.Load() != 1 {
		t.Fatalf("expected one termination request, got %d", sig.terminates.Load())
	}
}

func TestStopAfterChildExitedOnItsOwn(t *testing.T) {
	r, sig := newHelperRunner(t, helperOptions(t, "exit-after-ready"))
	if _, err := r.Start(context.Background(), 0); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("child did not exit")
	}
	if r.Alive() {
		t.Fatal("Alive must report false once the child exited")
	}
	if result := r.Stop(); !result.AlreadyExited {
		t.Fatalf("expected already exited, got %+v", result)
	}
	if sig.terminates.Load() != 0 {
		t.Fatal("no termination should be sent to an exited child")
	}
}

func TestAliveIsSafeDuringConcurrentStop(t *testing.T) {
	requireUnix(t)
	r, _ := newHelperRunner(t, helperOptions(t, "ready"))
	if _, err := r.Start(context.Background(), 0); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = r.Alive()
					_ = r.State()
				}
			}
		}()
	}
	r.Stop()
	close(stop)
	wg.Wait()
	if r.Alive() {
		t.Fatal("expected dead child after Stop")
	}
}

func TestArgsEnvAndStderrTail(t *testing.T) {
	requireUnix(t)
	opts := helperOptions(t, "echo-args")
	opts.Host = "127.0.0.1"
	opts.Model = "/models/base.bin"
	opts.Env = append(opts.Env, "SONA_EXTRA=on")
	r, _ := newHelperRunner(t, opts)

	if _, err := r.Start(context.Background(), 0); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	r.Stop()

	tail := r.StderrTail()
	if !strings.Contains(tail, "args=serve --port 0 --host 127.0.0.1 /models/base.bin") {
		t.Fatalf("unexpected args in tail %q", tail)
	}
	if !strings.Contains(tail, "extra=on") {
		t.Fatalf("expected extra env in tail %q", tail)
	}
	if strings.Contains(tail, "log line on stdout") {
		t.Fatal("stdout must not leak into the stderr tail")
	}
}

func TestNewReportsMissingBinary(t *testing.T) {
	_, err := New(Options{Binary: "/definitely/not/here/sona"})
	if !errors.Is(err, deps.ErrBinaryNotFound) {
		t.Fatalf("expected ErrBinaryNotFound, got %v", err)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	r, err := New(Options{Binary: os.Args[0]})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if r.opts.StopTimeout != DefaultStopTimeout {
		t.Fatalf("expected default stop timeout, got %s", r.opts.StopTimeout)
	}
	if r.ID() == "" {
		t.Fatal("expected runner id")
	}
	other, err := New(Options{Binary: os.Args[0]})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if other.ID() == r.ID() {
		t.Fatal("runner ids must be unique")
	}
	select {
	case <-r.Done():
	default:
		t.Fatal("Done must be closed before launch")
	}
}
