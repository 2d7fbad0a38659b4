package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"sonactl/internal/deps"
	"sonactl/internal/journal"
	"sonactl/internal/runstate"
	"sonactl/internal/testsupport"
)

func TestWhichPrintsExplicitBinary(t *testing.T) {
	env := setupCLITestEnv(t, "")
	stub := testsupport.WriteStub(t, filepath.Join(env.baseDir, "bin"), deps.ServerName)

	out, _, err := runCLI(t, []string{"which", "--binary", stub}, env.configPath)
	if err != nil {
		t.Fatalf("which: %v", err)
	}
	if strings.TrimSpace(out) != stub {
		t.Fatalf("expected %q, got %q", stub, out)
	}

	out, _, err = runCLI(t, []string{"which", "--all", "--binary", stub}, env.configPath)
	if err != nil {
		t.Fatalf("which --all: %v", err)
	}
	requireContains(t, out, string(deps.TierWorkDir))
	requireContains(t, out, string(deps.TierPath))
	requireContains(t, out, "search skipped")
}

func TestWhichSearchesPath(t *testing.T) {
	env := setupCLITestEnv(t, "", testsupport.WithBinary(""), testsupport.WithStubbedServer())
	want := filepath.Join(env.baseDir, "bin", deps.ExecutableName(deps.ServerName, ""))

	out, _, err := runCLI(t, []string{"which"}, env.configPath)
	if err != nil {
		t.Fatalf("which: %v", err)
	}
	if strings.TrimSpace(out) != want {
		t.Fatalf("expected PATH stub %q, got %q", want, out)
	}
}

func TestWhichReportsMissingBinary(t *testing.T) {
	env := setupCLITestEnv(t, "")
	missing := filepath.Join(env.baseDir, "nowhere", "sona")
	_, _, err := runCLI(t, []string{"which", "--binary", missing}, env.configPath)
	if !errors.Is(err, deps.ErrBinaryNotFound) {
		t.Fatalf("expected ErrBinaryNotFound, got %v", err)
	}
	requireContains(t, err.Error(), missing)
}

func TestStatusWhenIdle(t *testing.T) {
	env := setupCLITestEnv(t, "")

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== Supervisor ==")
	requireContains(t, out, "[INFO] Not running")
	requireContains(t, out, "State directory:")
	requireContains(t, out, "No sessions recorded")
	requireContains(t, out, "[OK] ready to run")

	out, _, err = runCLI(t, []string{"status", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var report map[string]any
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode status json: %v\n%s", err, out)
	}
	if _, ok := report["supervisor"]; !ok {
		t.Fatalf("expected supervisor section in %v", report)
	}
}

func TestStatusReportsStaleState(t *testing.T) {
	env := setupCLITestEnv(t, "")
	if err := runstate.Write(env.cfg.RunStatePath(), runstate.State{SupervisorPID: 99999, Port: 8080}); err != nil {
		t.Fatal(err)
	}
	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "stale state from pid 99999")
}

func TestStopWhenNotRunning(t *testing.T) {
	env := setupCLITestEnv(t, "")
	out, _, err := runCLI(t, []string{"stop"}, env.configPath)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "sona is not running")
}

func TestHistoryListsAndClearsSessions(t *testing.T) {
	env := setupCLITestEnv(t, "")
	store := testsupport.MustOpenJournal(t, env.cfg)
	session := testsupport.BeginSession(t, store, 54321, time.Now().Add(-2*time.Minute))
	code := 0
	if err := store.Finish(context.Background(), session.ID, journal.Finish{State: journal.OutcomeStopped, ExitCode: &code}); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, []string{"history"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, session.ID[:8])
	requireContains(t, out, "Stopped")
	requireContains(t, out, "54321")

	out, _, err = runCLI(t, []string{"history", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("history --json: %v", err)
	}
	var sessions []journal.Session
	if err := json.Unmarshal([]byte(out), &sessions); err != nil {
		t.Fatalf("decode history json: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != session.ID {
		t.Fatalf("unexpected sessions %+v", sessions)
	}

	out, _, err = runCLI(t, []string{"history", "clear"}, env.configPath)
	if err != nil {
		t.Fatalf("history clear: %v", err)
	}
	requireContains(t, out, "Removed 1 session(s)")
}

func TestHistoryRequiresJournal(t *testing.T) {
	env := setupCLITestEnv(t, "", testsupport.WithJournalDisabled())
	_, _, err := runCLI(t, []string{"history"}, env.configPath)
	if !errors.Is(err, journal.ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestRunSupervisesUntilCancelled(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("graceful shutdown needs unix signals")
	}
	env := setupCLITestEnv(t, "ready")
	// Left behind by a supervisor that crashed; the new run must replace it.
	if err := runstate.Write(env.cfg.RunStatePath(), runstate.State{RunID: "crashed", SupervisorPID: 99999, ServerPID: 99998, Port: 9000}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, _, err := runCLIContext(ctx, t, []string{"run", "--json"}, env.configPath)
		done <- result{out: out, err: err}
	}()

	var st runstate.State
	waitFor(t, 10*time.Second, func() bool {
		var err error
		st, err = runstate.Read(env.cfg.RunStatePath())
		return err == nil && st.RunID != "crashed" && st.ServerPID != 0
	})
	if st.Port != 54321 || st.ServerPID == 0 || st.SupervisorPID != os.Getpid() {
		t.Fatalf("unexpected run state %+v", st)
	}
	if held, err := runstate.Held(env.cfg.LockPath()); err != nil || !held {
		t.Fatalf("expected run lock to be held, got %v / %v", held, err)
	}
	if _, _, err := runCLI(t, []string{"run"}, env.configPath); !errors.Is(err, runstate.ErrAlreadyRunning) {
		t.Fatalf("expected second run to be refused, got %v", err)
	}

	cancel()
	var res result
	select {
	case res = <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
	if res.err != nil {
		t.Fatalf("run returned error: %v", res.err)
	}
	var summary readySummary
	if err := json.Unmarshal([]byte(res.out), &summary); err != nil {
		t.Fatalf("decode ready summary %q: %v", res.out, err)
	}
	if summary.Status != "ready" || summary.Port != 54321 || summary.RunID != st.RunID {
		t.Fatalf("unexpected summary %+v", summary)
	}

	if _, err := runstate.Read(env.cfg.RunStatePath()); !errors.Is(err, runstate.ErrNotRunning) {
		t.Fatalf("expected run state to be removed, got %v", err)
	}
	store := testsupport.MustOpenJournal(t, env.cfg)
	session, err := store.Get(context.Background(), st.RunID)
	if err != nil {
		t.Fatalf("journal Get: %v", err)
	}
	if session.State != journal.OutcomeStopped || session.Port != 54321 || session.FinishedAt == nil {
		t.Fatalf("unexpected journal session %+v", session)
	}
}

func TestRunReportsPrematureExit(t *testing.T) {
	env := setupCLITestEnv(t, "exit-early")

	_, _, err := runCLI(t, []string{"run"}, env.configPath)
	if err == nil {
		t.Fatal("expected run to fail")
	}
	requireContains(t, err.Error(), "failed to load model")

	store := testsupport.MustOpenJournal(t, env.cfg)
	sessions, err := store.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(sessions) != 1 || sessions[0].State != journal.OutcomeFailed {
		t.Fatalf("expected one failed session, got %+v", sessions)
	}
	if held, _ := runstate.Held(env.cfg.LockPath()); held {
		t.Fatal("lock must be released after a failed run")
	}
}

func TestRunPreflightRejectsMissingModel(t *testing.T) {
	env := setupCLITestEnv(t, "ready")
	_, _, err := runCLI(t, []string{"run", "--model", filepath.Join(env.baseDir, "missing.bin")}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "preflight checks failed") {
		t.Fatalf("expected preflight failure, got %v", err)
	}
}

func TestExitCode(t *testing.T) {
	notFound := &deps.NotFoundError{Name: "sona", Searched: []string{"/nowhere/sona"}}
	cases := []struct {
		err  error
		want int
	}{
		{err: fmt.Errorf("start sona: %w", notFound), want: exitNotFound},
		{err: fmt.Errorf("%w (use sonactl stop)", runstate.ErrAlreadyRunning), want: exitAlreadyRunning},
		{err: errors.New("boom"), want: exitFailure},
	}
	for _, tc := range cases {
		if got := exitCode(tc.err); got != tc.want {
			t.Fatalf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestServerExitClassification(t *testing.T) {
	closed := make(chan struct{})
	close(closed)
	open := make(chan struct{})

	if !serverExitedOnItsOwn(context.Background(), closed) {
		t.Fatal("exit without a shutdown request is unexpected")
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if serverExitedOnItsOwn(cancelled, closed) {
		t.Fatal("exit racing a shutdown request must count as requested")
	}
	if serverExitedOnItsOwn(cancelled, open) {
		t.Fatal("shutdown request with a live server is requested")
	}
}
