package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"sonactl/internal/config"
	"sonactl/internal/testsupport"
)

const (
	helperEnv     = "GO_WANT_HELPER_PROCESS"
	helperModeEnv = "SONA_HELPER_MODE"
)

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		os.Exit(runFakeServer(os.Getenv(helperModeEnv)))
	}
	os.Exit(m.Run())
}

// runFakeServer stands in for `sona serve` when the test binary is launched
// as the server executable.
func runFakeServer(mode string) int {
	switch mode {
	case "ready":
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGTERM, os.Interrupt)
		fmt.Println(`{"status":"ready","port":54321}`)
		select {
		case <-signals:
			return 0
		case <-time.After(time.Minute):
			return 1
		}
	case "exit-early":
		fmt.Fprintln(os.Stderr, "failed to load model")
		return 2
	default:
		return 3
	}
}

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T, helperMode string, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	t.Setenv("SONA_BINARY", "")
	t.Setenv("SONACTL_LOG_LEVEL", "")
	opts = append([]testsupport.ConfigOption{testsupport.WithBinary(os.Args[0])}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))

	cfg.Logging.Level = "error"
	if helperMode != "" {
		cfg.Runner.Env = []string{helperEnv + "=1", helperModeEnv + "=" + helperMode}
	}
	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	env := make([]string, 0, len(cfg.Runner.Env))
	for _, entry := range cfg.Runner.Env {
		env = append(env, fmt.Sprintf("%q", entry))
	}
	content := fmt.Sprintf(`[runner]
binary = %q
port = %d
startup_timeout = %d
stop_timeout = %d
env = [%s]

[paths]
state_dir = %q

[journal]
enabled = %t
path = %q

[logging]
level = %q
`,
		cfg.Runner.Binary,
		cfg.Runner.Port,
		cfg.Runner.StartupTimeout,
		cfg.Runner.StopTimeout,
		strings.Join(env, ", "),
		cfg.Paths.StateDir,
		cfg.Journal.Enabled,
		cfg.Journal.Path,
		cfg.Logging.Level,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	return runCLIContext(context.Background(), t, args, configPath)
}

func runCLIContext(ctx context.Context, t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
