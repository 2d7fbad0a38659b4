package runstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrAlreadyRunning is returned when another supervisor holds the run lock.
	ErrAlreadyRunning = errors.New("another sonactl run is already active")
	// ErrNotRunning is returned when no supervisor holds the run lock.
	ErrNotRunning = errors.New("no active sonactl run")
)

// State describes the server a foreground run is supervising.
type State struct {
	RunID         string    `json:"run_id"`
	SupervisorPID int       `json:"supervisor_pid"`
	ServerPID     int       `json:"server_pid"`
	Port          int       `json:"port"`
	Binary        string    `json:"binary"`
	StartedAt     time.Time `json:"started_at"`
}

// Write stores st at path, replacing any previous file atomically.
func Write(path string, st State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run state: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".sonactl-state-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write run state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close run state: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace run state %q: %w", path, err)
	}
	return nil
}

// Read loads the state file. A missing file yields ErrNotRunning.
func Read(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, ErrNotRunning
		}
		return State{}, fmt.Errorf("read run state %q: %w", path, err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("decode run state %q: %w", path, err)
	}
	return st, nil
}

// Remove deletes the state file; a missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove run state %q: %w", path, err)
	}
	return nil
}
