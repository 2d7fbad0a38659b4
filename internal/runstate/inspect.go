package runstate

import (
	"errors"
	"fmt"
	"os"
)

// Status is the combined view of lock, state file and process liveness.
type Status struct {
	Active bool
	// Stale is set when a state file exists but nobody holds the lock.
	Stale       bool
	State       State
	ServerAlive bool
}

// Inspect reports whether a foreground run is active and what it supervises.
func Inspect(statePath, lockPath string) (Status, error) {
	held, err := Held(lockPath)
	if err != nil {
		return Status{}, err
	}
	st, err := Read(statePath)
	switch {
	case errors.Is(err, ErrNotRunning):
		return Status{Active: held}, nil
	case err != nil:
		return Status{Active: held}, err
	}
	status := Status{Active: held, Stale: !held, State: st}
	if held && st.ServerPID > 0 {
		status.ServerAlive = ProcessAlive(st.ServerPID)
	}
	return status, nil
}

// SignalSupervisor asks the active supervisor to shut its server down and
// returns the state it was running with.
func SignalSupervisor(statePath, lockPath string) (State, error) {
	status, err := Inspect(statePath, lockPath)
	if err != nil {
		return State{}, err
	}
	if !status.Active {
		return State{}, ErrNotRunning
	}
	pid := status.State.SupervisorPID
	if pid <= 0 {
		return State{}, fmt.Errorf("unable to determine supervisor pid (state file: %s)", statePath)
	}
	if pid == os.Getpid() {
		return State{}, fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}
	if err := terminate(pid); err != nil {
		return State{}, fmt.Errorf("signal supervisor %d: %w", pid, err)
	}
	return status.State, nil
}
