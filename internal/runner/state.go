package runner

// State is the lifecycle position of a Runner.
type State string

const (
	StateNotStarted State = "not_started"
	StateStarting   State = "starting"
	StateReady      State = "ready"
	StateFailed     State = "failed"
	StateStopped    State = "stopped"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateStopped
}

// StopResult describes how Stop concluded. It is informational; Stop never fails.
type StopResult struct {
	// AlreadyExited is set when there was no live process to stop.
	AlreadyExited bool
	// Graceful is set when the child exited after the polite request.
	Graceful bool
	// ForcedKill is set when the grace period lapsed and the child was killed.
	ForcedKill bool
}
