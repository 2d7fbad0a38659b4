package runner

import (
	"errors"
	"fmt"
)

var (
	// ErrPrematureExit is returned when the server closes stdout before announcing readiness.
	ErrPrematureExit = errors.New("sona exited before ready signal")
	// ErrUnexpectedReadySignal is returned when the readiness line is malformed or not "ready".
	ErrUnexpectedReadySignal = errors.New("unexpected ready signal")
	// ErrStartupTimeout is returned when no readiness line arrives within Options.StartupTimeout.
	ErrStartupTimeout = errors.New("timed out waiting for ready signal")
	// ErrAlreadyStarted is returned when Start is called on a used Runner.
	ErrAlreadyStarted = errors.New("runner already started")
)

// StartError carries the failure kind and the diagnostic text that explains it:
// captured stderr for ErrPrematureExit, the raw line for ErrUnexpectedReadySignal.
type StartError struct {
	Kind   error
	Detail string
	Err    error
}

func (e *StartError) Error() string {
	msg := e.Kind.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Err)
	}
	return msg
}

func (e *StartError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
