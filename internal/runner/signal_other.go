//go:build !unix

package runner

import (
	"os"
	"syscall"
)

// Without SIGTERM the nearest polite request is process termination itself.
type killSignaler struct{}

func newSignaler() signaler { return killSignaler{} }

func (killSignaler) Terminate(p *os.Process) error { return p.Kill() }

func (killSignaler) Kill(p *os.Process) error { return p.Kill() }

func serverProcAttr() *syscall.SysProcAttr { return nil }
