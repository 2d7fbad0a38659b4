//go:build unix

package runner

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

type unixSignaler struct{}

func newSignaler() signaler { return unixSignaler{} }

func (unixSignaler) Terminate(p *os.Process) error { return p.Signal(unix.SIGTERM) }

func (unixSignaler) Kill(p *os.Process) error { return p.Kill() }

// serverProcAttr puts the server in its own process group so a terminal
// Ctrl-C reaches only the supervisor, which then stops the server itself.
func serverProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
