package runstate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const pollInterval = 200 * time.Millisecond

// Lock is the held run lock.
type Lock struct {
	path string
	lock *flock.Flock
}

// Acquire takes the run lock without blocking.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}
	return &Lock{path: path, lock: fl}, nil
}

// Claim takes the run lock and records the caller as the supervisor right
// away, replacing any state file a crashed run left behind. st carries no
// server pid or port until the server is ready; a zero SupervisorPID is
// filled with the current process.
func Claim(lockPath, statePath string, st State) (*Lock, error) {
	lock, err := Acquire(lockPath)
	if err != nil {
		return nil, err
	}
	if st.SupervisorPID <= 0 {
		st.SupervisorPID = os.Getpid()
	}
	if err := Write(statePath, st); err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("record supervisor: %w", err)
	}
	return lock, nil
}

func (l *Lock) Path() string { return l.path }

// Release unlocks. The lock file stays so its inode is stable for other probes.
func (l *Lock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("release lock %q: %w", l.path, err)
	}
	return nil
}

// Held reports whether some supervisor currently holds the lock at path.
func Held(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat lock %q: %w", path, err)
	}
	probe := flock.New(path)
	ok, err := probe.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe lock %q: %w", path, err)
	}
	if ok {
		_ = probe.Unlock()
		return false, nil
	}
	return true, nil
}

// WaitReleased polls until the lock is free or ctx ends.
func WaitReleased(ctx context.Context, path string) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		held, err := Held(path)
		if err != nil {
			return err
		}
		if !held {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("supervisor did not stop: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
