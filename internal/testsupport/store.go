package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"sonactl/internal/config"
	"sonactl/internal/journal"
)

// MustOpenJournal opens a journal.Store for tests and registers cleanup.
func MustOpenJournal(t testing.TB, cfg *config.Config) *journal.Store {
	t.Helper()

	store, err := journal.Open(cfg)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// BeginSession records a running session started at startedAt.
func BeginSession(t testing.TB, store *journal.Store, port int, startedAt time.Time) *journal.Session {
	t.Helper()

	session := &journal.Session{
		ID:            uuid.NewString(),
		Binary:        "/opt/sona/sona",
		RequestedPort: 0,
		Port:          port,
		PID:           4242,
		StartedAt:     startedAt,
	}
	if err := store.Begin(context.Background(), *session); err != nil {
		t.Fatalf("store.Begin: %v", err)
	}
	session.State = journal.OutcomeRunning
	return session
}
