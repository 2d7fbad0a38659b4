package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Outcome is the recorded end state of a session.
type Outcome string

const (
	OutcomeRunning Outcome = "running"
	OutcomeStopped Outcome = "stopped"
	OutcomeExited  Outcome = "exited"
	OutcomeFailed  Outcome = "failed"
)

// Session is one supervised launch.
type Session struct {
	ID            string  `json:"id"`
	Binary        string  `json:"binary"`
	RequestedPort int     `json:"requested_port"`
	Port          int     `json:"port"`
	PID           int     `json:"pid"`
	State         Outcome `json:"state"`
	// ExitCode is nil until the session finishes with a known code.
	ExitCode   *int       `json:"exit_code,omitempty"`
	Detail     string     `json:"detail,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Duration returns how long the session ran, measured to now while it is open.
func (s Session) Duration() time.Duration {
	end := time.Now()
	if s.FinishedAt != nil {
		end = *s.FinishedAt
	}
	return end.Sub(s.StartedAt)
}

// Finish describes how a session ended.
type Finish struct {
	State    Outcome
	Port     int
	PID      int
	ExitCode *int
	Detail   string
}

const sessionColumns = "id, binary_path, requested_port, port, pid, state, exit_code, detail, started_at, finished_at"

// Begin records a launched session in the running state.
func (s *Store) Begin(ctx context.Context, session Session) error {
	if strings.TrimSpace(session.ID) == "" {
		return errors.New("session id is required")
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now()
	}
	if session.State == "" {
		session.State = OutcomeRunning
	}
	_, err := s.exec(ctx,
		`INSERT INTO sessions (id, binary_path, requested_port, port, pid, state, detail, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.Binary,
		session.RequestedPort,
		session.Port,
		session.PID,
		string(session.State),
		nullableString(session.Detail),
		formatTime(session.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", session.ID, err)
	}
	return nil
}

// Finish closes an open session. Port and PID overwrite the recorded values
// when non-zero.
func (s *Store) Finish(ctx context.Context, id string, fin Finish) error {
	res, err := s.exec(ctx,
		`UPDATE sessions
		 SET state = ?,
		     port = CASE WHEN ? > 0 THEN ? ELSE port END,
		     pid = CASE WHEN ? > 0 THEN ? ELSE pid END,
		     exit_code = ?,
		     detail = COALESCE(?, detail),
		     finished_at = ?
		 WHERE id = ?`,
		string(fin.State),
		fin.Port, fin.Port,
		fin.PID, fin.PID,
		nullableInt(fin.ExitCode),
		nullableString(fin.Detail),
		formatTime(time.Now()),
		id,
	)
	if err != nil {
		return fmt.Errorf("finish session %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish session %s: %w", id, ErrNotFound)
	}
	return nil
}

// Get returns one session by id.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return session, nil
}

// List returns up to limit sessions, newest first. A limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]*Session, error) {
	query := "SELECT " + sessionColumns + " FROM sessions ORDER BY started_at DESC, rowid DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// MarkAbandoned closes sessions left running by a supervisor that died
// without recording an outcome.
func (s *Store) MarkAbandoned(ctx context.Context, keepID string) (int64, error) {
	res, err := s.exec(ctx,
		`UPDATE sessions SET state = ?, detail = COALESCE(detail, 'supervisor exited without recording an outcome'), finished_at = ?
		 WHERE state = ? AND id != ?`,
		string(OutcomeFailed),
		formatTime(time.Now()),
		string(OutcomeRunning),
		keepID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark abandoned sessions: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes every session and returns how many were deleted.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, "DELETE FROM sessions")
	if err != nil {
		return 0, fmt.Errorf("clear sessions: %w", err)
	}
	return res.RowsAffected()
}

func scanSession(scanner interface{ Scan(dest ...any) error }) (*Session, error) {
	var (
		session     Session
		state       string
		exitCode    sql.NullInt64
		detail      sql.NullString
		startedRaw  string
		finishedRaw sql.NullString
	)
	if err := scanner.Scan(
		&session.ID,
		&session.Binary,
		&session.RequestedPort,
		&session.Port,
		&session.PID,
		&state,
		&exitCode,
		&detail,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	session.State = Outcome(state)
	if exitCode.Valid {
		code := int(exitCode.Int64)
		session.ExitCode = &code
	}
	session.Detail = detail.String
	started, err := parseTimeString(startedRaw)
	if err != nil {
		return nil, fmt.Errorf("parse started_at %q: %w", startedRaw, err)
	}
	session.StartedAt = started
	if finishedRaw.Valid && finishedRaw.String != "" {
		finished, err := parseTimeString(finishedRaw.String)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at %q: %w", finishedRaw.String, err)
		}
		session.FinishedAt = &finished
	}
	return &session, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullableInt(value *int) any {
	if value == nil {
		return nil
	}
	return *value
}

// Fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
