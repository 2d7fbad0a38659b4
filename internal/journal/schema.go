package journal

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// layoutVersion is stored in the SQLite header's user_version field. A fresh
// database reports 0.
const layoutVersion = 1

// ErrSchemaMismatch is returned by Open for a journal written with another layout.
var ErrSchemaMismatch = errors.New("journal layout version mismatch")

func (s *Store) migrate(ctx context.Context) error {
	var current int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("read journal layout version: %w", err)
	}
	switch current {
	case layoutVersion:
		return nil
	case 0:
		return s.createLayout(ctx)
	default:
		return fmt.Errorf("%w: %s has layout %d, this sonactl writes %d; move the file aside to start a new journal",
			ErrSchemaMismatch, s.path, current, layoutVersion)
	}
}

func (s *Store) createLayout(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin journal layout: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}
	// PRAGMA does not accept bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", layoutVersion)); err != nil {
		return fmt.Errorf("stamp journal layout: %w", err)
	}
	return tx.Commit()
}
