package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// ExpectedSchemaVersion is the schema version this build writes
const ExpectedSchemaVersion = 2

// Migration is one forward schema step
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial outcome schema",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS match_outcomes (
					id              TEXT PRIMARY KEY,
					batch_id        TEXT NOT NULL,
					ticket_id       TEXT NOT NULL,
					image_id        TEXT NOT NULL DEFAULT '',
					confidence      REAL NOT NULL,
					state           TEXT NOT NULL,
					accepted        INTEGER NOT NULL DEFAULT 0,
					reviewed        INTEGER NOT NULL DEFAULT 0,
					flagged         INTEGER NOT NULL DEFAULT 0,
					reason          TEXT NOT NULL DEFAULT '',
					score_breakdown TEXT NOT NULL DEFAULT '',
					method          TEXT NOT NULL,
					reviewed_by     TEXT,
					reviewed_at     TEXT,
					created_at      TEXT NOT NULL,
					updated_at      TEXT NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_outcomes_state ON match_outcomes(state, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_outcomes_batch ON match_outcomes(batch_id)`,
			)
		},
	},
	{
		Version:     2,
		Description: "One automatic outcome per ticket per batch",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_outcomes_automatic
					ON match_outcomes(batch_id, ticket_id) WHERE method = 'automatic'`,
			)
		},
	},
}

func execAll(tx *sql.Tx, queries ...string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// Migrate applies every pending migration, each in its own transaction
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if current > ExpectedSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, ExpectedSchemaVersion)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := s.apply(ctx, m); err != nil {
			return err
		}
		s.logger.WithField("version", m.Version).Debug("Applied migration: " + m.Description)
	}
	return nil
}

func (s *SQLiteStore) apply(ctx context.Context, m Migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := m.Up(tx); err != nil {
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
	}
	if _, err := tx.Exec(
		`INSERT INTO schema_migrations(version, description, applied_at) VALUES(?, ?, ?)`,
		m.Version, m.Description, formatTime(s.now()),
	); err != nil {
		return fmt.Errorf("record migration %d: %w", m.Version, err)
	}
	return tx.Commit()
}

// SchemaVersion returns the highest applied migration, 0 for a new database
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return int(version.Int64), nil
}
