// Package storage persists match outcomes in SQLite.
package storage

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"ticket-reconciliation-service/internal/models"
	"ticket-reconciliation-service/internal/triage"
	"ticket-reconciliation-service/pkg/errors"
	"ticket-reconciliation-service/pkg/logger"
)

const timeLayout = time.RFC3339Nano

const outcomeColumns = `id, batch_id, ticket_id, image_id, confidence, state, accepted, reviewed,
	flagged, reason, score_breakdown, method, reviewed_by, reviewed_at, created_at, updated_at`

var _ triage.Repository = (*SQLiteStore)(nil)

// SQLiteStore implements triage.Repository on a single SQLite connection
type SQLiteStore struct {
	db     *sql.DB
	path   string
	now    func() time.Time
	logger logger.Logger
}

// Open opens or creates the database at path and migrates it
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "db_path", path, nil)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, errors.StorageError(errors.CodeStorageFailed, "create database directory", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailed, "open database", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.StorageError(errors.CodeStorageFailed, "ping database", err)
	}

	s := &SQLiteStore{
		db:     db,
		path:   path,
		now:    time.Now,
		logger: logger.GetGlobalLogger().WithComponent("storage"),
	}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, errors.StorageError(errors.CodeStorageFailed, "migrate database", err)
	}

	s.logger.WithField("path", path).Debug("Opened outcome store")
	return s, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *SQLiteStore) Path() string {
	return s.path
}

// SaveOutcomes inserts all outcomes in one transaction
func (s *SQLiteStore) SaveOutcomes(ctx context.Context, outcomes []*models.MatchOutcome) error {
	for _, o := range outcomes {
		if err := o.Validate(); err != nil {
			return errors.StorageError(errors.CodeStorageFailed, "save outcomes", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StorageError(errors.CodeStorageFailed, "save outcomes", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO match_outcomes (`+outcomeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.StorageError(errors.CodeStorageFailed, "save outcomes", err)
	}
	defer stmt.Close()

	for _, o := range outcomes {
		if _, err := stmt.ExecContext(ctx, outcomeArgs(o)...); err != nil {
			if isConstraint(err) {
				err = fmt.Errorf("outcome %s for ticket %s in batch %s conflicts with a stored outcome: %w",
					o.ID, o.TicketID, o.BatchID, err)
			}
			return errors.StorageError(errors.CodeStorageFailed, "save outcomes", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.StorageError(errors.CodeStorageFailed, "save outcomes", err)
	}

	s.logger.WithField("count", len(outcomes)).Debug("Saved outcomes")
	return nil
}

// Get returns one outcome by ID
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.MatchOutcome, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+outcomeColumns+` FROM match_outcomes WHERE id = ?`, id)
	o, err := scanOutcome(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.StorageError(errors.CodeNotFound, "outcome "+id, nil)
	}
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailed, "get outcome", err)
	}
	return o, nil
}

// Update rewrites the mutable fields of a stored outcome
func (s *SQLiteStore) Update(ctx context.Context, o *models.MatchOutcome) error {
	if err := o.Validate(); err != nil {
		return errors.StorageError(errors.CodeStorageFailed, "update outcome", err)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE match_outcomes SET
			image_id = ?, confidence = ?, state = ?, accepted = ?, reviewed = ?, flagged = ?,
			reason = ?, score_breakdown = ?, method = ?, reviewed_by = ?, reviewed_at = ?, updated_at = ?
		WHERE id = ?`,
		o.ImageID, o.Confidence, string(o.State), o.Accepted, o.Reviewed, o.Flagged,
		o.Reason, o.ScoreBreakdown, string(o.Method), nullString(o.ReviewedBy), nullTime(o.ReviewedAt),
		formatTime(o.UpdatedAt), o.ID,
	)
	if err != nil {
		return errors.StorageError(errors.CodeStorageFailed, "update outcome", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.StorageError(errors.CodeStorageFailed, "update outcome", err)
	}
	if n == 0 {
		return errors.StorageError(errors.CodeNotFound, "outcome "+o.ID, nil)
	}
	return nil
}

// ListByState returns outcomes in a state, oldest first
func (s *SQLiteStore) ListByState(ctx context.Context, state models.MatchState) ([]*models.MatchOutcome, error) {
	return s.list(ctx, "list outcomes by state",
		`SELECT `+outcomeColumns+` FROM match_outcomes WHERE state = ? ORDER BY created_at, id`, string(state))
}

// ListByBatch returns the outcomes of one batch, oldest first
func (s *SQLiteStore) ListByBatch(ctx context.Context, batchID string) ([]*models.MatchOutcome, error) {
	return s.list(ctx, "list outcomes by batch",
		`SELECT `+outcomeColumns+` FROM match_outcomes WHERE batch_id = ? ORDER BY created_at, id`, batchID)
}

func (s *SQLiteStore) list(ctx context.Context, op, query string, args ...interface{}) ([]*models.MatchOutcome, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailed, op, err)
	}
	defer rows.Close()

	var outcomes []*models.MatchOutcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, errors.StorageError(errors.CodeStorageFailed, op, err)
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailed, op, err)
	}

	// RFC3339Nano text does not sort chronologically across fractional seconds
	triage.SortOldestFirst(outcomes)
	return outcomes, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOutcome(row scanner) (*models.MatchOutcome, error) {
	var (
		o                    models.MatchOutcome
		state, method        string
		reviewedBy           sql.NullString
		reviewedAt           sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&o.ID, &o.BatchID, &o.TicketID, &o.ImageID, &o.Confidence, &state, &o.Accepted, &o.Reviewed,
		&o.Flagged, &o.Reason, &o.ScoreBreakdown, &method, &reviewedBy, &reviewedAt, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if o.State, err = models.ParseMatchState(state); err != nil {
		return nil, err
	}
	o.Method = models.MatchMethod(method)
	if reviewedBy.Valid {
		o.ReviewedBy = models.Some(reviewedBy.String)
	}
	if reviewedAt.Valid {
		t, err := time.Parse(timeLayout, reviewedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse reviewed_at: %w", err)
		}
		o.ReviewedAt = models.Some(t)
	}
	if o.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if o.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &o, nil
}

func outcomeArgs(o *models.MatchOutcome) []interface{} {
	return []interface{}{
		o.ID, o.BatchID, o.TicketID, o.ImageID, o.Confidence, string(o.State), o.Accepted, o.Reviewed,
		o.Flagged, o.Reason, o.ScoreBreakdown, string(o.Method), nullString(o.ReviewedBy), nullTime(o.ReviewedAt),
		formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullString(v models.Option[string]) sql.NullString {
	s, ok := v.Get()
	return sql.NullString{String: s, Valid: ok}
}

func nullTime(v models.Option[time.Time]) sql.NullString {
	t, ok := v.Get()
	if !ok {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func isConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	return stderrors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}
