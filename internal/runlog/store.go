// Package runlog persists sync pass reports to a local SQLite database so
// past runs and their per-item failures can be inspected after the fact.
package runlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/tonimelisma/listsync/internal/sync"
)

// ErrRunNotFound is returned when a run ID is not in the ledger.
var ErrRunNotFound = errors.New("runlog: run not found")

const (
	sqlInsertRun = `INSERT INTO runs
		(id, started_at, duration_ms, source, destination, mode, dry_run,
		 planned_inserts, planned_updates, planned_closes,
		 inserted, updated, closed, suppressed, failed,
		 attachments_uploaded, attachments_deleted, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlInsertFailure = `INSERT INTO run_failures (run_id, seq, item_key, operation, error)
		VALUES (?, ?, ?, ?, ?)`

	sqlSelectRuns = `SELECT id, started_at, duration_ms, source, destination, mode, dry_run,
		planned_inserts, planned_updates, planned_closes,
		inserted, updated, closed, suppressed, failed,
		attachments_uploaded, attachments_deleted, error
		FROM runs`

	sqlRecentRuns = sqlSelectRuns + ` ORDER BY started_at DESC, id LIMIT ?`

	sqlGetRun = sqlSelectRuns + ` WHERE id = ?`

	sqlRunFailures = `SELECT item_key, operation, error FROM run_failures
		WHERE run_id = ? ORDER BY seq`

	sqlPruneRuns = `DELETE FROM runs WHERE id NOT IN
		(SELECT id FROM runs ORDER BY started_at DESC, id LIMIT ?)`
)

// Run is one row of the ledger.
type Run struct {
	ID             string        `json:"id"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration_ns"`
	Source         string        `json:"source"`
	Destination    string        `json:"destination"`
	Mode           string        `json:"mode"`
	DryRun         bool          `json:"dry_run"`
	PlannedInserts int           `json:"planned_inserts"`
	PlannedUpdates int           `json:"planned_updates"`
	PlannedCloses  int           `json:"planned_closes"`
	Inserted       int           `json:"inserted"`
	Updated        int           `json:"updated"`
	Closed         int           `json:"closed"`
	Suppressed     int           `json:"suppressed"`
	Failed         int           `json:"failed"`
	AttUploaded    int           `json:"attachments_uploaded"`
	AttDeleted     int           `json:"attachments_deleted"`
	Error          string        `json:"error,omitempty"` // empty unless the run was aborted
}

// Failure is one item-scoped failure of a run.
type Failure struct {
	Key       string `json:"key"`
	Operation string `json:"operation"`
	Error     string `json:"error"`
}

// Store is the run ledger. It is the sole writer of its database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the ledger at path and applies pending
// migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("runlog: opening %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun stores a finished report with its failures in one transaction.
// It satisfies sync.Recorder.
func (s *Store) RecordRun(ctx context.Context, r *sync.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("runlog: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var runErr sql.NullString
	if r.Err != nil {
		runErr = sql.NullString{String: r.Err.Error(), Valid: true}
	}

	_, err = tx.ExecContext(ctx, sqlInsertRun,
		r.RunID, r.StartedAt.UnixNano(), r.Duration.Milliseconds(),
		r.Source, r.Destination, string(r.Mode), r.DryRun,
		r.PlannedInserts, r.PlannedUpdates, r.PlannedCloses,
		r.Inserted, r.Updated, r.Closed, r.Suppressed, r.Failed(),
		r.Attachments.Uploaded, r.Attachments.Deleted, runErr,
	)
	if err != nil {
		return fmt.Errorf("runlog: inserting run %s: %w", r.RunID, err)
	}

	for i, f := range r.Failures {
		msg := ""
		if f.Err != nil {
			msg = f.Err.Error()
		}

		if _, err := tx.ExecContext(ctx, sqlInsertFailure, r.RunID, i, f.Key, f.Operation, msg); err != nil {
			return fmt.Errorf("runlog: inserting failure of run %s: %w", r.RunID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("runlog: commit: %w", err)
	}

	s.logger.Debug("run recorded",
		slog.String("run_id", r.RunID),
		slog.Int("failures", len(r.Failures)),
	)

	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, sqlRecentRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("runlog: querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runlog: iterating runs: %w", err)
	}

	return runs, nil
}

// Get returns one run by ID.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, sqlGetRun, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}

	return run, err
}

// Failures returns the failures of a run in the order they happened.
func (s *Store) Failures(ctx context.Context, runID string) ([]Failure, error) {
	if _, err := s.Get(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, sqlRunFailures, runID)
	if err != nil {
		return nil, fmt.Errorf("runlog: querying failures: %w", err)
	}
	defer rows.Close()

	var out []Failure

	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.Key, &f.Operation, &f.Error); err != nil {
			return nil, fmt.Errorf("runlog: scanning failure: %w", err)
		}

		out = append(out, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runlog: iterating failures: %w", err)
	}

	return out, nil
}

// Prune keeps the newest keep runs and deletes the rest with their
// failures. keep <= 0 disables pruning.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, sqlPruneRuns, keep)
	if err != nil {
		return 0, fmt.Errorf("runlog: pruning: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("runlog: pruning: %w", err)
	}

	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r          Run
		startedAt  int64
		durationMS int64
		runErr     sql.NullString
	)

	err := row.Scan(
		&r.ID, &startedAt, &durationMS, &r.Source, &r.Destination, &r.Mode, &r.DryRun,
		&r.PlannedInserts, &r.PlannedUpdates, &r.PlannedCloses,
		&r.Inserted, &r.Updated, &r.Closed, &r.Suppressed, &r.Failed,
		&r.AttUploaded, &r.AttDeleted, &runErr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, err
	}

	if err != nil {
		return Run{}, fmt.Errorf("runlog: scanning run: %w", err)
	}

	r.StartedAt = time.Unix(0, startedAt).UTC()
	r.Duration = time.Duration(durationMS) * time.Millisecond
	r.Error = runErr.String

	return r, nil
}
