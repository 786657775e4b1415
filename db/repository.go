package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dreamlines/book"
)

// DefaultHistoryLimit is used by RecentRuns when limit is not positive.
const DefaultHistoryLimit = 20

// RunRecord is one row of the book_runs table. Page images are never stored.
type RunRecord struct {
	ID           int64
	RunID        string
	Theme        string
	Recipient    string
	Quality      string
	Status       string
	Pages        int
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   time.Time
	DurationMS   int64
}

// Duration returns DurationMS as a time.Duration.
func (r RunRecord) Duration() time.Duration {
	return time.Duration(r.DurationMS) * time.Millisecond
}

// NewRunRecord projects a finished run onto its audit row.
func NewRunRecord(run book.Run) RunRecord {
	return RunRecord{
		RunID:        run.ID,
		Theme:        run.Request.Theme,
		Recipient:    run.Request.RecipientName,
		Quality:      string(run.Request.Quality),
		Status:       string(run.Status),
		Pages:        len(run.Pages),
		ErrorMessage: run.Error,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
		DurationMS:   run.Duration().Milliseconds(),
	}
}

// Repository reads and writes the book_runs table.
type Repository struct {
	db *Database
}

var _ book.Recorder = (*Repository)(nil)

// NewRepository wraps an open Database.
func NewRepository(database *Database) *Repository {
	return &Repository{db: database}
}

// RecordRun stores the outcome of a finished run. A run ID that is already
// present is replaced.
func (r *Repository) RecordRun(ctx context.Context, run book.Run) error {
	if r.db == nil {
		return ErrClosed
	}
	return r.Insert(ctx, NewRunRecord(run))
}

// Insert writes rec.
func (r *Repository) Insert(ctx context.Context, rec RunRecord) error {
	const query = `
		INSERT OR REPLACE INTO book_runs (
			run_id, theme, recipient, quality, status, pages,
			error_message, started_at, finished_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.exec(ctx, query,
		rec.RunID,
		rec.Theme,
		rec.Recipient,
		rec.Quality,
		rec.Status,
		rec.Pages,
		nullString(rec.ErrorMessage),
		rec.StartedAt.UTC(),
		nullTime(rec.FinishedAt),
		rec.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", rec.RunID, err)
	}
	return nil
}

// RecentRuns returns up to limit rows, newest first.
func (r *Repository) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	const query = `
		SELECT id, run_id, theme, recipient, quality, status, pages,
			error_message, started_at, finished_at, duration_ms
		FROM book_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?`

	rows, err := r.db.query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query run history: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var (
			rec      RunRecord
			errMsg   sql.NullString
			finished sql.NullTime
		)
		if err := rows.Scan(
			&rec.ID, &rec.RunID, &rec.Theme, &rec.Recipient, &rec.Quality,
			&rec.Status, &rec.Pages, &errMsg, &rec.StartedAt, &finished, &rec.DurationMS,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run history: %w", err)
		}
		rec.ErrorMessage = errMsg.String
		if finished.Valid {
			rec.FinishedAt = finished.Time
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read run history: %w", err)
	}
	return records, nil
}

// CountRuns returns the number of recorded runs.
func (r *Repository) CountRuns(ctx context.Context) (int64, error) {
	rows, err := r.db.query(ctx, "SELECT COUNT(*) FROM book_runs")
	if err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	defer rows.Close()

	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("failed to count runs: %w", err)
		}
	}
	return n, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
