package db

import (
	"context"
	"fmt"
	"time"
)

// CleanupResult describes one retention pass.
type CleanupResult struct {
	RunsDeleted int64
	Duration    time.Duration
}

// Prune deletes runs that started more than retentionDays ago and vacuums
// the file. retentionDays of 0 deletes everything.
//
// Example:
//
//	result, err := database.Prune(ctx, 30)
func (d *Database) Prune(ctx context.Context, retentionDays int) (CleanupResult, error) {
	start := time.Now()
	var result CleanupResult

	if retentionDays < 0 {
		return result, fmt.Errorf("retentionDays must be non-negative, got %d", retentionDays)
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	if retentionDays == 0 {
		cutoff = time.Now().UTC().Add(time.Second)
	}

	res, err := d.exec(ctx, "DELETE FROM book_runs WHERE started_at < ?", cutoff)
	if err != nil {
		return result, fmt.Errorf("failed to prune run history: %w", err)
	}
	result.RunsDeleted, _ = res.RowsAffected()

	if result.RunsDeleted > 0 {
		if _, err := d.exec(ctx, "VACUUM"); err != nil {
			return result, fmt.Errorf("failed to vacuum database: %w", err)
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}
