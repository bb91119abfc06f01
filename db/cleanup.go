package db

import (
	"context"
	"fmt"
	"time"
)

// CleanupResult reports what a retention pass removed.
type CleanupResult struct {
	RunsDeleted    int64
	OutputsDeleted int64
	Duration       time.Duration
}

// Cleanup deletes runs started more than retentionDays ago, together with
// their output records, then vacuums the file. Image files on disk are
// left alone. Deletion is atomic; a VACUUM failure is reported after the
// rows are already gone.
func (d *Database) Cleanup(ctx context.Context, retentionDays int) (CleanupResult, error) {
	start := time.Now()
	var result CleanupResult

	if retentionDays < 0 {
		return result, fmt.Errorf("db: retention days must be non-negative, got %d", retentionDays)
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return result, ErrClosed
	}

	cutoff := formatTime(time.Now().AddDate(0, 0, -retentionDays))

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("db: begin cleanup: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM run_outputs WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`, cutoff)
	if err != nil {
		return result, fmt.Errorf("db: delete run outputs: %w", err)
	}
	result.OutputsDeleted, _ = res.RowsAffected()

	res, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return result, fmt.Errorf("db: delete runs: %w", err)
	}
	result.RunsDeleted, _ = res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("db: commit cleanup: %w", err)
	}

	if _, err := d.db.ExecContext(ctx, "VACUUM"); err != nil {
		result.Duration = time.Since(start)
		return result, fmt.Errorf("db: cleanup succeeded but VACUUM failed: %w", err)
	}

	result.Duration = time.Since(start)
	return result, nil
}

// StartCleanupScheduler runs Cleanup immediately and then every interval
// until ctx is cancelled. onCleanup, when non-nil, receives each outcome.
func (d *Database) StartCleanupScheduler(ctx context.Context, retentionDays int, interval time.Duration, onCleanup func(CleanupResult, error)) {
	run := func() {
		result, err := d.Cleanup(ctx, retentionDays)
		if onCleanup != nil && ctx.Err() == nil {
			onCleanup(result, err)
		}
	}

	go func() {
		run()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}
