package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/target/catalog-sync/internal/core"
	"github.com/target/catalog-sync/internal/data/pgxutil"
)

// Advisory lock namespace for reaper operations. Two-arg pg_try_advisory_xact_lock(major, minor)
// keeps concurrent reaper instances from working the same step.
const (
	advisoryLockReaperMajor        = 7341
	advisoryLockReaperFailPending  = 1
	advisoryLockReaperDelete       = 2
	advisoryLockReaperStuckRunning = 3
)

var _ core.ReaperRepository = (*JobRepo)(nil)

// FailStalePendingJobs expires pending jobs that have been eligible for longer than maxAge without
// being claimed. Age counts from scheduled_for, so delayed jobs and retries waiting out their
// backoff are not expired early. Jobs for uninstalled stores are left alone: claim skips them and
// they run again once the store is reinstalled. Returns the number of jobs expired.
func (r *JobRepo) FailStalePendingJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	return r.withReaperLock(ctx, advisoryLockReaperFailPending, func(tx *sql.Tx) (sql.Result, error) {
		now := r.timeProvider.Now().UTC()
		return tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'failed',
			    last_error = 'job timed out in pending status',
			    processed_at = $1,
			    updated_at = $1
			WHERE id IN (
			  SELECT id FROM jobs
			  WHERE status = 'pending'
			    AND GREATEST(created_at, scheduled_for) < $2
			  ORDER BY scheduled_for
			  LIMIT $3
			  FOR UPDATE SKIP LOCKED
			)
		`, now, now.Add(-maxAge), batchSize)
	})
}

// FailStuckRunningJobs applies the failure transition to jobs running longer than maxAge, which
// happens when a worker dies mid-job. They retry unless out of attempts.
func (r *JobRepo) FailStuckRunningJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	return r.withReaperLock(ctx, advisoryLockReaperStuckRunning, func(tx *sql.Tx) (sql.Result, error) {
		now := r.timeProvider.Now().UTC()
		return tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'pending' END,
			    last_error = 'job exceeded running timeout',
			    processed_at = $1,
			    scheduled_for = CASE WHEN attempts >= max_attempts THEN scheduled_for ELSE $1 END,
			    updated_at = $1
			WHERE id IN (
			  SELECT id FROM jobs
			  WHERE status = 'running'
			    AND started_at < $2
			  ORDER BY started_at
			  LIMIT $3
			  FOR UPDATE SKIP LOCKED
			)
		`, now, now.Add(-maxAge), batchSize)
	})
}

// DeleteOldJobs prunes terminal jobs of the given status processed more than MaxAge ago.
func (r *JobRepo) DeleteOldJobs(ctx context.Context, params core.DeleteOldJobsParams) (int64, error) {
	if !params.Status.Terminal() {
		return 0, fmt.Errorf("refusing to delete jobs in non-terminal status %q", params.Status)
	}
	return r.withReaperLock(ctx, advisoryLockReaperDelete, func(tx *sql.Tx) (sql.Result, error) {
		cutoff := r.timeProvider.Now().Add(-params.MaxAge).UTC()
		return tx.ExecContext(ctx, `
			DELETE FROM jobs
			WHERE id IN (
			  SELECT id FROM jobs
			  WHERE status = $1
			    AND COALESCE(processed_at, updated_at) < $2
			  ORDER BY COALESCE(processed_at, updated_at)
			  LIMIT $3
			)
		`, params.Status, cutoff, params.BatchSize)
	})
}

// withReaperLock runs fn in a transaction holding the given reaper advisory lock. When another
// instance holds the lock the step is skipped and 0 is returned.
func (r *JobRepo) withReaperLock(
	ctx context.Context,
	minor int,
	fn func(tx *sql.Tx) (sql.Result, error),
) (int64, error) {
	var affected int64
	err := pgxutil.InSQLTx(ctx, r.DB, func(tx *sql.Tx) error {
		var locked bool
		if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)",
			advisoryLockReaperMajor, minor).Scan(&locked); err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}
		if !locked {
			return nil
		}
		res, err := fn(tx)
		if err != nil {
			return fmt.Errorf("reaper step %d: %w", minor, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		affected = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}
