package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/target/catalog-sync/internal/core"
	"github.com/target/catalog-sync/internal/data/pgxutil"
	"github.com/target/catalog-sync/internal/domain/model"
	apperrors "github.com/target/catalog-sync/internal/errors"
)

var _ core.JobRepository = (*JobRepo)(nil)

// claimNextSQL moves the oldest eligible pending job to running in one statement. Row locks
// with SKIP LOCKED guarantee concurrent claimers never receive the same job. Jobs for
// uninstalled stores are not eligible.
var claimNextSQL = `
  WITH next AS (
    SELECT j.id
    FROM jobs j
    JOIN stores s ON s.domain = j.target_store
    WHERE j.status = 'pending'
      AND j.scheduled_for <= $1
      AND j.attempts < j.max_attempts
      AND s.installed
    ORDER BY j.priority ASC, j.created_at ASC
    LIMIT 1
    FOR UPDATE OF j SKIP LOCKED
  )
  UPDATE jobs j
  SET status = 'running',
      attempts = j.attempts + 1,
      started_at = $1,
      updated_at = $1
  FROM next
  WHERE j.id = next.id
  RETURNING ` + qualifiedJobColumns("j")

// Enqueue inserts a pending job and signals the queue channel in the same transaction.
func (r *JobRepo) Enqueue(ctx context.Context, req *model.EnqueueRequest) (*model.Job, error) {
	if req == nil {
		return nil, apperrors.Validation("enqueue request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = r.maxAttempts()
	}
	now := r.timeProvider.Now().UTC()
	scheduledFor := now
	if req.ScheduledFor != nil {
		scheduledFor = req.ScheduledFor.UTC()
	}

	var job *model.Job
	txErr := pgxutil.InTx(ctx, r.DB, func(tx pgx.Tx) error {
		rows, qerr := tx.Query(ctx, `
			INSERT INTO jobs (id, type, target_store, status, priority, payload, attempts, max_attempts,
			                  scheduled_for, created_at, updated_at)
			VALUES ($1, $2, $3, 'pending', $4, $5, 0, $6, $7, $8, $8)
			RETURNING `+jobColumns,
			model.NewJobID(), req.Type, req.TargetStore, req.Priority, payload, maxAttempts, scheduledFor, now)
		if qerr != nil {
			return qerr
		}
		j, cerr := collectOneJob(rows)
		if cerr != nil {
			return cerr
		}
		if _, nerr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, r.cfg.Channel, j.ID); nerr != nil {
			return fmt.Errorf("send job notification: %w", nerr)
		}
		job = j
		return nil
	})
	if txErr != nil {
		return nil, apperrors.MapDBError(txErr)
	}
	return job, nil
}

// ClaimNext atomically claims one eligible job. Returns model.ErrNoJobsAvailable when none is.
func (r *JobRepo) ClaimNext(ctx context.Context) (*model.Job, error) {
	now := r.timeProvider.Now().UTC()

	var job *model.Job
	err := pgxutil.InTx(ctx, r.DB, func(tx pgx.Tx) error {
		rows, qerr := tx.Query(ctx, claimNextSQL, now)
		if qerr != nil {
			return fmt.Errorf("claim job: %w", qerr)
		}
		j, cerr := collectOneJob(rows)
		if errors.Is(cerr, pgx.ErrNoRows) {
			return model.ErrNoJobsAvailable
		}
		if cerr != nil {
			return fmt.Errorf("claim job: %w", cerr)
		}
		job = j
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, err
	}
	return job, nil
}

// Complete marks a running job completed. It reports false when the job was not running.
func (r *JobRepo) Complete(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed',
		    processed_at = $2,
		    updated_at = $2,
		    last_error = NULL
		WHERE id = $1 AND status = 'running'
	`, id, now)
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete job rows affected: %w", err)
	}
	return n > 0, nil
}

// Fail records a failed attempt of a running job. The job returns to pending, eligible again after
// the retry delay, unless it has used all of its attempts, in which case it becomes failed for good.
// The resulting status is returned, or "" when the job was not running.
func (r *JobRepo) Fail(ctx context.Context, id, errMsg string) (model.JobStatus, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", nil
	}
	now := r.timeProvider.Now().UTC()
	retryAt := now.Add(r.cfg.RetryDelay)

	var status model.JobStatus
	err := r.DB.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'pending' END,
		    last_error = $2,
		    processed_at = $3,
		    updated_at = $3,
		    scheduled_for = CASE WHEN attempts >= max_attempts THEN scheduled_for ELSE $4 END
		WHERE id = $1 AND status = 'running'
		RETURNING status
	`, id, truncateError(errMsg), now, retryAt).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("fail job: %w", err)
	}
	r.logger.DebugContext(ctx, "job attempt failed", "job_id", id, "status", status)
	return status, nil
}

// FailPermanent moves a running job straight to failed regardless of remaining attempts. It is for
// causes a retry cannot fix. Returns "" when the job was not running.
func (r *JobRepo) FailPermanent(ctx context.Context, id, errMsg string) (model.JobStatus, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", nil
	}
	now := r.timeProvider.Now().UTC()

	var status model.JobStatus
	err := r.DB.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = 'failed',
		    last_error = $2,
		    processed_at = $3,
		    updated_at = $3
		WHERE id = $1 AND status = 'running'
		RETURNING status
	`, id, truncateError(errMsg), now).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("fail job permanently: %w", err)
	}
	r.logger.DebugContext(ctx, "job failed without retry", "job_id", id)
	return status, nil
}

// GetByID returns a job or a NotFound error.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}
	row := r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("get job: %w", err))
	}
	return job, nil
}

// List returns jobs matching opts, newest first.
func (r *JobRepo) List(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	query, args := buildJobListQuery(opts)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	jobs := make([]*model.Job, 0)
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func buildJobListQuery(opts model.JobListOptions) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if opts.Status != nil {
		add("status = $%d", *opts.Status)
	}
	if opts.Type != nil {
		add("type = $%d", *opts.Type)
	}
	if store := model.NormalizeDomain(opts.TargetStore); store != "" {
		add("target_store = $%d", store)
	}

	limit := opts.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := max(opts.Offset, 0)

	var b strings.Builder
	b.WriteString("SELECT " + jobColumns + " FROM jobs")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	args = append(args, limit, offset)
	fmt.Fprintf(&b, " ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	return b.String(), args
}

// Stats returns queue counts per status.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
		SELECT
		  count(*) FILTER (WHERE status = 'pending')   AS pending,
		  count(*) FILTER (WHERE status = 'running')   AS running,
		  count(*) FILTER (WHERE status = 'completed') AS completed,
		  count(*) FILTER (WHERE status = 'failed')    AS failed
		FROM jobs
	`).Scan(&s.Pending, &s.Running, &s.Completed, &s.Failed)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return &s, nil
}

// WaitForNotification blocks until a job is enqueued or ctx is done.
func (r *JobRepo) WaitForNotification(ctx context.Context) error {
	channel := pgx.Identifier{r.cfg.Channel}.Sanitize()
	return pgxutil.WithConn(ctx, r.DB, func(conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
			return fmt.Errorf("listen %s: %w", r.cfg.Channel, err)
		}
		defer func() {
			_, _ = conn.Exec(context.WithoutCancel(ctx), "UNLISTEN "+channel)
		}()
		_, err := conn.WaitForNotification(ctx)
		return err
	})
}

func (r *JobRepo) maxAttempts() int {
	if r.cfg.MaxAttempts > 0 {
		return r.cfg.MaxAttempts
	}
	return model.DefaultMaxAttempts
}

const maxErrorLength = 4000

func truncateError(msg string) string {
	msg = strings.TrimSpace(msg)
	if len(msg) <= maxErrorLength {
		return msg
	}
	return msg[:maxErrorLength]
}
