package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/ronittamrakar/jobqueue/internal/state"
	"github.com/ronittamrakar/jobqueue/internal/store"
	"github.com/ronittamrakar/jobqueue/types"
)

var _ store.JobStore = (*PostgresJobStore)(nil)

const jobColumns = `id, tenant_id, job_type, job_key, payload, status, scheduled_at, priority,
	attempts, max_attempts, locked_by, locked_at, started_at, completed_at, result,
	error_message, next_retry_at, created_at, updated_at`

const liveKeyConflict = `ON CONFLICT (job_key) WHERE job_key IS NOT NULL AND status IN ('pending', 'processing') DO NOTHING`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(db *sql.DB) *PostgresJobStore {
	return &PostgresJobStore{
		db: db,
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *PostgresJobStore) Insert(ctx context.Context, job *types.Job) (bool, error) {
	ok, err := insertJob(ctx, r.db, job)
	if err != nil {
		return false, fmt.Errorf("postgres: insert job: %w", err)
	}
	return ok, nil
}

func (r *PostgresJobStore) InsertMany(ctx context.Context, jobs []*types.Job) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert many: begin: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, j := range jobs {
		ok, err := insertJob(ctx, tx, j)
		if err != nil {
			return 0, fmt.Errorf("postgres: insert many: %w", err)
		}
		if ok {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("postgres: insert many: commit: %w", err)
	}
	return inserted, nil
}

func insertJob(ctx context.Context, ex execer, j *types.Job) (bool, error) {
	res, err := ex.ExecContext(ctx, `
		INSERT INTO jobqueue.jobs (
			id, tenant_id, job_type, job_key, payload, status, scheduled_at, priority,
			attempts, max_attempts, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`+liveKeyConflict,
		j.ID, nullString(j.TenantID), j.JobType, nullString(j.JobKey), string(j.Payload), string(j.Status),
		j.ScheduledAt, j.Priority, j.Attempts, j.MaxAttempts, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Claim selects the next eligible row with FOR UPDATE SKIP LOCKED, so
// concurrent claimers skip rows another transaction is already taking.
func (r *PostgresJobStore) Claim(ctx context.Context, opts store.ClaimOptions) (*types.Job, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres: claim: begin: %w", err)
	}
	defer tx.Rollback()

	args := []any{opts.Now, opts.StaleBefore}
	typeFilter := ""
	if len(opts.JobTypes) > 0 {
		typeFilter = " AND job_type = ANY($3)"
		args = append(args, pq.Array(opts.JobTypes))
	}

	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM jobqueue.jobs
		WHERE scheduled_at <= $1
		  AND attempts < max_attempts
		  AND (
		      (status = 'pending' AND (locked_by IS NULL OR locked_at < $2))
		   OR (status = 'processing' AND locked_at < $2)
		  )`+typeFilter+`
		ORDER BY priority DESC, scheduled_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: claim: select: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE jobqueue.jobs
		SET status = 'processing',
		    locked_by = $1,
		    locked_at = $2,
		    started_at = $2,
		    attempts = attempts + 1,
		    updated_at = $2
		WHERE id = $3
		RETURNING `+jobColumns, opts.WorkerID, opts.Now, id)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("postgres: claim: update %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("postgres: claim: commit: %w", err)
	}
	return job, nil
}

func (r *PostgresJobStore) FindByID(ctx context.Context, id string) (*types.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobqueue.jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: find job %s: %w", id, err)
	}
	return job, nil
}

func (r *PostgresJobStore) FindLiveByKey(ctx context.Context, key string) (*types.Job, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobqueue.jobs
		WHERE job_key = $1 AND status IN ('pending', 'processing')
		LIMIT 1`, key)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: find live job %s: %w", key, err)
	}
	return job, nil
}

func (r *PostgresJobStore) MarkCompleted(ctx context.Context, id string, result json.RawMessage, now time.Time) (*types.Job, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE jobqueue.jobs
		SET status = 'completed',
		    completed_at = $1,
		    result = $2,
		    locked_by = NULL,
		    locked_at = NULL,
		    updated_at = $1
		WHERE id = $3 AND status = 'processing'
		RETURNING `+jobColumns, now, nullJSON(result), id)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: complete job %s: %w", id, err)
	}
	return job, nil
}

func (r *PostgresJobStore) ScheduleRetry(ctx context.Context, id, lockedBy, errMsg string, runAt, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobqueue.jobs
		SET status = 'pending',
		    scheduled_at = $1,
		    next_retry_at = $1,
		    error_message = $2,
		    locked_by = NULL,
		    locked_at = NULL,
		    updated_at = $3
		WHERE id = $4 AND status = 'processing' AND locked_by = $5
	`, runAt, errMsg, now, id, lockedBy)
	if err != nil {
		return false, fmt.Errorf("postgres: schedule retry %s: %w", id, err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (r *PostgresJobStore) MarkFailed(ctx context.Context, id, lockedBy, errMsg string, now time.Time) (*types.Job, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE jobqueue.jobs
		SET status = 'failed',
		    completed_at = $1,
		    error_message = $2,
		    locked_by = NULL,
		    locked_at = NULL,
		    updated_at = $1
		WHERE id = $3 AND status = 'processing' AND locked_by = $4
		RETURNING `+jobColumns, now, errMsg, id, lockedBy)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: fail job %s: %w", id, err)
	}
	return job, nil
}

func (r *PostgresJobStore) CancelByKey(ctx context.Context, key string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobqueue.jobs
		SET status = 'cancelled', completed_at = $1, updated_at = $1
		WHERE job_key = $2 AND status = 'pending'
	`, now, key)
	if err != nil {
		return false, fmt.Errorf("postgres: cancel %s: %w", key, err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (r *PostgresJobStore) ReleaseStale(ctx context.Context, lockedBefore, now time.Time) (int64, []*types.Job, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("postgres: release stale: begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		UPDATE jobqueue.jobs
		SET status = 'failed',
		    completed_at = $1,
		    error_message = COALESCE(error_message, $2),
		    locked_by = NULL,
		    locked_at = NULL,
		    updated_at = $1
		WHERE status = 'processing' AND locked_at < $3 AND attempts >= max_attempts
		RETURNING `+jobColumns, now, store.LeaseExpiredMessage, lockedBefore)
	if err != nil {
		return 0, nil, fmt.Errorf("postgres: release stale: %w", err)
	}
	failed, err := collectJobs(rows)
	if err != nil {
		return 0, nil, fmt.Errorf("postgres: release stale: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE jobqueue.jobs
		SET status = 'pending', locked_by = NULL, locked_at = NULL, updated_at = $1
		WHERE status = 'processing' AND locked_at < $2
	`, now, lockedBefore)
	if err != nil {
		return 0, nil, fmt.Errorf("postgres: release stale: %w", err)
	}
	released, err := res.RowsAffected()
	if err != nil {
		return 0, nil, fmt.Errorf("postgres: release stale: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("postgres: release stale: commit: %w", err)
	}
	return released, failed, nil
}

func (r *PostgresJobStore) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM jobqueue.jobs
		WHERE status = ANY($2)
		  AND completed_at IS NOT NULL
		  AND completed_at < $1
	`, before, pq.Array(state.Strings(state.TerminalStatuses)))
	if err != nil {
		return 0, fmt.Errorf("postgres: cleanup: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresJobStore) CountByStatus(ctx context.Context, tenantID string) (map[state.JobStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) AS count
		FROM jobqueue.jobs
		WHERE ($1 = '' OR tenant_id = $1)
		GROUP BY status
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("postgres: count by status: %w", err)
	}
	defer rows.Close()

	result := make(map[state.JobStatus]int)
	for rows.Next() {
		var status state.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("postgres: count by status: %w", err)
		}
		result[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: count by status: %w", err)
	}

	return store.ZeroFilled(result), nil
}

func (r *PostgresJobStore) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*types.Job, error) {
	var (
		job                                           types.Job
		tenantID, jobKey, lockedBy, errMsg            sql.NullString
		payload, result                               []byte
		lockedAt, startedAt, completedAt, nextRetryAt sql.NullTime
	)
	if err := row.Scan(
		&job.ID,
		&tenantID,
		&job.JobType,
		&jobKey,
		&payload,
		&job.Status,
		&job.ScheduledAt,
		&job.Priority,
		&job.Attempts,
		&job.MaxAttempts,
		&lockedBy,
		&lockedAt,
		&startedAt,
		&completedAt,
		&result,
		&errMsg,
		&nextRetryAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.TenantID = fromNullString(tenantID)
	job.JobKey = fromNullString(jobKey)
	job.LockedBy = fromNullString(lockedBy)
	job.ErrorMessage = fromNullString(errMsg)
	job.Payload = payload
	if result != nil {
		job.Result = result
	}
	job.LockedAt = fromNullTime(lockedAt)
	job.StartedAt = fromNullTime(startedAt)
	job.CompletedAt = fromNullTime(completedAt)
	job.NextRetryAt = fromNullTime(nextRetryAt)
	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]*types.Job, error) {
	defer rows.Close()
	var jobs []*types.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// nullJSON passes JSON as text so lib/pq does not send it as bytea.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func fromNullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func fromNullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
