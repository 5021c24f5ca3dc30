// Package sqlite stores jobs and history in SQLite via modernc.org/sqlite.
// Timestamps are INTEGER unix milliseconds.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ronittamrakar/jobqueue/internal/state"
	"github.com/ronittamrakar/jobqueue/internal/store"
	"github.com/ronittamrakar/jobqueue/types"
)

var _ store.JobStore = (*SQLiteJobStore)(nil)

const jobColumns = `id, tenant_id, job_type, job_key, payload, status, scheduled_at, priority,
	attempts, max_attempts, locked_by, locked_at, started_at, completed_at, result,
	error_message, next_retry_at, created_at, updated_at`

// liveKeyConflict targets the partial unique index on live job keys, so any
// other constraint violation still surfaces as an error.
const liveKeyConflict = `ON CONFLICT (job_key) WHERE job_key IS NOT NULL AND status IN ('pending', 'processing') DO NOTHING`

type SQLiteJobStore struct {
	db *sql.DB
}

// NewSQLiteJobStore expects db to be opened with a single connection.
func NewSQLiteJobStore(db *sql.DB) *SQLiteJobStore {
	return &SQLiteJobStore{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteJobStore) Insert(ctx context.Context, job *types.Job) (bool, error) {
	ok, err := insertJob(ctx, s.db, job)
	if err != nil {
		return false, fmt.Errorf("sqlite: insert job: %w", err)
	}
	return ok, nil
}

func (s *SQLiteJobStore) InsertMany(ctx context.Context, jobs []*types.Job) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert many: begin: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, j := range jobs {
		ok, err := insertJob(ctx, tx, j)
		if err != nil {
			return 0, fmt.Errorf("sqlite: insert many: %w", err)
		}
		if ok {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: insert many: commit: %w", err)
	}
	return inserted, nil
}

func insertJob(ctx context.Context, ex execer, j *types.Job) (bool, error) {
	res, err := ex.ExecContext(ctx, `
		INSERT INTO jobs (
			id, tenant_id, job_type, job_key, payload, status, scheduled_at, priority,
			attempts, max_attempts, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`+liveKeyConflict,
		j.ID, nullString(j.TenantID), j.JobType, nullString(j.JobKey), []byte(j.Payload), string(j.Status),
		j.ScheduledAt.UnixMilli(), j.Priority, j.Attempts, j.MaxAttempts,
		j.CreatedAt.UnixMilli(), j.UpdatedAt.UnixMilli(),
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

// Claim relies on SQLite's database-level write lock: the select and update
// run as one statement, so two claimers can never pick the same row.
func (s *SQLiteJobStore) Claim(ctx context.Context, opts store.ClaimOptions) (*types.Job, error) {
	now := opts.Now.UnixMilli()
	stale := opts.StaleBefore.UnixMilli()

	args := []any{opts.WorkerID, now, now, now, now, stale, stale}
	typeFilter := ""
	if len(opts.JobTypes) > 0 {
		typeFilter = " AND job_type IN (" + placeholders(len(opts.JobTypes)) + ")"
		for _, t := range opts.JobTypes {
			args = append(args, t)
		}
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = 'processing',
		    locked_by = ?,
		    locked_at = ?,
		    started_at = ?,
		    attempts = attempts + 1,
		    updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE scheduled_at <= ?
			  AND attempts < max_attempts
			  AND (
			      (status = 'pending' AND (locked_by IS NULL OR locked_at < ?))
			   OR (status = 'processing' AND locked_at < ?)
			  )`+typeFilter+`
			ORDER BY priority DESC, scheduled_at ASC, id ASC
			LIMIT 1
		)
		RETURNING `+jobColumns, args...)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: claim: %w", err)
	}
	return job, nil
}

func (s *SQLiteJobStore) FindByID(ctx context.Context, id string) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: find job %s: %w", id, err)
	}
	return job, nil
}

func (s *SQLiteJobStore) FindLiveByKey(ctx context.Context, key string) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE job_key = ? AND status IN ('pending', 'processing')
		LIMIT 1`, key)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: find live job %s: %w", key, err)
	}
	return job, nil
}

func (s *SQLiteJobStore) MarkCompleted(ctx context.Context, id string, result json.RawMessage, now time.Time) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = 'completed',
		    completed_at = ?,
		    result = ?,
		    locked_by = NULL,
		    locked_at = NULL,
		    updated_at = ?
		WHERE id = ? AND status = 'processing'
		RETURNING `+jobColumns,
		now.UnixMilli(), nullBytes(result), now.UnixMilli(), id)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: complete job %s: %w", id, err)
	}
	return job, nil
}

func (s *SQLiteJobStore) ScheduleRetry(ctx context.Context, id, lockedBy, errMsg string, runAt, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending',
		    scheduled_at = ?,
		    next_retry_at = ?,
		    error_message = ?,
		    locked_by = NULL,
		    locked_at = NULL,
		    updated_at = ?
		WHERE id = ? AND status = 'processing' AND locked_by = ?`,
		runAt.UnixMilli(), runAt.UnixMilli(), errMsg, now.UnixMilli(), id, lockedBy)
	if err != nil {
		return false, fmt.Errorf("sqlite: schedule retry %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: schedule retry %s: %w", id, err)
	}
	return affected > 0, nil
}

func (s *SQLiteJobStore) MarkFailed(ctx context.Context, id, lockedBy, errMsg string, now time.Time) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = 'failed',
		    completed_at = ?,
		    error_message = ?,
		    locked_by = NULL,
		    locked_at = NULL,
		    updated_at = ?
		WHERE id = ? AND status = 'processing' AND locked_by = ?
		RETURNING `+jobColumns,
		now.UnixMilli(), errMsg, now.UnixMilli(), id, lockedBy)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: fail job %s: %w", id, err)
	}
	return job, nil
}

func (s *SQLiteJobStore) CancelByKey(ctx context.Context, key string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'cancelled', completed_at = ?, updated_at = ?
		WHERE job_key = ? AND status = 'pending'`,
		now.UnixMilli(), now.UnixMilli(), key)
	if err != nil {
		return false, fmt.Errorf("sqlite: cancel %s: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: cancel %s: %w", key, err)
	}
	return affected > 0, nil
}

func (s *SQLiteJobStore) ReleaseStale(ctx context.Context, lockedBefore, now time.Time) (int64, []*types.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("sqlite: release stale: begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		UPDATE jobs
		SET status = 'failed',
		    completed_at = ?,
		    error_message = COALESCE(error_message, ?),
		    locked_by = NULL,
		    locked_at = NULL,
		    updated_at = ?
		WHERE status = 'processing' AND locked_at < ? AND attempts >= max_attempts
		RETURNING `+jobColumns,
		now.UnixMilli(), store.LeaseExpiredMessage, now.UnixMilli(), lockedBefore.UnixMilli())
	if err != nil {
		return 0, nil, fmt.Errorf("sqlite: release stale: %w", err)
	}
	failed, err := collectJobs(rows)
	if err != nil {
		return 0, nil, fmt.Errorf("sqlite: release stale: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending', locked_by = NULL, locked_at = NULL, updated_at = ?
		WHERE status = 'processing' AND locked_at < ?`,
		now.UnixMilli(), lockedBefore.UnixMilli())
	if err != nil {
		return 0, nil, fmt.Errorf("sqlite: release stale: %w", err)
	}
	released, err := res.RowsAffected()
	if err != nil {
		return 0, nil, fmt.Errorf("sqlite: release stale: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("sqlite: release stale: commit: %w", err)
	}
	return released, failed, nil
}

func (s *SQLiteJobStore) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	args := []any{before.UnixMilli()}
	for _, status := range state.TerminalStatuses {
		args = append(args, string(status))
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE completed_at IS NOT NULL
		  AND completed_at < ?
		  AND status IN (`+placeholders(len(state.TerminalStatuses))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: cleanup: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteJobStore) CountByStatus(ctx context.Context, tenantID string) (map[state.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM jobs
		WHERE (? = '' OR tenant_id = ?)
		GROUP BY status`, tenantID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: count by status: %w", err)
	}
	defer rows.Close()

	result := make(map[state.JobStatus]int)
	for rows.Next() {
		var status state.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("sqlite: count by status: %w", err)
		}
		result[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: count by status: %w", err)
	}
	return store.ZeroFilled(result), nil
}

func (s *SQLiteJobStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*types.Job, error) {
	var (
		job                                   types.Job
		tenantID, jobKey, lockedBy, errMsg    sql.NullString
		payload, result                       []byte
		scheduledAt, createdAt, updatedAt     int64
		lockedAt, startedAt, completedAt, nra sql.NullInt64
	)
	if err := row.Scan(
		&job.ID, &tenantID, &job.JobType, &jobKey, &payload, &job.Status, &scheduledAt, &job.Priority,
		&job.Attempts, &job.MaxAttempts, &lockedBy, &lockedAt, &startedAt, &completedAt, &result,
		&errMsg, &nra, &createdAt, &updatedAt,
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
	job.ScheduledAt = fromMillis(scheduledAt)
	job.CreatedAt = fromMillis(createdAt)
	job.UpdatedAt = fromMillis(updatedAt)
	job.LockedAt = fromNullMillis(lockedAt)
	job.StartedAt = fromNullMillis(startedAt)
	job.CompletedAt = fromNullMillis(completedAt)
	job.NextRetryAt = fromNullMillis(nra)
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

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func fromNullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
