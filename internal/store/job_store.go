package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ronittamrakar/jobqueue/internal/state"
	"github.com/ronittamrakar/jobqueue/types"
)

// LeaseExpiredMessage is recorded on jobs whose lease ran out on their final attempt.
// Such jobs are failed instead of reclaimed: a claim always increments attempts,
// and attempts never exceed max_attempts.
const LeaseExpiredMessage = "lease expired on final attempt"

// ClaimOptions describes a single claim.
type ClaimOptions struct {
	JobTypes    []string  // empty matches every type
	WorkerID    string    // written to locked_by
	Now         time.Time // written to locked_at and started_at
	StaleBefore time.Time // leases older than this are reclaimable
}

// JobStore owns the live jobs table. Every mutating method is a single atomic
// operation against the backing store.
type JobStore interface {
	// Insert adds a pending job. It returns false without error when a live job
	// (pending or processing) already carries the same job key.
	Insert(ctx context.Context, job *types.Job) (bool, error)

	// InsertMany inserts a batch, skipping live-key duplicates, and returns how
	// many rows were written.
	InsertMany(ctx context.Context, jobs []*types.Job) (int, error)

	// Claim leases the highest-priority eligible job to opts.WorkerID and
	// increments its attempts. It returns nil when nothing is eligible.
	Claim(ctx context.Context, opts ClaimOptions) (*types.Job, error)

	// FindByID returns types.ErrJobNotFound when no row matches.
	FindByID(ctx context.Context, id string) (*types.Job, error)

	// FindLiveByKey returns the pending or processing job carrying key, or
	// types.ErrJobNotFound.
	FindLiveByKey(ctx context.Context, key string) (*types.Job, error)

	// MarkCompleted moves a processing job to completed and returns the updated
	// row, or nil when the job is missing or not processing.
	MarkCompleted(ctx context.Context, id string, result json.RawMessage, now time.Time) (*types.Job, error)

	// ScheduleRetry returns a processing job owned by lockedBy to pending with
	// scheduled_at = next_retry_at = runAt.
	ScheduleRetry(ctx context.Context, id, lockedBy, errMsg string, runAt, now time.Time) (bool, error)

	// MarkFailed moves a processing job owned by lockedBy to failed and returns
	// the updated row, or nil when the guard did not match.
	MarkFailed(ctx context.Context, id, lockedBy, errMsg string, now time.Time) (*types.Job, error)

	// CancelByKey cancels the pending job carrying key.
	CancelByKey(ctx context.Context, key string, now time.Time) (bool, error)

	// ReleaseStale returns processing jobs locked before lockedBefore to
	// pending. Jobs already at max attempts become failed instead and are
	// returned so the caller can record them.
	ReleaseStale(ctx context.Context, lockedBefore, now time.Time) (int64, []*types.Job, error)

	// DeleteFinishedBefore purges completed, failed and cancelled jobs whose
	// completed_at is older than before.
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)

	// CountByStatus returns a count for every status. An empty tenantID counts
	// all tenants.
	CountByStatus(ctx context.Context, tenantID string) (map[state.JobStatus]int, error)

	Close() error
}

// ZeroFilled returns counts with an entry for every known status.
func ZeroFilled(counts map[state.JobStatus]int) map[state.JobStatus]int {
	if counts == nil {
		counts = make(map[state.JobStatus]int, len(state.AllStatuses))
	}
	for _, status := range state.AllStatuses {
		if _, ok := counts[status]; !ok {
			counts[status] = 0
		}
	}
	return counts
}
