package test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ronittamrakar/jobqueue/client"
	"github.com/ronittamrakar/jobqueue/client/test/mocks"
	"github.com/ronittamrakar/jobqueue/internal/identity"
	"github.com/ronittamrakar/jobqueue/internal/state"
	"github.com/ronittamrakar/jobqueue/internal/store"
	"github.com/ronittamrakar/jobqueue/internal/store/memory"
	"github.com/ronittamrakar/jobqueue/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockManager(jobs store.JobStore, history store.HistoryStore, clock *testClock, opts ...client.Option) *client.JobManager {
	opts = append([]client.Option{client.WithClock(clock.Now)}, opts...)
	return client.NewJobManager(jobs, history, identity.WorkerID("w-1"), opts...)
}

func processingJob(id string, attempts int) *types.Job {
	owner := "w-1"
	started := time.Date(2024, 3, 1, 11, 59, 0, 0, time.UTC)
	return &types.Job{
		ID:          id,
		JobType:     "x",
		Status:      state.StatusProcessing,
		Attempts:    attempts,
		MaxAttempts: 3,
		LockedBy:    &owner,
		LockedAt:    &started,
		StartedAt:   &started,
	}
}

func TestComplete_HistoryWriteFailureKeepsStatus(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	jobs := memory.New()
	var appended int
	history := &mocks.MockHistoryStore{
		AppendFunc: func(ctx context.Context, rec *types.HistoryRecord) error {
			appended++
			return errors.New("history unavailable")
		},
	}
	jm := newMockManager(jobs, history, clock)

	id, _, err := jm.Schedule(ctx, "x", nil)
	require.NoError(t, err)
	_, err = jm.FetchNext(ctx)
	require.NoError(t, err)

	ok, err := jm.Complete(ctx, id, "done")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, appended)

	job, err := jm.FindJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, state.StatusCompleted, job.Status)
}

func TestComplete_StoreErrorPropagates(t *testing.T) {
	boom := errors.New("connection reset")
	jobs := &mocks.MockJobStore{
		MarkCompletedFunc: func(ctx context.Context, id string, result json.RawMessage, now time.Time) (*types.Job, error) {
			return nil, boom
		},
	}
	jm := newMockManager(jobs, &mocks.MockHistoryStore{}, newTestClock())

	ok, err := jm.Complete(context.Background(), "j1", nil)
	assert.ErrorIs(t, err, boom)
	assert.False(t, ok)
}

func TestFail_RetryGuardsOnOwnWorker(t *testing.T) {
	clock := newTestClock()
	var (
		gotOwner string
		gotRunAt time.Time
	)
	jobs := &mocks.MockJobStore{
		FindByIDFunc: func(ctx context.Context, id string) (*types.Job, error) {
			return processingJob(id, 2), nil
		},
		ScheduleRetryFunc: func(ctx context.Context, id, lockedBy, errMsg string, runAt, now time.Time) (bool, error) {
			gotOwner = lockedBy
			gotRunAt = runAt
			return true, nil
		},
	}
	jm := newMockManager(jobs, &mocks.MockHistoryStore{}, clock)

	ok, err := jm.Fail(context.Background(), "j1", "boom", true)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "w-1", gotOwner)
	assert.Equal(t, clock.Now().Add(4*time.Minute), gotRunAt)
}

func TestFail_ForeignLeaseNotTouched(t *testing.T) {
	var writes int
	jobs := &mocks.MockJobStore{
		FindByIDFunc: func(ctx context.Context, id string) (*types.Job, error) {
			job := processingJob(id, 2)
			other := "w-2"
			job.LockedBy = &other
			return job, nil
		},
		ScheduleRetryFunc: func(ctx context.Context, id, lockedBy, errMsg string, runAt, now time.Time) (bool, error) {
			writes++
			return true, nil
		},
		MarkFailedFunc: func(ctx context.Context, id, lockedBy, errMsg string, now time.Time) (*types.Job, error) {
			writes++
			return processingJob(id, 2), nil
		},
	}
	jm := newMockManager(jobs, &mocks.MockHistoryStore{}, newTestClock())

	for _, retry := range []bool{true, false} {
		ok, err := jm.Fail(context.Background(), "j1", "boom", retry)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Zero(t, writes)
}

func TestFail_LostGuardReturnsFalse(t *testing.T) {
	var appended bool
	jobs := &mocks.MockJobStore{
		FindByIDFunc: func(ctx context.Context, id string) (*types.Job, error) {
			return processingJob(id, 3), nil
		},
		MarkFailedFunc: func(ctx context.Context, id, lockedBy, errMsg string, now time.Time) (*types.Job, error) {
			return nil, nil
		},
	}
	history := &mocks.MockHistoryStore{
		AppendFunc: func(ctx context.Context, rec *types.HistoryRecord) error {
			appended = true
			return nil
		},
	}
	jm := newMockManager(jobs, history, newTestClock())

	ok, err := jm.Fail(context.Background(), "j1", "boom", true)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, appended)
}

func TestFail_MissingOrIdleJob(t *testing.T) {
	ctx := context.Background()
	jobs := &mocks.MockJobStore{}
	jm := newMockManager(jobs, &mocks.MockHistoryStore{}, newTestClock())

	ok, err := jm.Fail(ctx, "missing", "boom", true)
	require.NoError(t, err)
	assert.False(t, ok)

	jobs.FindByIDFunc = func(ctx context.Context, id string) (*types.Job, error) {
		return &types.Job{ID: id, Status: state.StatusPending}, nil
	}
	ok, err = jm.Fail(ctx, "idle", "boom", true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFetchNext_ClaimOptions(t *testing.T) {
	clock := newTestClock()
	var got store.ClaimOptions
	jobs := &mocks.MockJobStore{
		ClaimFunc: func(ctx context.Context, opts store.ClaimOptions) (*types.Job, error) {
			got = opts
			return nil, nil
		},
	}
	jm := newMockManager(jobs, &mocks.MockHistoryStore{}, clock, client.WithStaleThresholds(3*time.Minute, 0))

	job, err := jm.FetchNext(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.Equal(t, []string{"a", "b"}, got.JobTypes)
	assert.Equal(t, "w-1", got.WorkerID)
	assert.Equal(t, clock.Now(), got.Now)
	assert.Equal(t, clock.Now().Add(-3*time.Minute), got.StaleBefore)
	assert.Equal(t, identity.WorkerID("w-1"), jm.WorkerID())
}

func TestFetchNext_StoreErrorPropagates(t *testing.T) {
	boom := errors.New("db down")
	jobs := &mocks.MockJobStore{
		ClaimFunc: func(ctx context.Context, opts store.ClaimOptions) (*types.Job, error) {
			return nil, boom
		},
	}
	jm := newMockManager(jobs, &mocks.MockHistoryStore{}, newTestClock())

	job, err := jm.FetchNext(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, job)
}

func TestSchedule_DuplicateIsNotAnError(t *testing.T) {
	jobs := &mocks.MockJobStore{
		InsertFunc: func(ctx context.Context, job *types.Job) (bool, error) {
			return false, nil
		},
	}
	jm := newMockManager(jobs, &mocks.MockHistoryStore{}, newTestClock())

	id, scheduled, err := jm.Schedule(context.Background(), "x", nil, client.WithJobKey("k"))
	require.NoError(t, err)
	assert.False(t, scheduled)
	assert.Empty(t, id)
}

func TestSweeper_DefaultWindows(t *testing.T) {
	clock := newTestClock()
	var lockedBefore, purgeBefore time.Time
	jobs := &mocks.MockJobStore{
		ReleaseStaleFunc: func(ctx context.Context, before, now time.Time) (int64, []*types.Job, error) {
			lockedBefore = before
			return 2, nil, nil
		},
		DeleteFinishedBeforeFunc: func(ctx context.Context, before time.Time) (int64, error) {
			purgeBefore = before
			return 5, nil
		},
	}
	jm := newMockManager(jobs, &mocks.MockHistoryStore{}, clock)

	released, err := jm.ReleaseStaleJobs(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), released)
	assert.Equal(t, clock.Now().Add(-10*time.Minute), lockedBefore)

	purged, err := jm.Cleanup(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), purged)
	assert.Equal(t, clock.Now().Add(-7*24*time.Hour), purgeBefore)
}

func TestHistory_ClampsPaging(t *testing.T) {
	var gotOffset, gotLimit int
	history := &mocks.MockHistoryStore{
		ListFunc: func(ctx context.Context, filter types.HistoryFilter, offset, limit int) ([]types.HistoryRecord, int, error) {
			gotOffset, gotLimit = offset, limit
			return []types.HistoryRecord{{ID: "h1"}}, 45, nil
		},
	}
	jm := newMockManager(&mocks.MockJobStore{}, history, newTestClock())

	page, err := jm.History(context.Background(), 3, 0, types.HistoryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 40, gotOffset)
	assert.Equal(t, 20, gotLimit)
	assert.Equal(t, 3, page.TotalPages)
	assert.False(t, page.HasNextPage)
	assert.True(t, page.HasPreviousPage)
}
