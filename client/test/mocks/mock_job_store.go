package mocks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ronittamrakar/jobqueue/internal/state"
	"github.com/ronittamrakar/jobqueue/internal/store"
	"github.com/ronittamrakar/jobqueue/types"
)

// MockJobStore is a mock implementation of store.JobStore for testing.
type MockJobStore struct {
	InsertFunc               func(ctx context.Context, job *types.Job) (bool, error)
	InsertManyFunc           func(ctx context.Context, jobs []*types.Job) (int, error)
	ClaimFunc                func(ctx context.Context, opts store.ClaimOptions) (*types.Job, error)
	FindByIDFunc             func(ctx context.Context, id string) (*types.Job, error)
	FindLiveByKeyFunc        func(ctx context.Context, key string) (*types.Job, error)
	MarkCompletedFunc        func(ctx context.Context, id string, result json.RawMessage, now time.Time) (*types.Job, error)
	ScheduleRetryFunc        func(ctx context.Context, id, lockedBy, errMsg string, runAt, now time.Time) (bool, error)
	MarkFailedFunc           func(ctx context.Context, id, lockedBy, errMsg string, now time.Time) (*types.Job, error)
	CancelByKeyFunc          func(ctx context.Context, key string, now time.Time) (bool, error)
	ReleaseStaleFunc         func(ctx context.Context, lockedBefore, now time.Time) (int64, []*types.Job, error)
	DeleteFinishedBeforeFunc func(ctx context.Context, before time.Time) (int64, error)
	CountByStatusFunc        func(ctx context.Context, tenantID string) (map[state.JobStatus]int, error)
	CloseFunc                func() error
}

func (m *MockJobStore) Insert(ctx context.Context, job *types.Job) (bool, error) {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, job)
	}
	return true, nil
}

func (m *MockJobStore) InsertMany(ctx context.Context, jobs []*types.Job) (int, error) {
	if m.InsertManyFunc != nil {
		return m.InsertManyFunc(ctx, jobs)
	}
	return len(jobs), nil
}

func (m *MockJobStore) Claim(ctx context.Context, opts store.ClaimOptions) (*types.Job, error) {
	if m.ClaimFunc != nil {
		return m.ClaimFunc(ctx, opts)
	}
	return nil, nil
}

func (m *MockJobStore) FindByID(ctx context.Context, id string) (*types.Job, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	return nil, types.ErrJobNotFound
}

func (m *MockJobStore) FindLiveByKey(ctx context.Context, key string) (*types.Job, error) {
	if m.FindLiveByKeyFunc != nil {
		return m.FindLiveByKeyFunc(ctx, key)
	}
	return nil, types.ErrJobNotFound
}

func (m *MockJobStore) MarkCompleted(ctx context.Context, id string, result json.RawMessage, now time.Time) (*types.Job, error) {
	if m.MarkCompletedFunc != nil {
		return m.MarkCompletedFunc(ctx, id, result, now)
	}
	return nil, nil
}

func (m *MockJobStore) ScheduleRetry(ctx context.Context, id, lockedBy, errMsg string, runAt, now time.Time) (bool, error) {
	if m.ScheduleRetryFunc != nil {
		return m.ScheduleRetryFunc(ctx, id, lockedBy, errMsg, runAt, now)
	}
	return true, nil
}

func (m *MockJobStore) MarkFailed(ctx context.Context, id, lockedBy, errMsg string, now time.Time) (*types.Job, error) {
	if m.MarkFailedFunc != nil {
		return m.MarkFailedFunc(ctx, id, lockedBy, errMsg, now)
	}
	return nil, nil
}

func (m *MockJobStore) CancelByKey(ctx context.Context, key string, now time.Time) (bool, error) {
	if m.CancelByKeyFunc != nil {
		return m.CancelByKeyFunc(ctx, key, now)
	}
	return false, nil
}

func (m *MockJobStore) ReleaseStale(ctx context.Context, lockedBefore, now time.Time) (int64, []*types.Job, error) {
	if m.ReleaseStaleFunc != nil {
		return m.ReleaseStaleFunc(ctx, lockedBefore, now)
	}
	return 0, nil, nil
}

func (m *MockJobStore) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	if m.DeleteFinishedBeforeFunc != nil {
		return m.DeleteFinishedBeforeFunc(ctx, before)
	}
	return 0, nil
}

func (m *MockJobStore) CountByStatus(ctx context.Context, tenantID string) (map[state.JobStatus]int, error) {
	if m.CountByStatusFunc != nil {
		return m.CountByStatusFunc(ctx, tenantID)
	}
	return map[state.JobStatus]int{}, nil
}

func (m *MockJobStore) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}
