// Package memory is a process-local JobStore and HistoryStore. It serves tests
// and single-process deployments that can lose state on restart.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ronittamrakar/jobqueue/internal/state"
	"github.com/ronittamrakar/jobqueue/internal/store"
	"github.com/ronittamrakar/jobqueue/types"
)

var (
	_ store.JobStore     = (*Store)(nil)
	_ store.HistoryStore = (*Store)(nil)
)

// Store keeps jobs and history in maps behind a single mutex. Callers always
// receive copies.
type Store struct {
	mu      sync.Mutex
	jobs    map[string]*types.Job
	history []*types.HistoryRecord
}

func New() *Store {
	return &Store{jobs: make(map[string]*types.Job)}
}

func (s *Store) Insert(_ context.Context, job *types.Job) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(job)
}

func (s *Store) InsertMany(_ context.Context, jobs []*types.Job) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		_, stored := s.jobs[j.ID]
		_, batched := seen[j.ID]
		if stored || batched {
			return 0, fmt.Errorf("memory: insert many: duplicate id %s", j.ID)
		}
		seen[j.ID] = struct{}{}
	}

	inserted := 0
	for _, j := range jobs {
		ok, err := s.insertLocked(j)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

func (s *Store) insertLocked(job *types.Job) (bool, error) {
	if _, exists := s.jobs[job.ID]; exists {
		return false, fmt.Errorf("memory: insert: duplicate id %s", job.ID)
	}
	if job.JobKey != nil {
		for _, existing := range s.jobs {
			if existing.JobKey != nil && *existing.JobKey == *job.JobKey && existing.Status.IsLive() {
				return false, nil
			}
		}
	}
	s.jobs[job.ID] = job.Clone()
	return true, nil
}

func (s *Store) Claim(_ context.Context, opts store.ClaimOptions) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var wanted map[string]bool
	if len(opts.JobTypes) > 0 {
		wanted = make(map[string]bool, len(opts.JobTypes))
		for _, t := range opts.JobTypes {
			wanted[t] = true
		}
	}

	var best *types.Job
	for _, j := range s.jobs {
		if !claimable(j, opts) {
			continue
		}
		if wanted != nil && !wanted[j.JobType] {
			continue
		}
		if best == nil || before(j, best) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}

	now := opts.Now
	if !transition(best, state.StatusProcessing, now) {
		return nil, nil
	}
	best.LockedBy = types.StringPtr(opts.WorkerID)
	best.LockedAt = types.TimePtr(now)
	best.StartedAt = types.TimePtr(now)
	best.Attempts++
	return best.Clone(), nil
}

func claimable(j *types.Job, opts store.ClaimOptions) bool {
	if j.ScheduledAt.After(opts.Now) || j.Attempts >= j.MaxAttempts {
		return false
	}
	stale := j.LockedAt != nil && j.LockedAt.Before(opts.StaleBefore)
	switch j.Status {
	case state.StatusPending:
		return j.LockedBy == nil || stale
	case state.StatusProcessing:
		return stale
	}
	return false
}

// before orders by priority desc, scheduled_at asc, then id for stability.
func before(a, b *types.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.ScheduledAt.Equal(b.ScheduledAt) {
		return a.ScheduledAt.Before(b.ScheduledAt)
	}
	return a.ID < b.ID
}

func (s *Store) FindByID(_ context.Context, id string) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, types.ErrJobNotFound
	}
	return j.Clone(), nil
}

func (s *Store) FindLiveByKey(_ context.Context, key string) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.JobKey != nil && *j.JobKey == key && j.Status.IsLive() {
			return j.Clone(), nil
		}
	}
	return nil, types.ErrJobNotFound
}

func (s *Store) MarkCompleted(_ context.Context, id string, result json.RawMessage, now time.Time) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || !transition(j, state.StatusCompleted, now) {
		return nil, nil
	}
	j.CompletedAt = types.TimePtr(now)
	j.Result = append(json.RawMessage(nil), result...)
	j.LockedBy = nil
	j.LockedAt = nil
	return j.Clone(), nil
}

func (s *Store) ScheduleRetry(_ context.Context, id, lockedBy, errMsg string, runAt, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || !ownedBy(j, lockedBy) || !transition(j, state.StatusPending, now) {
		return false, nil
	}
	j.ScheduledAt = runAt
	j.NextRetryAt = types.TimePtr(runAt)
	j.ErrorMessage = types.StringPtr(errMsg)
	j.LockedBy = nil
	j.LockedAt = nil
	return true, nil
}

func (s *Store) MarkFailed(_ context.Context, id, lockedBy, errMsg string, now time.Time) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || !ownedBy(j, lockedBy) || !transition(j, state.StatusFailed, now) {
		return nil, nil
	}
	j.CompletedAt = types.TimePtr(now)
	j.ErrorMessage = types.StringPtr(errMsg)
	j.LockedBy = nil
	j.LockedAt = nil
	return j.Clone(), nil
}

func ownedBy(j *types.Job, lockedBy string) bool {
	return j.Status == state.StatusProcessing && j.LockedBy != nil && *j.LockedBy == lockedBy
}

// transition moves j to status to, refusing edges outside the job lifecycle.
func transition(j *types.Job, to state.JobStatus, now time.Time) bool {
	if !state.IsValidTransition(j.Status, to) {
		return false
	}
	j.Status = to
	j.UpdatedAt = now
	return true
}

func (s *Store) CancelByKey(_ context.Context, key string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.JobKey != nil && *j.JobKey == key && transition(j, state.StatusCancelled, now) {
			j.CompletedAt = types.TimePtr(now)
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ReleaseStale(_ context.Context, lockedBefore, now time.Time) (int64, []*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var released int64
	var failed []*types.Job
	for _, j := range s.jobs {
		if j.Status != state.StatusProcessing || j.LockedAt == nil || !j.LockedAt.Before(lockedBefore) {
			continue
		}
		j.LockedBy = nil
		j.LockedAt = nil
		if j.Attempts >= j.MaxAttempts {
			transition(j, state.StatusFailed, now)
			j.CompletedAt = types.TimePtr(now)
			if j.ErrorMessage == nil {
				j.ErrorMessage = types.StringPtr(store.LeaseExpiredMessage)
			}
			failed = append(failed, j.Clone())
			continue
		}
		transition(j, state.StatusPending, now)
		released++
	}
	return released, failed, nil
}

func (s *Store) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, j := range s.jobs {
		if j.Status.IsTerminal() && j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) CountByStatus(_ context.Context, tenantID string) (map[state.JobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[state.JobStatus]int)
	for _, j := range s.jobs {
		if tenantID != "" && (j.TenantID == nil || *j.TenantID != tenantID) {
			continue
		}
		counts[j.Status]++
	}
	return store.ZeroFilled(counts), nil
}

func (s *Store) Append(_ context.Context, rec *types.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.history = append(s.history, &cp)
	return nil
}

func (s *Store) List(_ context.Context, filter types.HistoryFilter, offset, limit int) ([]types.HistoryRecord, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []types.HistoryRecord
	for _, rec := range s.history {
		if filter.JobType != "" && rec.JobType != filter.JobType {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.TenantID != "" && (rec.TenantID == nil || *rec.TenantID != filter.TenantID) {
			continue
		}
		matched = append(matched, *rec)
	}
	sort.SliceStable(matched, func(i, k int) bool {
		return matched[i].CreatedAt.After(matched[k].CreatedAt)
	})

	total := len(matched)
	if offset >= total {
		return []types.HistoryRecord{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

func (s *Store) Close() error { return nil }
