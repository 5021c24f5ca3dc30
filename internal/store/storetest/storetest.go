// Package storetest holds behavioural checks shared by every JobStore and
// HistoryStore implementation.
package storetest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ronittamrakar/jobqueue/internal/state"
	"github.com/ronittamrakar/jobqueue/internal/store"
	"github.com/ronittamrakar/jobqueue/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns fresh, empty stores. Both values may be the same object.
type Factory func(t *testing.T) (store.JobStore, store.HistoryStore)

// Base is the fixed clock used by the suite. Millisecond precision keeps it
// exact across drivers that store unix millis.
var Base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// NewJob builds a pending job scheduled at Base.
func NewJob(jobType string) *types.Job {
	return &types.Job{
		ID:          uuid.NewString(),
		JobType:     jobType,
		Payload:     json.RawMessage(`{"n":1}`),
		Status:      state.StatusPending,
		ScheduledAt: Base,
		MaxAttempts: 3,
		CreatedAt:   Base,
		UpdatedAt:   Base,
	}
}

func claimAt(now time.Time, worker string, jobTypes ...string) store.ClaimOptions {
	return store.ClaimOptions{
		JobTypes:    jobTypes,
		WorkerID:    worker,
		Now:         now,
		StaleBefore: now.Add(-5 * time.Minute),
	}
}

// Run executes the full suite against stores produced by newStores.
func Run(t *testing.T, newStores Factory) {
	t.Run("InsertAndFind", func(t *testing.T) { testInsertAndFind(t, newStores) })
	t.Run("LiveKeyDedup", func(t *testing.T) { testLiveKeyDedup(t, newStores) })
	t.Run("FindLiveByKey", func(t *testing.T) { testFindLiveByKey(t, newStores) })
	t.Run("InsertMany", func(t *testing.T) { testInsertMany(t, newStores) })
	t.Run("ClaimOrder", func(t *testing.T) { testClaimOrder(t, newStores) })
	t.Run("ClaimFilters", func(t *testing.T) { testClaimFilters(t, newStores) })
	t.Run("ClaimReclaimsStaleLease", func(t *testing.T) { testClaimReclaimsStale(t, newStores) })
	t.Run("ConcurrentClaimsAreExclusive", func(t *testing.T) { testConcurrentClaims(t, newStores) })
	t.Run("Complete", func(t *testing.T) { testComplete(t, newStores) })
	t.Run("RetryAndFail", func(t *testing.T) { testRetryAndFail(t, newStores) })
	t.Run("CancelByKey", func(t *testing.T) { testCancel(t, newStores) })
	t.Run("ReleaseStale", func(t *testing.T) { testReleaseStale(t, newStores) })
	t.Run("DeleteFinishedBefore", func(t *testing.T) { testDeleteFinished(t, newStores) })
	t.Run("CountByStatus", func(t *testing.T) { testCountByStatus(t, newStores) })
	t.Run("History", func(t *testing.T) { testHistory(t, newStores) })
}

func testFindLiveByKey(t *testing.T, newStores Factory) {
	ctx := context.Background()
	jobs, _ := newStores(t)

	_, err := jobs.FindLiveByKey(ctx, "k")
	assert.ErrorIs(t, err, types.ErrJobNotFound)

	j := NewJob("x")
	j.JobKey = types.StringPtr("k")
	_, err = jobs.Insert(ctx, j)
	require.NoError(t, err)

	got, err := jobs.FindLiveByKey(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)

	ok, err := jobs.CancelByKey(ctx, "k", Base)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = jobs.FindLiveByKey(ctx, "k")
	assert.ErrorIs(t, err, types.ErrJobNotFound, "a cancelled job no longer holds its key")
}

func testInsertAndFind(t *testing.T, newStores Factory) {
	ctx := context.Background()
	jobs, _ := newStores(t)

	j := NewJob("email")
	j.TenantID = types.StringPtr("acme")
	j.Priority = 4
	ok, err := jobs.Insert(ctx, j)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := jobs.FindByID(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, "email", got.JobType)
	assert.Equal(t, "acme", *got.TenantID)
	assert.Equal(t, 4, got.Priority)
	assert.Equal(t, state.StatusPending, got.Status)
	assert.Equal(t, 0, got.Attempts)
	assert.True(t, got.ScheduledAt.Equal(Base))
	assert.JSONEq(t, `{"n":1}`, string(got.Payload))

	_, err = jobs.FindByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, types.ErrJobNotFound)
}

func testLiveKeyDedup(t *testing.T, newStores Factory) {
	ctx := context.Background()
	jobs, _ := newStores(t)

	first := NewJob("report")
	first.JobKey = types.StringPtr("report:42")
	ok, err := jobs.Insert(ctx, first)
	require.NoError(t, err)
	require.True(t, ok)

	dup := NewJob("report")
	dup.JobKey = types.StringPtr("report:42")
	ok, err = jobs.Insert(ctx, dup)
	require.NoError(t, err)
	assert.False(t, ok)

	// Still live while processing.
	_, err = jobs.Claim(ctx, claimAt(Base, "w1"))
	require.NoError(t, err)
	ok, err = jobs.Insert(ctx, dup)
	require.NoError(t, err)
	assert.False(t, ok)

	// Free again once terminal.
	_, err = jobs.MarkCompleted(ctx, first.ID, nil, Base.Add(time.Second))
	require.NoError(t, err)
	ok, err = jobs.Insert(ctx, dup)
	require.NoError(t, err)
	assert.True(t, ok)
}

func testInsertMany(t *testing.T, newStores Factory) {
	ctx := context.Background()
	jobs, _ := newStores(t)

	a, b, c := NewJob("x"), NewJob("x"), NewJob("x")
	a.JobKey = types.StringPtr("k")
	b.JobKey = types.StringPtr("k")
	n, err := jobs.InsertMany(ctx, []*types.Job{a, b, c})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	counts, err := jobs.CountByStatus(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, counts[state.StatusPending])
}

func testClaimOrder(t *testing.T, newStores Factory) {
	ctx := context.Background()
	jobs, _ := newStores(t)

	low := NewJob("x")
	low.ScheduledAt = Base.Add(-time.Hour)
	high := NewJob("x")
	high.Priority = 10
	highLater := NewJob("x")
	highLater.Priority = 10
	highLater.ScheduledAt = Base.Add(time.Minute)
	future := NewJob("x")
	future.Priority = 100
	future.ScheduledAt = Base.Add(time.Hour)

	for _, j := range []*types.Job{low, high, highLater, future} {
		_, err := jobs.Insert(ctx, j)
		require.NoError(t, err)
	}

	now := Base.Add(2 * time.Minute)
	var order []string
	for {
		j, err := jobs.Claim(ctx, claimAt(now, "w"))
		require.NoError(t, err)
		if j == nil {
			break
		}
		order = append(order, j.ID)
		assert.Equal(t, state.StatusProcessing, j.Status)
		assert.Equal(t, 1, j.Attempts)
		require.NotNil(t, j.LockedBy)
		assert.Equal(t, "w", *j.LockedBy)
		require.NotNil(t, j.StartedAt)
		assert.True(t, j.StartedAt.Equal(now))
	}
	assert.Equal(t, []string{high.ID, highLater.ID, low.ID}, order)
}

func testClaimFilters(t *testing.T, newStores Factory) {
	ctx := context.Background()
	jobs, _ := newStores(t)

	email := NewJob("email")
	sms := NewJob("sms")
	exhausted := NewJob("email")
	exhausted.Attempts = 3
	for _, j := range []*types.Job{email, sms, exhausted} {
		_, err := jobs.Insert(ctx, j)
		require.NoError(t, err)
	}

	got, err := jobs.Claim(ctx, claimAt(Base, "w", "sms"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sms.ID, got.ID)

	got, err = jobs.Claim(ctx, claimAt(Base, "w", "email", "push"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, email.ID, got.ID)

	got, err = jobs.Claim(ctx, claimAt(Base, "w"))
	require.NoError(t, err)
	assert.Nil(t, got, "jobs at max attempts are never claimed")
}

func testClaimReclaimsStale(t *testing.T, newStores Factory) {
	ctx := context.Background()
	jobs, _ := newStores(t)

	j := NewJob("x")
	_, err := jobs.Insert(ctx, j)
	require.NoError(t, err)

	first, err := jobs.Claim(ctx, claimAt(Base, "w1"))
	require.NoError(t, err)
	require.NotNil(t, first)

	none, err := jobs.Claim(ctx, claimAt(Base.Add(4*time.Minute), "w2"))
	require.NoError(t, err)
	assert.Nil(t, none, "fresh lease is not reclaimable")

	second, err := jobs.Claim(ctx, claimAt(Base.Add(6*time.Minute), "w2"))
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, j.ID, second.ID)
	assert.Equal(t, 2, second.Attempts)
	assert.Equal(t, "w2", *second.LockedBy)
}

func testConcurrentClaims(t *testing.T, newStores Factory) {
	ctx := context.Background()
	jobs, _ := newStores(t)

	const total = 20
	for i := 0; i < total; i++ {
		_, err := jobs.Insert(ctx, NewJob("x"))
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				j, err := jobs.Claim(ctx, claimAt(Base, uuid.NewString()))
				if err != nil || j == nil {
					return
				}
				mu.Lock()
				seen[j.ID]++
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s claimed more than once", id)
	}
}

func testComplete(t *testing.T, newStores Factory) {
	ctx := context.Background()
	jobs, _ := newStores(t)

	j := NewJob("x")
	_, err := jobs.Insert(ctx, j)
	require.NoError(t, err)

	done, err := jobs.MarkCompleted(ctx, j.ID, nil, Base)
	require.NoError(t, err)
	assert.Nil(t, done, "pending job cannot complete")

	_, err = jobs.Claim(ctx, claimAt(Base, "w"))
	require.NoError(t, err)

	finished := Base.Add(3 * time.Second)
	done, err = jobs.MarkCompleted(ctx, j.ID, json.RawMessage(`{"ok":true}`), finished)
	require.NoError(t, err)
	require.NotNil(t, done)
	assert.Equal(t, state.StatusCompleted, done.Status)
	assert.True(t, done.CompletedAt.Equal(finished))
	assert.Nil(t, done.LockedBy)
	assert.Nil(t, done.LockedAt)
	assert.JSONEq(t, `{"ok":true}`, string(done.Result))

	again, err := jobs.MarkCompleted(ctx, j.ID, nil, finished.Add(time.Second))
	require.NoError(t, err)
	assert.Nil(t, again)

	missing, err := jobs.MarkCompleted(ctx, uuid.NewString(), nil, finished)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testRetryAndFail(t *testing.T, newStores Factory) {
	ctx := context.Background()
	jobs, _ := newStores(t)

	j := NewJob("x")
	_, err := jobs.Insert(ctx, j)
	require.NoError(t, err)
	_, err = jobs.Claim(ctx, claimAt(Base, "w"))
	require.NoError(t, err)

	ok, err := jobs.ScheduleRetry(ctx, j.ID, "intruder", "boom", Base.Add(2*time.Minute), Base)
	require.NoError(t, err)
	assert.False(t, ok, "retry guarded by owner")

	runAt := Base.Add(2 * time.Minute)
	ok, err = jobs.ScheduleRetry(ctx, j.ID, "w", "boom", runAt, Base)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := jobs.FindByID(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusPending, got.Status)
	assert.True(t, got.ScheduledAt.Equal(runAt))
	require.NotNil(t, got.NextRetryAt)
	assert.True(t, got.NextRetryAt.Equal(runAt))
	assert.Equal(t, "boom", *got.ErrorMessage)
	assert.Nil(t, got.LockedBy)
	assert.Equal(t, 1, got.Attempts)

	none, err := jobs.Claim(ctx, claimAt(Base.Add(time.Minute), "w"))
	require.NoError(t, err)
	assert.Nil(t, none, "not eligible before backoff elapses")

	_, err = jobs.Claim(ctx, claimAt(runAt, "w"))
	require.NoError(t, err)

	failed, err := jobs.MarkFailed(ctx, j.ID, "w", "fatal", runAt.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, failed)
	assert.Equal(t, state.StatusFailed, failed.Status)
	assert.Equal(t, "fatal", *failed.ErrorMessage)
	assert.Equal(t, 2, failed.Attempts)
	assert.NotNil(t, failed.CompletedAt)

	again, err := jobs.MarkFailed(ctx, j.ID, "w", "fatal", runAt)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func testCancel(t *testing.T, newStores Factory) {
	ctx := context.Background()
	jobs, _ := newStores(t)

	pending := NewJob("x")
	pending.JobKey = types.StringPtr("p")
	claimed := NewJob("x")
	claimed.JobKey = types.StringPtr("c")
	claimed.Priority = 1
	for _, j := range []*types.Job{pending, claimed} {
		_, err := jobs.Insert(ctx, j)
		require.NoError(t, err)
	}
	got, err := jobs.Claim(ctx, claimAt(Base, "w"))
	require.NoError(t, err)
	require.Equal(t, claimed.ID, got.ID)

	ok, err := jobs.CancelByKey(ctx, "c", Base)
	require.NoError(t, err)
	assert.False(t, ok, "processing jobs cannot be cancelled")

	ok, err = jobs.CancelByKey(ctx, "p", Base)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = jobs.CancelByKey(ctx, "p", Base)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = jobs.CancelByKey(ctx, "nope", Base)
	require.NoError(t, err)
	assert.False(t, ok)

	c, err := jobs.FindByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusCancelled, c.Status)
	assert.NotNil(t, c.CompletedAt)
}

func testReleaseStale(t *testing.T, newStores Factory) {
	ctx := context.Background()
	jobs, _ := newStores(t)

	retryable := NewJob("x")
	retryable.Priority = 2
	lastChance := NewJob("x")
	lastChance.Attempts = 2
	lastChance.Priority = 1
	fresh := NewJob("x")
	for _, j := range []*types.Job{retryable, lastChance, fresh} {
		_, err := jobs.Insert(ctx, j)
		require.NoError(t, err)
	}
	_, err := jobs.Claim(ctx, claimAt(Base, "w"))
	require.NoError(t, err)
	_, err = jobs.Claim(ctx, claimAt(Base, "w"))
	require.NoError(t, err)
	// Claim the third without reclaiming the two older leases.
	third, err := jobs.Claim(ctx, store.ClaimOptions{WorkerID: "w", Now: Base.Add(9 * time.Minute), StaleBefore: Base.Add(-time.Hour)})
	require.NoError(t, err)
	require.Equal(t, fresh.ID, third.ID)

	now := Base.Add(11 * time.Minute)
	released, failed, err := jobs.ReleaseStale(ctx, now.Add(-10*time.Minute), now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)
	require.Len(t, failed, 1)
	assert.Equal(t, lastChance.ID, failed[0].ID)
	assert.Equal(t, state.StatusFailed, failed[0].Status)

	r, err := jobs.FindByID(ctx, retryable.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusPending, r.Status)
	assert.Equal(t, 1, r.Attempts, "release leaves attempts untouched")
	assert.Nil(t, r.LockedBy)

	f, err := jobs.FindByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusProcessing, f.Status)

	l, err := jobs.FindByID(ctx, lastChance.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusFailed, l.Status)
	assert.Equal(t, store.LeaseExpiredMessage, *l.ErrorMessage)
}

func testDeleteFinished(t *testing.T, newStores Factory) {
	ctx := context.Background()
	jobs, _ := newStores(t)

	old := NewJob("x")
	old.JobKey = types.StringPtr("old")
	recent := NewJob("x")
	recent.JobKey = types.StringPtr("recent")
	live := NewJob("x")
	for _, j := range []*types.Job{old, recent, live} {
		_, err := jobs.Insert(ctx, j)
		require.NoError(t, err)
	}
	_, err := jobs.CancelByKey(ctx, "old", Base.Add(-8*24*time.Hour))
	require.NoError(t, err)
	_, err = jobs.CancelByKey(ctx, "recent", Base.Add(-6*24*time.Hour))
	require.NoError(t, err)

	n, err := jobs.DeleteFinishedBefore(ctx, Base.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = jobs.FindByID(ctx, old.ID)
	assert.ErrorIs(t, err, types.ErrJobNotFound)
	_, err = jobs.FindByID(ctx, recent.ID)
	assert.NoError(t, err)
	_, err = jobs.FindByID(ctx, live.ID)
	assert.NoError(t, err)
}

func testCountByStatus(t *testing.T, newStores Factory) {
	ctx := context.Background()
	jobs, _ := newStores(t)

	for i := 0; i < 3; i++ {
		j := NewJob("x")
		j.TenantID = types.StringPtr("a")
		_, err := jobs.Insert(ctx, j)
		require.NoError(t, err)
	}
	b := NewJob("x")
	b.TenantID = types.StringPtr("b")
	_, err := jobs.Insert(ctx, b)
	require.NoError(t, err)
	_, err = jobs.Insert(ctx, NewJob("x"))
	require.NoError(t, err)

	all, err := jobs.CountByStatus(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 5, all[state.StatusPending])
	assert.Len(t, all, len(state.AllStatuses))
	assert.Equal(t, 0, all[state.StatusFailed])

	a, err := jobs.CountByStatus(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 3, a[state.StatusPending])

	none, err := jobs.CountByStatus(ctx, "zzz")
	require.NoError(t, err)
	assert.Equal(t, 0, none[state.StatusPending])
	assert.Len(t, none, len(state.AllStatuses))
}

func testHistory(t *testing.T, newStores Factory) {
	ctx := context.Background()
	_, history := newStores(t)

	for i := 0; i < 5; i++ {
		status := state.StatusCompleted
		if i%2 == 1 {
			status = state.StatusFailed
		}
		rec := &types.HistoryRecord{
			ID:        uuid.NewString(),
			JobID:     uuid.NewString(),
			JobType:   "email",
			Payload:   json.RawMessage(`{}`),
			Status:    status,
			Duration:  time.Duration(i) * time.Second,
			Attempts:  1,
			CreatedAt: Base.Add(time.Duration(i) * time.Minute),
		}
		if i == 4 {
			rec.JobType = "sms"
			rec.TenantID = types.StringPtr("t1")
		}
		require.NoError(t, history.Append(ctx, rec))
	}

	items, total, err := history.List(ctx, types.HistoryFilter{}, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, items, 2)
	assert.True(t, items[0].CreatedAt.After(items[1].CreatedAt), "newest first")
	assert.Equal(t, "sms", items[0].JobType)
	assert.Equal(t, 4*time.Second, items[0].Duration)

	items, total, err = history.List(ctx, types.HistoryFilter{JobType: "email", Status: state.StatusFailed}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, items, 2)

	items, total, err = history.List(ctx, types.HistoryFilter{TenantID: "t1"}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, items, 1)

	items, _, err = history.List(ctx, types.HistoryFilter{}, 10, 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}
