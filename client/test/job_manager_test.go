package test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ronittamrakar/jobqueue/client"
	"github.com/ronittamrakar/jobqueue/internal/state"
	"github.com/ronittamrakar/jobqueue/internal/store"
	"github.com/ronittamrakar/jobqueue/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedule_Defaults(t *testing.T) {
	forEachDriver(t, func(t *testing.T, e *engine) {
		ctx := context.Background()
		jm := e.manager("w1")

		id, scheduled, err := jm.Schedule(ctx, "email", map[string]string{"to": "a@b.c"}, client.WithTenant("acme"))
		require.NoError(t, err)
		require.True(t, scheduled)
		require.NotEmpty(t, id)

		job, err := jm.FindJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, state.StatusPending, job.Status)
		assert.Equal(t, 0, job.Attempts)
		assert.Equal(t, 3, job.MaxAttempts)
		assert.Equal(t, 0, job.Priority)
		assert.True(t, job.ScheduledAt.Equal(e.clock.Now()))
		assert.Equal(t, "acme", *job.TenantID)
		assert.Nil(t, job.JobKey)

		var payload map[string]string
		require.NoError(t, job.DecodePayload(&payload))
		assert.Equal(t, "a@b.c", payload["to"])
	})
}

func TestSchedule_Validation(t *testing.T) {
	jm := (&engine{jobs: nil, clock: newTestClock()}).manager("w1")
	ctx := context.Background()

	_, _, err := jm.Schedule(ctx, "", nil)
	assert.Error(t, err)

	_, _, err = jm.Schedule(ctx, "x", nil, client.WithMaxAttempts(0))
	assert.Error(t, err)

	_, _, err = jm.Schedule(ctx, "x", func() {})
	assert.ErrorIs(t, err, types.ErrInvalidPayload)
}

func TestScheduleIn_DelaysEligibility(t *testing.T) {
	forEachDriver(t, func(t *testing.T, e *engine) {
		ctx := context.Background()
		jm := e.manager("w1")

		id, _, err := jm.ScheduleIn(ctx, "report", nil, 10*time.Minute)
		require.NoError(t, err)

		job, err := jm.FetchNext(ctx)
		require.NoError(t, err)
		assert.Nil(t, job)

		e.clock.Advance(10 * time.Minute)
		job, err = jm.FetchNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, id, job.ID)
	})
}

func TestSchedule_DedupIsIdempotent(t *testing.T) {
	forEachDriver(t, func(t *testing.T, e *engine) {
		ctx := context.Background()
		jm := e.manager("w1")

		first, scheduled, err := jm.Schedule(ctx, "sync", nil, client.WithJobKey("user-1"))
		require.NoError(t, err)
		require.True(t, scheduled)

		for i := 0; i < 3; i++ {
			id, scheduled, err := jm.Schedule(ctx, "sync", nil, client.WithJobKey("user-1"))
			require.NoError(t, err)
			assert.False(t, scheduled)
			assert.Empty(t, id)
		}

		// processing still blocks the key
		claimed, err := jm.FetchNext(ctx)
		require.NoError(t, err)
		require.Equal(t, first, claimed.ID)
		_, scheduled, err = jm.Schedule(ctx, "sync", nil, client.WithJobKey("user-1"))
		require.NoError(t, err)
		assert.False(t, scheduled)

		// a finished job frees it
		ok, err := jm.Complete(ctx, first, nil)
		require.NoError(t, err)
		require.True(t, ok)
		second, scheduled, err := jm.Schedule(ctx, "sync", nil, client.WithJobKey("user-1"))
		require.NoError(t, err)
		assert.True(t, scheduled)
		assert.NotEqual(t, first, second)

		stats, err := jm.GetStats(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, 1, stats[state.StatusPending])
		assert.Equal(t, 1, stats[state.StatusCompleted])
	})
}

func TestFetchNext_AtMostOneClaim(t *testing.T) {
	forEachDriver(t, func(t *testing.T, e *engine) {
		ctx := context.Background()
		producer := e.manager("producer")

		const total = 25
		for i := 0; i < total; i++ {
			_, _, err := producer.Schedule(ctx, "work", i)
			require.NoError(t, err)
		}

		var (
			mu      sync.Mutex
			claimed = make(map[string]string)
			dupes   []string
			wg      sync.WaitGroup
		)
		for w := 0; w < 6; w++ {
			worker := e.manager(fmt.Sprintf("worker-%d", w))
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					job, err := worker.FetchNext(ctx)
					if err != nil || job == nil {
						return
					}
					mu.Lock()
					if _, seen := claimed[job.ID]; seen {
						dupes = append(dupes, job.ID)
					}
					claimed[job.ID] = *job.LockedBy
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Empty(t, dupes)
		assert.Len(t, claimed, total)

		stats, err := producer.GetStats(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, total, stats[state.StatusProcessing])
	})
}

func TestFetchNext_FiltersByJobType(t *testing.T) {
	forEachDriver(t, func(t *testing.T, e *engine) {
		ctx := context.Background()
		jm := e.manager("w1")

		_, _, err := jm.Schedule(ctx, "a", nil, client.WithPriority(10))
		require.NoError(t, err)
		bID, _, err := jm.Schedule(ctx, "b", nil)
		require.NoError(t, err)

		job, err := jm.FetchNext(ctx, "b")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, bID, job.ID)
		assert.Equal(t, "w1", *job.LockedBy)
		assert.Equal(t, 1, job.Attempts)
	})
}

// Three transient failures with the default policy: retries at +2m and +4m,
// then failed on the third attempt.
func TestFail_BackoffThenFailed(t *testing.T) {
	forEachDriver(t, func(t *testing.T, e *engine) {
		ctx := context.Background()
		jm := e.manager("w1")

		id, _, err := jm.Schedule(ctx, "flaky", map[string]int{"n": 1})
		require.NoError(t, err)

		for attempt, backoff := range []time.Duration{2 * time.Minute, 4 * time.Minute} {
			job, err := jm.FetchNext(ctx)
			require.NoError(t, err)
			require.NotNil(t, job)
			require.Equal(t, attempt+1, job.Attempts)

			ok, err := jm.Fail(ctx, id, "timeout", true)
			require.NoError(t, err)
			require.True(t, ok)

			job, err = jm.FindJob(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, state.StatusPending, job.Status)
			assert.Nil(t, job.LockedBy)
			assert.Equal(t, "timeout", *job.ErrorMessage)
			want := e.clock.Now().Add(backoff)
			assert.True(t, job.ScheduledAt.Equal(want), "scheduled_at %s, want %s", job.ScheduledAt, want)
			require.NotNil(t, job.NextRetryAt)
			assert.True(t, job.NextRetryAt.Equal(want))

			// not eligible before the backoff elapses
			e.clock.Advance(backoff - time.Second)
			early, err := jm.FetchNext(ctx)
			require.NoError(t, err)
			assert.Nil(t, early)
			e.clock.Advance(time.Second)
		}

		job, err := jm.FetchNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, 3, job.Attempts)

		ok, err := jm.Fail(ctx, id, "timeout", true)
		require.NoError(t, err)
		require.True(t, ok)

		job, err = jm.FindJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, state.StatusFailed, job.Status)
		assert.NotNil(t, job.CompletedAt)

		stats, err := jm.GetStats(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, 1, stats[state.StatusFailed])
		assert.Equal(t, 0, stats[state.StatusPending])

		history, err := jm.History(ctx, 1, 10, types.HistoryFilter{})
		require.NoError(t, err)
		require.Len(t, history.Items, 1)
		assert.Equal(t, id, history.Items[0].JobID)
		assert.Equal(t, state.StatusFailed, history.Items[0].Status)
		assert.Equal(t, 3, history.Items[0].Attempts)

		// nothing left to claim
		next, err := jm.FetchNext(ctx)
		require.NoError(t, err)
		assert.Nil(t, next)
	})
}

func TestFail_NonRetryableSkipsBackoff(t *testing.T) {
	forEachDriver(t, func(t *testing.T, e *engine) {
		ctx := context.Background()
		jm := e.manager("w1")

		id, _, err := jm.Schedule(ctx, "x", nil)
		require.NoError(t, err)
		_, err = jm.FetchNext(ctx)
		require.NoError(t, err)

		ok, err := jm.Fail(ctx, id, "bad input", false)
		require.NoError(t, err)
		require.True(t, ok)

		job, err := jm.FindJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, state.StatusFailed, job.Status)
		assert.Equal(t, 1, job.Attempts)

		// repeat is a no-op
		ok, err = jm.Fail(ctx, id, "bad input", false)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestComplete_RecordsResultAndHistory(t *testing.T) {
	forEachDriver(t, func(t *testing.T, e *engine) {
		ctx := context.Background()
		jm := e.manager("w1")

		id, _, err := jm.Schedule(ctx, "resize", nil, client.WithTenant("acme"))
		require.NoError(t, err)
		_, err = jm.FetchNext(ctx)
		require.NoError(t, err)

		e.clock.Advance(1500 * time.Millisecond)
		ok, err := jm.Complete(ctx, id, map[string]int{"width": 64})
		require.NoError(t, err)
		require.True(t, ok)

		job, err := jm.FindJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, state.StatusCompleted, job.Status)
		assert.Nil(t, job.LockedBy)
		assert.Nil(t, job.LockedAt)
		assert.JSONEq(t, `{"width":64}`, string(job.Result))

		ok, err = jm.Complete(ctx, id, nil)
		require.NoError(t, err)
		assert.False(t, ok, "second complete must not change state")

		ok, err = jm.Complete(ctx, "missing", nil)
		require.NoError(t, err)
		assert.False(t, ok)

		history, err := jm.History(ctx, 1, 10, types.HistoryFilter{TenantID: "acme", Status: state.StatusCompleted})
		require.NoError(t, err)
		require.Len(t, history.Items, 1)
		assert.Equal(t, 1500*time.Millisecond, history.Items[0].Duration)
		assert.Equal(t, 1, history.Items[0].Attempts)
		var result map[string]int
		require.NoError(t, json.Unmarshal(history.Items[0].Result, &result))
		assert.Equal(t, 64, result["width"])
	})
}

func TestFetchNext_ReclaimsAbandonedLease(t *testing.T) {
	forEachDriver(t, func(t *testing.T, e *engine) {
		ctx := context.Background()
		a := e.manager("worker-a")
		b := e.manager("worker-b")

		id, _, err := a.Schedule(ctx, "x", nil)
		require.NoError(t, err)
		job, err := a.FetchNext(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, job.Attempts)

		e.clock.Advance(4 * time.Minute)
		none, err := b.FetchNext(ctx)
		require.NoError(t, err)
		assert.Nil(t, none, "a live lease must not be reclaimed")

		e.clock.Advance(2 * time.Minute)
		job, err = b.FetchNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, id, job.ID)
		assert.Equal(t, 2, job.Attempts, "one increment per claim")
		assert.Equal(t, "worker-b", *job.LockedBy)
	})
}

// A worker whose lease was reclaimed cannot fail the new holder's attempt.
func TestFail_AfterReclaimLeavesNewHolder(t *testing.T) {
	forEachDriver(t, func(t *testing.T, e *engine) {
		ctx := context.Background()
		a := e.manager("worker-a")
		b := e.manager("worker-b")

		id, _, err := a.Schedule(ctx, "x", nil)
		require.NoError(t, err)
		_, err = a.FetchNext(ctx)
		require.NoError(t, err)

		e.clock.Advance(5*time.Minute + time.Millisecond)
		job, err := b.FetchNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		require.Equal(t, "worker-b", *job.LockedBy)

		for _, retry := range []bool{true, false} {
			ok, err := a.Fail(ctx, id, "late timeout", retry)
			require.NoError(t, err)
			assert.False(t, ok)
		}

		job, err = b.FindJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, state.StatusProcessing, job.Status)
		assert.Equal(t, "worker-b", *job.LockedBy)

		ok, err := b.Complete(ctx, id, "done")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestReleaseStaleJobs(t *testing.T) {
	forEachDriver(t, func(t *testing.T, e *engine) {
		ctx := context.Background()
		jm := e.manager("w1")

		id, _, err := jm.Schedule(ctx, "x", nil)
		require.NoError(t, err)
		lastTry, _, err := jm.Schedule(ctx, "x", nil, client.WithMaxAttempts(1))
		require.NoError(t, err)
		_, err = jm.FetchNext(ctx)
		require.NoError(t, err)
		_, err = jm.FetchNext(ctx)
		require.NoError(t, err)

		e.clock.Advance(9 * time.Minute)
		released, err := jm.ReleaseStaleJobs(ctx, 0)
		require.NoError(t, err)
		assert.Zero(t, released)

		e.clock.Advance(2 * time.Minute)
		released, err = jm.ReleaseStaleJobs(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), released)

		job, err := jm.FindJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, state.StatusPending, job.Status)
		assert.Equal(t, 1, job.Attempts, "release leaves attempts alone")
		assert.Nil(t, job.LockedBy)

		job, err = jm.FindJob(ctx, lastTry)
		require.NoError(t, err)
		assert.Equal(t, state.StatusFailed, job.Status)
		assert.Equal(t, store.LeaseExpiredMessage, *job.ErrorMessage)

		history, err := jm.History(ctx, 1, 10, types.HistoryFilter{Status: state.StatusFailed})
		require.NoError(t, err)
		require.Len(t, history.Items, 1)
		assert.Equal(t, lastTry, history.Items[0].JobID)
	})
}

func TestCancel_OnlyAffectsPending(t *testing.T) {
	forEachDriver(t, func(t *testing.T, e *engine) {
		ctx := context.Background()
		jm := e.manager("w1")

		pending, _, err := jm.Schedule(ctx, "x", nil, client.WithJobKey("k-pending"), client.At(e.clock.Now().Add(time.Hour)))
		require.NoError(t, err)
		claimed, _, err := jm.Schedule(ctx, "x", nil, client.WithJobKey("k-claimed"))
		require.NoError(t, err)
		_, err = jm.FetchNext(ctx)
		require.NoError(t, err)

		ok, err := jm.Cancel(ctx, "k-pending")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = jm.Cancel(ctx, "k-pending")
		require.NoError(t, err)
		assert.False(t, ok, "already cancelled")
		ok, err = jm.Cancel(ctx, "k-claimed")
		require.NoError(t, err)
		assert.False(t, ok, "claimed jobs cannot be cancelled")
		ok, err = jm.Cancel(ctx, "unknown")
		require.NoError(t, err)
		assert.False(t, ok)

		job, err := jm.FindJob(ctx, pending)
		require.NoError(t, err)
		assert.Equal(t, state.StatusCancelled, job.Status)
		assert.NotNil(t, job.CompletedAt)

		job, err = jm.FindJob(ctx, claimed)
		require.NoError(t, err)
		assert.Equal(t, state.StatusProcessing, job.Status)

		// the cancelled key is free again
		_, scheduled, err := jm.Schedule(ctx, "x", nil, client.WithJobKey("k-pending"))
		require.NoError(t, err)
		assert.True(t, scheduled)
	})
}

func TestCleanup_RetentionBoundary(t *testing.T) {
	forEachDriver(t, func(t *testing.T, e *engine) {
		ctx := context.Background()
		jm := e.manager("w1")

		done, _, err := jm.Schedule(ctx, "x", nil)
		require.NoError(t, err)
		_, err = jm.FetchNext(ctx)
		require.NoError(t, err)
		_, err = jm.Complete(ctx, done, nil)
		require.NoError(t, err)

		live, _, err := jm.Schedule(ctx, "x", nil, client.At(e.clock.Now().Add(30*24*time.Hour)))
		require.NoError(t, err)

		e.clock.Advance(7*24*time.Hour - time.Minute)
		purged, err := jm.Cleanup(ctx, 0)
		require.NoError(t, err)
		assert.Zero(t, purged)

		e.clock.Advance(2 * time.Minute)
		purged, err = jm.Cleanup(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), purged)

		_, err = jm.FindJob(ctx, done)
		assert.ErrorIs(t, err, types.ErrJobNotFound)
		_, err = jm.FindJob(ctx, live)
		assert.NoError(t, err)

		history, err := jm.History(ctx, 1, 10, types.HistoryFilter{})
		require.NoError(t, err)
		assert.Equal(t, 1, history.TotalItems, "cleanup never touches history")
	})
}

func TestStats_TenantScope(t *testing.T) {
	forEachDriver(t, func(t *testing.T, e *engine) {
		ctx := context.Background()
		jm := e.manager("w1")

		for _, tenant := range []string{"a", "a", "b"} {
			_, _, err := jm.Schedule(ctx, "x", nil, client.WithTenant(tenant))
			require.NoError(t, err)
		}

		n, err := jm.GetPendingCount(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		n, err = jm.GetPendingCount(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		stats, err := jm.GetStats(ctx, "b")
		require.NoError(t, err)
		assert.Len(t, stats, len(state.AllStatuses))
		assert.Equal(t, 1, stats[state.StatusPending])
		assert.Equal(t, 0, stats[state.StatusCancelled])
	})
}
