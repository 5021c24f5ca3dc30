package types

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ronittamrakar/jobqueue/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_DecodePayload(t *testing.T) {
	j := &Job{ID: "1", Payload: json.RawMessage(`{"to":"a@b.c"}`)}
	var p struct {
		To string `json:"to"`
	}
	require.NoError(t, j.DecodePayload(&p))
	assert.Equal(t, "a@b.c", p.To)

	bad := &Job{ID: "2", Payload: json.RawMessage(`{`)}
	assert.True(t, errors.Is(bad.DecodePayload(&p), ErrInvalidPayload))

	empty := &Job{ID: "3"}
	assert.True(t, errors.Is(empty.DecodePayload(&p), ErrInvalidPayload))
}

func TestJob_CloneIsDeep(t *testing.T) {
	now := time.Now()
	j := &Job{
		ID:       "1",
		JobKey:   StringPtr("k"),
		LockedAt: TimePtr(now),
		Payload:  json.RawMessage(`{}`),
	}
	cp := j.Clone()
	*cp.JobKey = "changed"
	cp.Payload[0] = '['
	*cp.LockedAt = now.Add(time.Hour)

	assert.Equal(t, "k", *j.JobKey)
	assert.Equal(t, byte('{'), j.Payload[0])
	assert.True(t, j.LockedAt.Equal(now))
	assert.Nil(t, (*Job)(nil).Clone())
}

func TestStringPtr(t *testing.T) {
	assert.Nil(t, StringPtr(""))
	assert.Equal(t, "x", *StringPtr("x"))
}

func TestNewHistoryRecord_Duration(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	j := &Job{
		ID:          "j",
		JobType:     "email",
		Status:      state.StatusCompleted,
		Attempts:    2,
		StartedAt:   &start,
		CompletedAt: &end,
		Result:      json.RawMessage(`"ok"`),
	}
	rec := NewHistoryRecord("h", j, end)
	assert.Equal(t, 90*time.Second, rec.Duration)
	assert.Equal(t, "j", rec.JobID)
	assert.Equal(t, 2, rec.Attempts)
	assert.Equal(t, state.StatusCompleted, rec.Status)
}

func TestNewPaginationResult(t *testing.T) {
	res := NewPaginationResult([]int{1, 2}, 5, 2, 2)
	assert.Equal(t, 3, res.TotalPages)
	assert.True(t, res.HasNextPage)
	assert.True(t, res.HasPreviousPage)

	empty := NewPaginationResult[int](nil, 0, 1, 20)
	assert.NotNil(t, empty.Items)
	assert.False(t, empty.HasNextPage)

	page, size, offset := NormalizePage(0, 1000, 500)
	assert.Equal(t, 1, page)
	assert.Equal(t, 500, size)
	assert.Equal(t, 0, offset)
}
