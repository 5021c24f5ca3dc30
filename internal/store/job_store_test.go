package store

import (
	"testing"

	"github.com/ronittamrakar/jobqueue/internal/state"
	"github.com/stretchr/testify/assert"
)

func TestZeroFilled(t *testing.T) {
	got := ZeroFilled(map[state.JobStatus]int{state.StatusPending: 3})
	assert.Len(t, got, len(state.AllStatuses))
	assert.Equal(t, 3, got[state.StatusPending])
	assert.Equal(t, 0, got[state.StatusCancelled])

	assert.Len(t, ZeroFilled(nil), len(state.AllStatuses))
}
