package types

import (
	"time"

	"github.com/ronittamrakar/jobqueue/internal/state"
)

// JobResult is what a processor slot reports after running a handler.
type JobResult struct {
	JobID    string
	JobType  string
	Err      error
	Retry    bool
	Attempts int
	Status   state.JobStatus
	Output   any
	RanAt    time.Time
	Elapsed  time.Duration
}
