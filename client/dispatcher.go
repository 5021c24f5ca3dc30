package client

import (
	"context"
	"fmt"

	"github.com/ronittamrakar/jobqueue/internal/identity"
	"github.com/ronittamrakar/jobqueue/internal/store"
	"github.com/ronittamrakar/jobqueue/types"
	"go.uber.org/zap"
)

// Dispatcher hands out jobs to the worker it was built for.
type Dispatcher struct {
	c *core
}

// FetchNext claims the highest-priority eligible job, optionally restricted to
// jobTypes, and returns nil when nothing is eligible. The claim is atomic
// across every dispatcher sharing the store.
func (d *Dispatcher) FetchNext(ctx context.Context, jobTypes ...string) (*types.Job, error) {
	c := d.c
	now := c.now()
	job, err := c.jobs.Claim(ctx, store.ClaimOptions{
		JobTypes:    jobTypes,
		WorkerID:    c.worker.String(),
		Now:         now,
		StaleBefore: now.Add(-c.claimStaleAfter),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch next: %w", err)
	}
	if job == nil {
		return nil, nil
	}

	c.metrics.RecordClaimed(job.JobType)
	c.logger.Debug("job claimed",
		zap.String("job_id", job.ID),
		zap.String("job_type", job.JobType),
		zap.Int("attempts", job.Attempts),
	)
	return job, nil
}

// WorkerID returns the identity this dispatcher claims under.
func (d *Dispatcher) WorkerID() identity.WorkerID {
	return d.c.worker
}
