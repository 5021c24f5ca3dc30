package client

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// MaintenanceSweeper recovers abandoned leases and purges finished rows.
type MaintenanceSweeper struct {
	c *core
}

// ReleaseStaleJobs returns processing jobs whose lease is older than
// staleAfter to pending, leaving attempts untouched, and reports how many were
// released. A lease that expired on the job's final attempt fails the job
// instead. A non-positive staleAfter uses the configured sweep window.
func (s *MaintenanceSweeper) ReleaseStaleJobs(ctx context.Context, staleAfter time.Duration) (int64, error) {
	c := s.c
	if staleAfter <= 0 {
		staleAfter = c.sweepStaleAfter
	}
	now := c.now()
	released, exhausted, err := c.jobs.ReleaseStale(ctx, now.Add(-staleAfter), now)
	if err != nil {
		return 0, fmt.Errorf("release stale jobs: %w", err)
	}

	for _, job := range exhausted {
		c.recordHistory(ctx, job)
		c.metrics.RecordFailed(job.JobType, durationSeconds(job))
		c.logger.Warn("lease expired on final attempt; job failed",
			zap.String("job_id", job.ID),
			zap.String("job_type", job.JobType),
			zap.Int("attempts", job.Attempts),
		)
	}
	c.metrics.RecordReleased(released)
	if released > 0 {
		c.logger.Info("released stale jobs", zap.Int64("count", released), zap.Duration("stale_after", staleAfter))
	}
	return released, nil
}

// Cleanup deletes completed, failed and cancelled jobs that finished more than
// retention ago. Live jobs and history are never touched. A non-positive
// retention uses the configured value.
func (s *MaintenanceSweeper) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	c := s.c
	if retention <= 0 {
		retention = c.retention
	}
	purged, err := c.jobs.DeleteFinishedBefore(ctx, c.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	c.metrics.RecordPurged(purged)
	if purged > 0 {
		c.logger.Info("purged finished jobs", zap.Int64("count", purged), zap.Duration("retention", retention))
	}
	return purged, nil
}
