package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ronittamrakar/jobqueue/internal/state"
	"github.com/ronittamrakar/jobqueue/types"
	"go.uber.org/zap"
)

// OutcomeHandler records what happened to a claimed job.
type OutcomeHandler struct {
	c *core
}

// Complete marks a processing job completed with result, clears its lease and
// appends a history record. It returns false without changing anything when
// the job is missing or no longer processing.
func (h *OutcomeHandler) Complete(ctx context.Context, jobID string, result any) (bool, error) {
	c := h.c
	var raw json.RawMessage
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return false, fmt.Errorf("complete %s: encode result: %w", jobID, err)
		}
		raw = b
	}

	job, err := c.jobs.MarkCompleted(ctx, jobID, raw, c.now())
	if err != nil {
		return false, fmt.Errorf("complete %s: %w", jobID, err)
	}
	if job == nil {
		c.logger.Debug("complete ignored; job not processing", zap.String("job_id", jobID))
		return false, nil
	}

	c.recordHistory(ctx, job)
	c.metrics.RecordCompleted(job.JobType, durationSeconds(job))
	c.logger.Info("job completed",
		zap.String("job_id", job.ID),
		zap.String("job_type", job.JobType),
		zap.Int("attempts", job.Attempts),
	)
	return true, nil
}

// Fail records a failed attempt. With retry set and attempts left the job goes
// back to pending after an exponential backoff; otherwise it becomes failed and
// a history record is appended. The update only applies while this worker
// still holds the lease, so a job reclaimed by another worker returns false.
func (h *OutcomeHandler) Fail(ctx context.Context, jobID, errMsg string, retry bool) (bool, error) {
	c := h.c
	job, err := c.jobs.FindByID(ctx, jobID)
	if errors.Is(err, types.ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("fail %s: %w", jobID, err)
	}
	if job.Status != state.StatusProcessing || job.LockedBy == nil {
		c.logger.Debug("fail ignored; job not processing",
			zap.String("job_id", jobID),
			zap.String("status", job.Status.String()),
		)
		return false, nil
	}
	owner := c.worker.String()
	if *job.LockedBy != owner {
		c.logger.Warn("fail ignored; lease held by another worker",
			zap.String("job_id", jobID),
			zap.String("locked_by", *job.LockedBy),
		)
		return false, nil
	}
	now := c.now()

	if retry && job.CanRetry() {
		delay := c.backoff.Delay(job.Attempts)
		ok, err := c.jobs.ScheduleRetry(ctx, job.ID, owner, errMsg, now.Add(delay), now)
		if err != nil {
			return false, fmt.Errorf("fail %s: schedule retry: %w", jobID, err)
		}
		if ok {
			c.metrics.RecordRetried(job.JobType)
			c.logger.Info("job failed; retry scheduled",
				zap.String("job_id", job.ID),
				zap.String("job_type", job.JobType),
				zap.Int("attempts", job.Attempts),
				zap.Duration("backoff", delay),
				zap.String("error", errMsg),
			)
		}
		return ok, nil
	}

	failed, err := c.jobs.MarkFailed(ctx, job.ID, owner, errMsg, now)
	if err != nil {
		return false, fmt.Errorf("fail %s: %w", jobID, err)
	}
	if failed == nil {
		return false, nil
	}

	c.recordHistory(ctx, failed)
	c.metrics.RecordFailed(failed.JobType, durationSeconds(failed))
	c.logger.Warn("job failed permanently",
		zap.String("job_id", failed.ID),
		zap.String("job_type", failed.JobType),
		zap.Int("attempts", failed.Attempts),
		zap.Bool("retryable", retry),
		zap.String("error", errMsg),
	)
	return true, nil
}
