package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ronittamrakar/jobqueue/internal/state"
	"github.com/ronittamrakar/jobqueue/types"
	"go.uber.org/zap"
)

// Enqueuer is the producer API.
type Enqueuer struct {
	c *core
}

// Schedule stores a pending job. payload is encoded as JSON; pass a
// json.RawMessage to store bytes as-is.
//
// When a job key is set and a pending or processing job already carries it,
// Schedule returns ("", false, nil) and writes nothing.
func (e *Enqueuer) Schedule(ctx context.Context, jobType string, payload any, opts ...ScheduleOption) (string, bool, error) {
	c := e.c
	if jobType == "" {
		return "", false, errors.New("schedule: job type is required")
	}

	o := scheduleOptions{maxAttempts: c.defaultMaxAttempts}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxAttempts < 1 {
		return "", false, fmt.Errorf("schedule %s: max attempts must be at least 1, got %d", jobType, o.maxAttempts)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", false, fmt.Errorf("schedule %s: %w: %v", jobType, types.ErrInvalidPayload, err)
	}

	now := c.now()
	runAt := now
	if o.at != nil {
		runAt = o.at.UTC()
	}
	job := &types.Job{
		ID:          c.newID(),
		TenantID:    types.StringPtr(o.tenantID),
		JobType:     jobType,
		JobKey:      types.StringPtr(o.jobKey),
		Payload:     body,
		Status:      state.StatusPending,
		ScheduledAt: runAt,
		Priority:    o.priority,
		MaxAttempts: o.maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if c.broker != nil {
		return e.publish(ctx, job)
	}

	inserted, err := c.jobs.Insert(ctx, job)
	if err != nil {
		return "", false, fmt.Errorf("schedule %s: %w", jobType, err)
	}
	if !inserted {
		c.metrics.RecordDeduplicated()
		c.logger.Debug("live job with the same key exists; skipped",
			zap.String("job_type", jobType),
			zap.String("job_key", o.jobKey),
		)
		return "", false, nil
	}

	c.metrics.RecordEnqueued()
	c.logger.Debug("job scheduled",
		zap.String("job_id", job.ID),
		zap.String("job_type", jobType),
		zap.Time("scheduled_at", runAt),
	)
	return job.ID, true, nil
}

// ScheduleIn schedules a job to run delay from now.
func (e *Enqueuer) ScheduleIn(ctx context.Context, jobType string, payload any, delay time.Duration, opts ...ScheduleOption) (string, bool, error) {
	opts = append(opts, At(e.c.now().Add(delay)))
	return e.Schedule(ctx, jobType, payload, opts...)
}

// Cancel moves the pending job carrying jobKey to cancelled. It returns false
// when no pending job has the key; claimed and finished jobs are left alone.
func (e *Enqueuer) Cancel(ctx context.Context, jobKey string) (bool, error) {
	c := e.c
	if jobKey == "" {
		return false, nil
	}
	ok, err := c.jobs.CancelByKey(ctx, jobKey, c.now())
	if err != nil {
		return false, fmt.Errorf("cancel %s: %w", jobKey, err)
	}
	if ok {
		c.metrics.RecordCancelled()
		c.logger.Info("job cancelled", zap.String("job_key", jobKey))
	}
	return ok, nil
}

// publish hands the job to the broker. The id is assigned up front. A key
// already live in the store is reported as not scheduled; a collision with a
// job still in flight on the broker is dropped when the queue writer inserts.
func (e *Enqueuer) publish(ctx context.Context, job *types.Job) (string, bool, error) {
	c := e.c
	if job.JobKey != nil {
		_, err := c.jobs.FindLiveByKey(ctx, *job.JobKey)
		if err == nil {
			c.metrics.RecordDeduplicated()
			c.logger.Debug("live job with the same key exists; not published",
				zap.String("job_type", job.JobType),
				zap.String("job_key", *job.JobKey),
			)
			return "", false, nil
		}
		if !errors.Is(err, types.ErrJobNotFound) {
			return "", false, fmt.Errorf("schedule %s: %w", job.JobType, err)
		}
	}
	body, err := json.Marshal(job)
	if err != nil {
		return "", false, fmt.Errorf("schedule %s: encode job: %w", job.JobType, err)
	}
	if err := c.broker.Publish(ctx, c.queue, body); err != nil {
		return "", false, fmt.Errorf("schedule %s: publish: %w", job.JobType, err)
	}
	c.metrics.RecordEnqueued()
	c.logger.Debug("job published",
		zap.String("job_id", job.ID),
		zap.String("job_type", job.JobType),
		zap.String("queue", c.queue),
	)
	return job.ID, true, nil
}
