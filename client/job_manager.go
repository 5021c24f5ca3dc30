package client

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ronittamrakar/jobqueue/internal/backoff"
	"github.com/ronittamrakar/jobqueue/internal/identity"
	"github.com/ronittamrakar/jobqueue/internal/message_broker"
	"github.com/ronittamrakar/jobqueue/internal/metrics"
	"github.com/ronittamrakar/jobqueue/internal/store"
	"github.com/ronittamrakar/jobqueue/types"
	"github.com/ronittamrakar/jobqueue/types/config"
	"go.uber.org/zap"
)

// core is the state shared by every engine component. Nothing in it caches job
// state; the store is consulted on every call.
type core struct {
	jobs    store.JobStore
	history store.HistoryStore
	worker  identity.WorkerID
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
	backoff backoff.Strategy
	newID   func() string

	claimStaleAfter    time.Duration
	sweepStaleAfter    time.Duration
	retention          time.Duration
	defaultMaxAttempts int

	broker message_broker.MessageBroker
	queue  string
}

// JobManager bundles the producer, worker and operational APIs over one pair
// of stores.
type JobManager struct {
	*Enqueuer
	*Dispatcher
	*OutcomeHandler
	*MaintenanceSweeper
	*StatsReporter

	core *core
}

func NewJobManager(jobs store.JobStore, history store.HistoryStore, worker identity.WorkerID, opts ...Option) *JobManager {
	c := &core{
		jobs:               jobs,
		history:            history,
		worker:             worker,
		logger:             zap.NewNop(),
		now:                func() time.Time { return time.Now().UTC() },
		backoff:            backoff.NewExponential(config.DefaultBackoffBase, 0),
		newID:              uuid.NewString,
		claimStaleAfter:    config.DefaultClaimStaleAfter,
		sweepStaleAfter:    config.DefaultSweepStaleAfter,
		retention:          config.DefaultRetention,
		defaultMaxAttempts: config.DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("worker", worker.String()))

	return &JobManager{
		Enqueuer:           &Enqueuer{c: c},
		Dispatcher:         &Dispatcher{c: c},
		OutcomeHandler:     &OutcomeHandler{c: c},
		MaintenanceSweeper: &MaintenanceSweeper{c: c},
		StatsReporter:      &StatsReporter{c: c},
		core:               c,
	}
}

// Jobs exposes the underlying job store, for the queue writer and admin tools.
func (jm *JobManager) Jobs() store.JobStore {
	return jm.core.jobs
}

// FindJob returns the current row for id.
func (jm *JobManager) FindJob(ctx context.Context, id string) (*types.Job, error) {
	return jm.core.jobs.FindByID(ctx, id)
}

func (jm *JobManager) Close() error {
	return jm.core.jobs.Close()
}

// recordHistory appends the terminal snapshot of job. A failed append is logged
// and counted; the status change it describes has already committed.
func (c *core) recordHistory(ctx context.Context, job *types.Job) {
	at := c.now()
	if job.CompletedAt != nil {
		at = *job.CompletedAt
	}
	rec := types.NewHistoryRecord(c.newID(), job, at)
	if err := c.history.Append(ctx, rec); err != nil {
		c.metrics.RecordHistoryWriteFailure()
		c.logger.Warn("history record not written; job status and history diverge",
			zap.String("job_id", job.ID),
			zap.String("job_type", job.JobType),
			zap.String("status", job.Status.String()),
			zap.Error(err),
		)
	}
}

func durationSeconds(job *types.Job) float64 {
	if job.StartedAt == nil || job.CompletedAt == nil {
		return 0
	}
	return job.CompletedAt.Sub(*job.StartedAt).Seconds()
}
