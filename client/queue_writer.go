package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ronittamrakar/jobqueue/internal/message_broker"
	"github.com/ronittamrakar/jobqueue/internal/state"
	"github.com/ronittamrakar/jobqueue/internal/store"
	"github.com/ronittamrakar/jobqueue/types"
	"github.com/ronittamrakar/jobqueue/types/config"
	"go.uber.org/zap"
)

// QueueWriter drains jobs published by a broker-backed Enqueuer into the job
// store in batches. Messages are acked only after their batch is stored.
type QueueWriter struct {
	broker        message_broker.MessageBroker
	jobs          store.JobStore
	queue         string
	batchSize     int
	flushInterval time.Duration
	logger        *zap.Logger
}

func NewQueueWriter(broker message_broker.MessageBroker, jobs store.JobStore, queue string, batchSize int, flushInterval time.Duration, logger *zap.Logger) *QueueWriter {
	if batchSize <= 0 {
		batchSize = config.DefaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = config.DefaultFlushInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueWriter{
		broker:        broker,
		jobs:          jobs,
		queue:         queue,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger.With(zap.String("queue", queue)),
	}
}

// Start consumes until ctx is cancelled or the delivery channel closes, then
// flushes what it holds.
func (w *QueueWriter) Start(ctx context.Context) error {
	deliveries, err := w.broker.Consume(ctx, w.queue)
	if err != nil {
		return fmt.Errorf("queue writer: consume %s: %w", w.queue, err)
	}
	w.logger.Info("queue writer started", zap.Int("batch_size", w.batchSize))

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	batch := make([]*types.Job, 0, w.batchSize)
	pending := make([]message_broker.Delivery, 0, w.batchSize)

	flush := func() {
		if len(pending) == 0 {
			return
		}
		w.flush(context.WithoutCancel(ctx), batch, pending)
		batch = batch[:0]
		pending = pending[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			w.logger.Info("queue writer stopped")
			return nil

		case d, ok := <-deliveries:
			if !ok {
				flush()
				w.logger.Info("delivery channel closed")
				return nil
			}
			job, err := decodeJob(d.Body)
			if err != nil {
				w.logger.Error("dropping undecodable message", zap.Error(err))
				if nackErr := d.Nack(false); nackErr != nil {
					w.logger.Error("nack failed", zap.Error(nackErr))
				}
				continue
			}
			batch = append(batch, job)
			pending = append(pending, d)
			if len(batch) >= w.batchSize {
				flush()
			}

		case <-ticker.C:
			flush()
		}
	}
}

func (w *QueueWriter) flush(ctx context.Context, batch []*types.Job, deliveries []message_broker.Delivery) {
	inserted, err := w.jobs.InsertMany(ctx, batch)
	if err != nil {
		w.logger.Warn("batch insert failed; storing jobs one by one", zap.Int("size", len(batch)), zap.Error(err))
		for i, job := range batch {
			w.storeOne(ctx, job, deliveries[i])
		}
		return
	}

	for _, d := range deliveries {
		ack(w.logger, d)
	}
	if dropped := len(batch) - inserted; dropped > 0 {
		w.logger.Info("dropped jobs whose key is already live", zap.Int("dropped", dropped))
	}
	w.logger.Debug("batch stored", zap.Int("inserted", inserted))
}

// storeOne isolates a failing batch. A job whose id is already stored is a
// redelivery and is acked; anything else goes back to the broker.
func (w *QueueWriter) storeOne(ctx context.Context, job *types.Job, d message_broker.Delivery) {
	if _, err := w.jobs.Insert(ctx, job); err != nil {
		if _, findErr := w.jobs.FindByID(ctx, job.ID); findErr == nil {
			ack(w.logger, d)
			return
		}
		w.logger.Error("job insert failed; requeueing", zap.String("job_id", job.ID), zap.Error(err))
		if nackErr := d.Nack(true); nackErr != nil {
			w.logger.Error("nack failed", zap.Error(nackErr))
		}
		return
	}
	ack(w.logger, d)
}

func ack(logger *zap.Logger, d message_broker.Delivery) {
	if err := d.Ack(); err != nil {
		logger.Error("ack failed", zap.Error(err))
	}
}

func decodeJob(body []byte) (*types.Job, error) {
	var job types.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidPayload, err)
	}
	if job.ID == "" || job.JobType == "" {
		return nil, fmt.Errorf("%w: job id and type are required", types.ErrInvalidPayload)
	}
	if job.MaxAttempts < 1 {
		job.MaxAttempts = config.DefaultMaxAttempts
	}
	job.Status = state.StatusPending
	job.Attempts = 0
	job.LockedBy, job.LockedAt, job.StartedAt, job.CompletedAt = nil, nil, nil, nil
	return &job, nil
}
