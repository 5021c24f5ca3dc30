package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ronittamrakar/jobqueue/internal/state"
	"github.com/ronittamrakar/jobqueue/types"
	"github.com/ronittamrakar/jobqueue/types/config"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Worker is the part of the engine a processor drives.
type Worker interface {
	FetchNext(ctx context.Context, jobTypes ...string) (*types.Job, error)
	Complete(ctx context.Context, jobID string, result any) (bool, error)
	Fail(ctx context.Context, jobID, errMsg string, retry bool) (bool, error)
}

// Processor polls for jobs of its registered types and runs them on a bounded
// number of slots.
type Processor struct {
	worker       Worker
	handlers     *config.JobHandler
	workerCount  int
	pollInterval time.Duration
	jobTimeout   time.Duration
	logger       *zap.Logger
}

type ProcessorOption func(*Processor)

func WithWorkerCount(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.workerCount = n
		}
	}
}

func WithPollInterval(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithJobTimeout bounds each handler call.
func WithJobTimeout(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.jobTimeout = d
		}
	}
}

func WithProcessorLogger(logger *zap.Logger) ProcessorOption {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewProcessor(worker Worker, handlers *config.JobHandler, opts ...ProcessorOption) *Processor {
	p := &Processor{
		worker:       worker,
		handlers:     handlers,
		workerCount:  config.DefaultWorkerCount,
		pollInterval: config.DefaultPollInterval,
		jobTimeout:   config.DefaultJobTimeout,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start claims and runs jobs until ctx is cancelled, then waits for in-flight
// handlers and their outcomes before returning ctx.Err().
func (p *Processor) Start(ctx context.Context) error {
	jobTypes := p.handlers.List()
	if len(jobTypes) == 0 {
		return errors.New("processor: no handlers registered")
	}
	p.logger.Info("processor started",
		zap.Strings("job_types", jobTypes),
		zap.Int("slots", p.workerCount),
	)

	results := make(chan types.JobResult, p.workerCount)
	reported := make(chan struct{})
	go func() {
		defer close(reported)
		for res := range results {
			p.report(context.WithoutCancel(ctx), res)
		}
	}()

	sem := semaphore.NewWeighted(int64(p.workerCount))
	var wg sync.WaitGroup

	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		job, err := p.worker.FetchNext(ctx, jobTypes...)
		if err != nil || job == nil {
			sem.Release(1)
			if err != nil && ctx.Err() == nil {
				p.logger.Error("claim failed", zap.Error(err))
			}
			if !sleep(ctx, p.pollInterval) {
				break
			}
			continue
		}

		wg.Add(1)
		go func(job *types.Job) {
			defer wg.Done()
			defer sem.Release(1)
			results <- p.run(ctx, job)
		}(job)
	}

	wg.Wait()
	close(results)
	<-reported
	p.logger.Info("processor stopped")
	return ctx.Err()
}

// ProcessNext claims one job, runs it and records the outcome. It returns
// false when there was nothing to claim.
func (p *Processor) ProcessNext(ctx context.Context) (bool, error) {
	job, err := p.worker.FetchNext(ctx, p.handlers.List()...)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	p.report(ctx, p.run(ctx, job))
	return true, nil
}

func (p *Processor) run(ctx context.Context, job *types.Job) types.JobResult {
	res := types.JobResult{
		JobID:    job.ID,
		JobType:  job.JobType,
		Attempts: job.Attempts,
		RanAt:    time.Now(),
	}

	jobCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	out, err := p.execute(jobCtx, job)
	res.Elapsed = time.Since(res.RanAt)
	if err != nil {
		res.Status = state.StatusFailed
		res.Err = err
		res.Retry = retryable(err)
		return res
	}
	res.Status = state.StatusCompleted
	res.Output = out
	return res
}

func (p *Processor) execute(ctx context.Context, job *types.Job) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in job %s: %v", job.ID, r)
		}
	}()
	return p.handlers.Execute(ctx, job)
}

func (p *Processor) report(ctx context.Context, res types.JobResult) {
	log := p.logger.With(
		zap.String("job_id", res.JobID),
		zap.String("job_type", res.JobType),
		zap.Int("attempts", res.Attempts),
	)

	var (
		ok  bool
		err error
	)
	switch res.Status {
	case state.StatusCompleted:
		ok, err = p.worker.Complete(ctx, res.JobID, res.Output)
	case state.StatusFailed:
		ok, err = p.worker.Fail(ctx, res.JobID, res.Err.Error(), res.Retry)
	default:
		log.Error("unknown job result status", zap.String("status", res.Status.String()))
		return
	}
	if err != nil {
		log.Error("recording outcome failed", zap.Error(err))
		return
	}
	if !ok {
		log.Warn("outcome not recorded; lease no longer held", zap.String("status", res.Status.String()))
	}
}

// retryable routes handler errors. Missing handlers, undecodable payloads and
// Permanent errors never succeed on a later attempt.
func retryable(err error) bool {
	switch {
	case IsPermanent(err):
		return false
	case errors.Is(err, types.ErrHandlerNotFound), errors.Is(err, types.ErrInvalidPayload):
		return false
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
