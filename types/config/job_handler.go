package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ronittamrakar/jobqueue/types"
)

// HandlerFunc runs one claimed job. The returned value is stored as the job result.
type HandlerFunc func(ctx context.Context, job *types.Job) (any, error)

type JobHandler struct {
	handlers map[string]HandlerFunc
	mutex    sync.RWMutex
}

func NewJobHandler() *JobHandler {
	return &JobHandler{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register adds a new job handler by job type.
func (jh *JobHandler) Register(jobType string, handler HandlerFunc) error {
	if jobType == "" || handler == nil {
		return fmt.Errorf("handler must have a job type and function")
	}
	jh.mutex.Lock()
	defer jh.mutex.Unlock()

	if _, exists := jh.handlers[jobType]; exists {
		return fmt.Errorf("handler '%s' already registered", jobType)
	}
	jh.handlers[jobType] = handler
	return nil
}

func (jh *JobHandler) Exists(jobType string) bool {
	jh.mutex.RLock()
	defer jh.mutex.RUnlock()

	_, exists := jh.handlers[jobType]
	return exists
}

func (jh *JobHandler) Execute(ctx context.Context, job *types.Job) (any, error) {
	jh.mutex.RLock()
	handler, exists := jh.handlers[job.JobType]
	jh.mutex.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: '%s'", types.ErrHandlerNotFound, job.JobType)
	}
	return handler(ctx, job)
}

// List returns the registered job types in sorted order.
func (jh *JobHandler) List() []string {
	jh.mutex.RLock()
	defer jh.mutex.RUnlock()

	names := make([]string, 0, len(jh.handlers))
	for name := range jh.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
