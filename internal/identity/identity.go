// Package identity builds the worker identity stamped on claimed jobs.
package identity

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// WorkerID is the lease owner written to locked_by.
type WorkerID string

func (w WorkerID) String() string { return string(w) }

// New returns host:pid:random. Call it once per process and inject the value.
func New() WorkerID {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return WorkerID(fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString()[:8]))
}
