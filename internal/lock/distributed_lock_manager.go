package lock

import (
	"errors"
	"time"
)

// ErrNotHeld is returned by Release when this manager does not own the lock.
var ErrNotHeld = errors.New("lock not held")

const opTimeout = 5 * time.Second

type DistributedLockManager interface {
	// Acquire blocks until the lock is held or the attempt times out.
	Acquire(lockID int) error
	// TryAcquire returns false immediately when another holder owns the lock.
	TryAcquire(lockID int) (bool, error)
	Release(lockID int) error
}
