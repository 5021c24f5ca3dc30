package lock

import (
	"fmt"
	"sync"
	"time"
)

// LocalLockManager serializes callers inside one process. It backs the SQLite
// and memory drivers, where a single process owns the store.
type LocalLockManager struct {
	mu   sync.Mutex
	held map[int]bool
}

func NewLocalLockManager() *LocalLockManager {
	return &LocalLockManager{held: make(map[int]bool)}
}

func (l *LocalLockManager) Acquire(lockID int) error {
	deadline := time.Now().Add(opTimeout)
	for {
		if ok, _ := l.TryAcquire(lockID); ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("failed to acquire lock: timed out waiting for %d", lockID)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (l *LocalLockManager) TryAcquire(lockID int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[lockID] {
		return false, nil
	}
	l.held[lockID] = true
	return true, nil
}

func (l *LocalLockManager) Release(lockID int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held[lockID] {
		return fmt.Errorf("failed to release lock: %w", ErrNotHeld)
	}
	delete(l.held, lockID)
	return nil
}
