package test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ronittamrakar/jobqueue/client"
	"github.com/ronittamrakar/jobqueue/internal/db"
	"github.com/ronittamrakar/jobqueue/internal/identity"
	"github.com/ronittamrakar/jobqueue/internal/lock"
	"github.com/ronittamrakar/jobqueue/internal/store"
	"github.com/ronittamrakar/jobqueue/internal/store/memory"
	"github.com/ronittamrakar/jobqueue/internal/store/sqlite"
	"github.com/ronittamrakar/jobqueue/internal/store/storetest"
	"github.com/ronittamrakar/jobqueue/types/config"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: storetest.Base}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// engine is a set of job managers sharing one pair of stores and one clock,
// standing in for several worker processes.
type engine struct {
	jobs    store.JobStore
	history store.HistoryStore
	clock   *testClock
}

func (e *engine) manager(worker string, opts ...client.Option) *client.JobManager {
	opts = append([]client.Option{client.WithClock(e.clock.Now)}, opts...)
	return client.NewJobManager(e.jobs, e.history, identity.WorkerID(worker), opts...)
}

var drivers = map[string]storetest.Factory{
	"memory": func(t *testing.T) (store.JobStore, store.HistoryStore) {
		s := memory.New()
		return s, s
	},
	"sqlite": func(t *testing.T) (store.JobStore, store.HistoryStore) {
		sqlDB, err := db.OpenSQLite(filepath.Join(t.TempDir(), "queue.db"))
		require.NoError(t, err)
		t.Cleanup(func() { sqlDB.Close() })
		require.NoError(t, db.Migrate(context.Background(), sqlDB, config.SQLite, lock.NewLocalLockManager(), nil))
		return sqlite.NewSQLiteJobStore(sqlDB), sqlite.NewSQLiteHistoryStore(sqlDB)
	},
}

func forEachDriver(t *testing.T, fn func(t *testing.T, e *engine)) {
	for name, factory := range drivers {
		t.Run(name, func(t *testing.T) {
			jobs, history := factory(t)
			fn(t, &engine{jobs: jobs, history: history, clock: newTestClock()})
		})
	}
}
