package jobmanager

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ronittamrakar/jobqueue/internal/state"
	"github.com/ronittamrakar/jobqueue/types"
	"github.com/ronittamrakar/jobqueue/types/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_SQLite(t *testing.T) {
	cfg, err := config.NewQueueConfig("test", config.WithSQLiteConfig(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "q.db")}))
	require.NoError(t, err)

	jm, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer jm.Close()

	_, scheduled, err := jm.Schedule(context.Background(), "email", map[string]string{"to": "x"})
	require.NoError(t, err)
	assert.True(t, scheduled)
}

func TestRun_ProcessesUntilCancelled(t *testing.T) {
	done := make(chan string, 1)
	cfg, err := config.NewQueueConfig("test",
		config.WithMemoryStore(),
		config.WithPollInterval(5*time.Millisecond),
		config.WithHandler("email", func(ctx context.Context, job *types.Job) (any, error) {
			done <- job.ID
			return nil, nil
		}),
	)
	require.NoError(t, err)

	c, err := Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	id, _, err := c.JobManager.Schedule(context.Background(), "email", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Run(ctx, c, Services{Processor: true, Maintenance: true}) }()

	select {
	case got := <-done:
		assert.Equal(t, id, got)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed")
	}
	require.Eventually(t, func() bool {
		job, err := c.JobManager.FindJob(context.Background(), id)
		return err == nil && job.Status == state.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}
