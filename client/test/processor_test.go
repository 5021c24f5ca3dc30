package test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ronittamrakar/jobqueue/client"
	"github.com/ronittamrakar/jobqueue/internal/state"
	"github.com/ronittamrakar/jobqueue/internal/store/memory"
	"github.com/ronittamrakar/jobqueue/types"
	"github.com/ronittamrakar/jobqueue/types/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProcessorFixture(t *testing.T, register func(h *config.JobHandler), opts ...client.ProcessorOption) (*client.JobManager, *client.Processor) {
	t.Helper()
	s := memory.New()
	jm := newMockManager(s, s, newTestClock())
	handlers := config.NewJobHandler()
	register(handlers)
	return jm, client.NewProcessor(jm, handlers, opts...)
}

func TestProcessor_ProcessNextOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		handler    config.HandlerFunc
		wantStatus state.JobStatus
		wantError  string
	}{
		{
			name: "success stores result",
			handler: func(ctx context.Context, job *types.Job) (any, error) {
				return map[string]bool{"ok": true}, nil
			},
			wantStatus: state.StatusCompleted,
		},
		{
			name: "transient error retries",
			handler: func(ctx context.Context, job *types.Job) (any, error) {
				return nil, errors.New("upstream 503")
			},
			wantStatus: state.StatusPending,
			wantError:  "upstream 503",
		},
		{
			name: "permanent error fails",
			handler: func(ctx context.Context, job *types.Job) (any, error) {
				return nil, client.Permanent(errors.New("malformed address"))
			},
			wantStatus: state.StatusFailed,
			wantError:  "malformed address",
		},
		{
			name: "undecodable payload fails",
			handler: func(ctx context.Context, job *types.Job) (any, error) {
				var n int
				return nil, job.DecodePayload(&n)
			},
			wantStatus: state.StatusFailed,
			wantError:  "invalid payload",
		},
		{
			name: "panic retries",
			handler: func(ctx context.Context, job *types.Job) (any, error) {
				panic("nil map")
			},
			wantStatus: state.StatusPending,
			wantError:  "panic",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			jm, p := newProcessorFixture(t, func(h *config.JobHandler) {
				require.NoError(t, h.Register("job", tt.handler))
			})

			id, _, err := jm.Schedule(ctx, "job", map[string]string{"k": "v"})
			require.NoError(t, err)

			ran, err := p.ProcessNext(ctx)
			require.NoError(t, err)
			require.True(t, ran)

			job, err := jm.FindJob(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, job.Status)
			if tt.wantError != "" {
				require.NotNil(t, job.ErrorMessage)
				assert.Contains(t, *job.ErrorMessage, tt.wantError)
			} else {
				assert.JSONEq(t, `{"ok":true}`, string(job.Result))
			}
		})
	}
}

func TestProcessor_ProcessNextIdle(t *testing.T) {
	_, p := newProcessorFixture(t, func(h *config.JobHandler) {
		require.NoError(t, h.Register("job", func(ctx context.Context, job *types.Job) (any, error) { return nil, nil }))
	})

	ran, err := p.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestProcessor_OnlyClaimsRegisteredTypes(t *testing.T) {
	ctx := context.Background()
	jm, p := newProcessorFixture(t, func(h *config.JobHandler) {
		require.NoError(t, h.Register("known", func(ctx context.Context, job *types.Job) (any, error) { return nil, nil }))
	})

	other, _, err := jm.Schedule(ctx, "unknown", nil, client.WithPriority(100))
	require.NoError(t, err)
	_, _, err = jm.Schedule(ctx, "known", nil)
	require.NoError(t, err)

	ran, err := p.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	job, err := jm.FindJob(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, state.StatusPending, job.Status)
	assert.Equal(t, 0, job.Attempts)
}

func TestProcessor_JobTimeoutCancelsHandler(t *testing.T) {
	ctx := context.Background()
	jm, p := newProcessorFixture(t, func(h *config.JobHandler) {
		require.NoError(t, h.Register("slow", func(ctx context.Context, job *types.Job) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}))
	}, client.WithJobTimeout(20*time.Millisecond))

	id, _, err := jm.Schedule(ctx, "slow", nil)
	require.NoError(t, err)

	_, err = p.ProcessNext(ctx)
	require.NoError(t, err)

	job, err := jm.FindJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, state.StatusPending, job.Status)
	assert.True(t, strings.Contains(*job.ErrorMessage, "deadline"))
}

func TestProcessor_StartDrainsQueue(t *testing.T) {
	var runs atomic.Int32
	jm, p := newProcessorFixture(t, func(h *config.JobHandler) {
		require.NoError(t, h.Register("job", func(ctx context.Context, job *types.Job) (any, error) {
			runs.Add(1)
			return nil, nil
		}))
	}, client.WithWorkerCount(3), client.WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for i := 0; i < 10; i++ {
		_, _, err := jm.Schedule(ctx, "job", i)
		require.NoError(t, err)
	}

	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()

	require.Eventually(t, func() bool {
		stats, err := jm.GetStats(context.Background(), "")
		return err == nil && stats[state.StatusCompleted] == 10
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not stop")
	}
	assert.Equal(t, int32(10), runs.Load())
}

func TestProcessor_StartRequiresHandlers(t *testing.T) {
	_, p := newProcessorFixture(t, func(h *config.JobHandler) {})
	assert.Error(t, p.Start(context.Background()))
}

func TestIsPermanent(t *testing.T) {
	base := errors.New("bad")
	assert.True(t, client.IsPermanent(client.Permanent(base)))
	assert.True(t, errors.Is(client.Permanent(base), base))
	assert.False(t, client.IsPermanent(base))
	assert.Nil(t, client.Permanent(nil))
}
