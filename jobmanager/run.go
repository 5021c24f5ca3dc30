package jobmanager

import (
	"context"
	"errors"
	"net/http"
	"runtime"

	"github.com/ronittamrakar/jobqueue/app"
	"github.com/ronittamrakar/jobqueue/client"
	"github.com/ronittamrakar/jobqueue/types/config"
	"github.com/ronittamrakar/jobqueue/web"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Services selects the background loops Run starts.
type Services struct {
	Processor   bool // claim and run jobs for the registered handlers
	Maintenance bool // cron-driven release and cleanup under the sweep lock
	QueueWriter bool // drain the broker into the job store; ignored when disabled in config
	API         bool // HTTP operational API on cfg.APIAddr
}

// AllServices enables every loop.
var AllServices = Services{Processor: true, Maintenance: true, QueueWriter: true, API: true}

// Bootstrap creates the container and applies migrations for the configured
// driver. The caller owns the container and must Close it.
func Bootstrap(ctx context.Context, cfg *config.QueueConfig, opts ...app.ContainerOption) (*app.Container, error) {
	c, err := app.NewContainer(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	c.Logger.Info("bootstrapping job queue",
		zap.String("storage", cfg.StorageDriver.String()),
		zap.String("locks", cfg.EffectiveLockDriver().String()),
		zap.String("worker", c.Worker.String()),
		zap.Int("gomaxprocs", runtime.GOMAXPROCS(0)),
	)
	if err := c.Migrate(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// New bootstraps the system and returns its job manager, for embedding the
// queue in another program without any background loop.
func New(ctx context.Context, cfg *config.QueueConfig, opts ...app.ContainerOption) (*client.JobManager, error) {
	c, err := Bootstrap(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return c.JobManager, nil
}

// Run starts the selected services and blocks until ctx is cancelled or one
// of them fails.
func Run(ctx context.Context, c *app.Container, services Services) error {
	g, ctx := errgroup.WithContext(ctx)

	if services.Processor && len(c.JobHandler.List()) > 0 {
		g.Go(func() error {
			if err := c.Processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	if services.Maintenance {
		g.Go(func() error {
			return c.Maintenance.Start(ctx)
		})
	}
	if services.QueueWriter && c.QueueWriter != nil {
		g.Go(func() error {
			return c.QueueWriter.Start(ctx)
		})
	}
	if services.API && c.Config.APIAddr != "" {
		var metricsHandler http.Handler
		if c.Metrics != nil {
			metricsHandler = c.Metrics.Handler()
		}
		router := web.NewRouteHandler(c.JobManager, metricsHandler, c.Logger, c.Config.APIAddr)
		g.Go(func() error {
			return router.Serve(ctx)
		})
	}

	return g.Wait()
}
