package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/ronittamrakar/jobqueue/client"
	"github.com/ronittamrakar/jobqueue/internal/backoff"
	"github.com/ronittamrakar/jobqueue/internal/db"
	"github.com/ronittamrakar/jobqueue/internal/identity"
	"github.com/ronittamrakar/jobqueue/internal/lock"
	"github.com/ronittamrakar/jobqueue/internal/message_broker"
	"github.com/ronittamrakar/jobqueue/internal/metrics"
	"github.com/ronittamrakar/jobqueue/internal/store"
	"github.com/ronittamrakar/jobqueue/types/config"
	"go.uber.org/zap"
)

// Container holds all application dependencies. It is the single source of truth
// for dependency injection and ensures connections and services are created once.
type Container struct {
	Config *config.QueueConfig
	Logger *zap.Logger
	Worker identity.WorkerID

	// Storage connections (created once, shared by all stores)
	DB    *sql.DB
	Redis redis.UniversalClient

	JobStore     store.JobStore
	HistoryStore store.HistoryStore

	// Infrastructure
	LockManager   lock.DistributedLockManager
	MessageBroker message_broker.MessageBroker
	Metrics       *metrics.Collector

	// Job handlers and managers
	JobHandler  *config.JobHandler
	JobManager  *client.JobManager
	Processor   *client.Processor
	Maintenance *client.MaintenanceScheduler
	QueueWriter *client.QueueWriter // nil unless the queue writer is enabled

	ownsDB    bool
	ownsRedis bool
}

// NewContainer creates and wires all dependencies. Single entry point for DI.
// Call this once per application lifecycle.
// Pass optional WithDB, WithRedis to inject connections for testing.
func NewContainer(ctx context.Context, cfg *config.QueueConfig, opts ...ContainerOption) (*Container, error) {
	opt := &containerConfig{}
	for _, o := range opts {
		o(opt)
	}
	logger := opt.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("instance", cfg.Instance))

	c := &Container{
		Config: cfg,
		Logger: logger,
		Worker: identity.New(),
	}

	var err error
	if opt.db != nil {
		c.DB = opt.db
	} else if c.DB, err = openDatabase(cfg); err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	} else {
		c.ownsDB = c.DB != nil
	}

	if opt.redis != nil {
		c.Redis = opt.redis
	} else if cfg.EffectiveLockDriver() == config.LockRedis {
		c.Redis = openRedis(cfg.RedisConfig)
		c.ownsRedis = true
		if err := c.Redis.Ping(ctx).Err(); err != nil {
			c.Close()
			return nil, fmt.Errorf("init redis: %w", err)
		}
	}

	if c.JobStore, c.HistoryStore, err = createStores(cfg.StorageDriver, c.DB); err != nil {
		c.Close()
		return nil, err
	}
	if c.LockManager, err = createDistributedLockManager(cfg, c.DB, c.Redis, c.Worker); err != nil {
		c.Close()
		return nil, err
	}

	if cfg.MetricsEnabled {
		reg := opt.registerer
		if reg == nil {
			reg = prometheus.NewRegistry()
		}
		c.Metrics = metrics.NewCollector(reg)
	}

	if cfg.UseQueueWriter {
		c.MessageBroker = opt.broker
		if c.MessageBroker == nil {
			if c.MessageBroker, err = createMessageBroker(cfg); err != nil {
				c.Close()
				return nil, fmt.Errorf("init message broker: %w", err)
			}
		}
	}

	c.JobHandler = config.NewJobHandler()
	for _, h := range cfg.Handlers {
		if err := c.JobHandler.Register(h.JobType, h.Func); err != nil {
			c.Close()
			return nil, err
		}
	}

	managerOpts := []client.Option{
		client.WithLogger(logger),
		client.WithMetrics(c.Metrics),
		client.WithBackoff(backoff.NewExponential(cfg.BackoffBase, 0)),
		client.WithStaleThresholds(cfg.ClaimStaleAfter, cfg.SweepStaleAfter),
		client.WithRetention(cfg.Retention),
		client.WithDefaultMaxAttempts(cfg.DefaultMaxAttempts),
	}
	if c.MessageBroker != nil {
		managerOpts = append(managerOpts, client.WithQueueWriter(c.MessageBroker, cfg.RabbitMQConfig.Queue))
		c.QueueWriter = client.NewQueueWriter(c.MessageBroker, c.JobStore, cfg.RabbitMQConfig.Queue, cfg.BatchSize, cfg.FlushInterval, logger)
	}
	c.JobManager = client.NewJobManager(c.JobStore, c.HistoryStore, c.Worker, managerOpts...)

	c.Processor = client.NewProcessor(c.JobManager, c.JobHandler,
		client.WithWorkerCount(cfg.WorkerCount),
		client.WithPollInterval(cfg.PollInterval),
		client.WithJobTimeout(cfg.JobTimeout),
		client.WithProcessorLogger(logger),
	)
	c.Maintenance = client.NewMaintenanceScheduler(c.JobManager, c.LockManager, client.MaintenanceConfig{
		ReleaseSchedule: cfg.ReleaseSchedule,
		CleanupSchedule: cfg.CleanupSchedule,
		StaleAfter:      cfg.SweepStaleAfter,
		Retention:       cfg.Retention,
	}, logger, c.Metrics)

	return c, nil
}

// Migrate applies the schema for the configured driver under the migration lock.
func (c *Container) Migrate(ctx context.Context) error {
	if c.DB == nil {
		return nil
	}
	return db.Migrate(ctx, c.DB, c.Config.StorageDriver, c.LockManager, c.Logger)
}

// Close releases connections the container opened itself.
func (c *Container) Close() error {
	var errs []error
	if c.MessageBroker != nil {
		errs = append(errs, c.MessageBroker.Close())
	}
	if c.ownsRedis && c.Redis != nil {
		errs = append(errs, c.Redis.Close())
	}
	if c.ownsDB && c.DB != nil {
		errs = append(errs, c.DB.Close())
	}
	return errors.Join(errs...)
}
