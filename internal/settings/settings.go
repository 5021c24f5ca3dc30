// Package settings loads process configuration for the jobqueue binary: a YAML
// file first, then environment variables on top.
package settings

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ronittamrakar/jobqueue/types/config"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	Instance string   `yaml:"instance" env:"JOBQUEUE_INSTANCE"`
	Storage  Storage  `yaml:"storage"`
	Locks    Locks    `yaml:"locks"`
	Worker   Worker   `yaml:"worker"`
	Queue    Queue    `yaml:"queue"`
	RabbitMQ RabbitMQ `yaml:"rabbitmq"`
	API      API      `yaml:"api"`
}

type Storage struct {
	Driver      string `yaml:"driver" env:"JOBQUEUE_STORAGE_DRIVER"`
	PostgresURL string `yaml:"postgres_url" env:"JOBQUEUE_POSTGRES_URL"`
	SQLitePath  string `yaml:"sqlite_path" env:"JOBQUEUE_SQLITE_PATH"`
}

type Locks struct {
	Driver        string `yaml:"driver" env:"JOBQUEUE_LOCK_DRIVER"`
	RedisAddr     string `yaml:"redis_addr" env:"JOBQUEUE_REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"JOBQUEUE_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"JOBQUEUE_REDIS_DB"`
}

type Worker struct {
	Count        int           `yaml:"count" env:"JOBQUEUE_WORKER_COUNT"`
	PollInterval time.Duration `yaml:"poll_interval" env:"JOBQUEUE_POLL_INTERVAL"`
	JobTimeout   time.Duration `yaml:"job_timeout" env:"JOBQUEUE_JOB_TIMEOUT"`
}

type Queue struct {
	ClaimStaleAfter time.Duration `yaml:"claim_stale_after" env:"JOBQUEUE_CLAIM_STALE_AFTER"`
	SweepStaleAfter time.Duration `yaml:"sweep_stale_after" env:"JOBQUEUE_SWEEP_STALE_AFTER"`
	Retention       time.Duration `yaml:"retention" env:"JOBQUEUE_RETENTION"`
	MaxAttempts     int           `yaml:"max_attempts" env:"JOBQUEUE_MAX_ATTEMPTS"`
	BackoffBase     time.Duration `yaml:"backoff_base" env:"JOBQUEUE_BACKOFF_BASE"`
	ReleaseSchedule string        `yaml:"release_schedule" env:"JOBQUEUE_RELEASE_SCHEDULE"`
	CleanupSchedule string        `yaml:"cleanup_schedule" env:"JOBQUEUE_CLEANUP_SCHEDULE"`
}

type RabbitMQ struct {
	URL           string        `yaml:"url" env:"JOBQUEUE_RABBITMQ_URL"`
	Exchange      string        `yaml:"exchange" env:"JOBQUEUE_RABBITMQ_EXCHANGE"`
	Queue         string        `yaml:"queue" env:"JOBQUEUE_RABBITMQ_QUEUE"`
	RoutingKey    string        `yaml:"routing_key" env:"JOBQUEUE_RABBITMQ_ROUTING_KEY"`
	BatchSize     int           `yaml:"batch_size" env:"JOBQUEUE_RABBITMQ_BATCH_SIZE"`
	FlushInterval time.Duration `yaml:"flush_interval" env:"JOBQUEUE_RABBITMQ_FLUSH_INTERVAL"`
}

type API struct {
	Addr    string `yaml:"addr" env:"JOBQUEUE_API_ADDR"`
	Metrics bool   `yaml:"metrics" env:"JOBQUEUE_METRICS"`
}

// Default returns settings for a local SQLite deployment.
func Default() *Settings {
	return &Settings{
		Instance: "jobqueue",
		Storage: Storage{
			Driver:     "sqlite",
			SQLitePath: "jobqueue.db",
		},
		Worker: Worker{
			Count:        config.DefaultWorkerCount,
			PollInterval: config.DefaultPollInterval,
			JobTimeout:   config.DefaultJobTimeout,
		},
		Queue: Queue{
			ClaimStaleAfter: config.DefaultClaimStaleAfter,
			SweepStaleAfter: config.DefaultSweepStaleAfter,
			Retention:       config.DefaultRetention,
			MaxAttempts:     config.DefaultMaxAttempts,
			BackoffBase:     config.DefaultBackoffBase,
			ReleaseSchedule: config.DefaultReleaseSchedule,
			CleanupSchedule: config.DefaultCleanupSchedule,
		},
		API: API{
			Addr:    ":8080",
			Metrics: true,
		},
	}
}

// Load starts from Default, applies the YAML file at path when path is set,
// then applies any JOBQUEUE_* environment variables.
func Load(path string) (*Settings, error) {
	s := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}
	if err := env.Parse(s); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return s, nil
}

// QueueConfig validates the settings and converts them to library configuration.
func (s *Settings) QueueConfig() (*config.QueueConfig, error) {
	var opts []config.QueueOption

	driver, ok := config.ParseStorageDriver(s.Storage.Driver)
	if !ok {
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownDriver, s.Storage.Driver)
	}
	switch driver {
	case config.Postgres:
		opts = append(opts, config.WithPostgresConfig(config.PostgresConfig{ConnectionUrl: s.Storage.PostgresURL}))
	case config.SQLite:
		opts = append(opts, config.WithSQLiteConfig(config.SQLiteConfig{Path: s.Storage.SQLitePath}))
	case config.Memory:
		opts = append(opts, config.WithMemoryStore())
	}

	lockDriver, ok := config.ParseLockDriver(s.Locks.Driver)
	if !ok {
		return nil, fmt.Errorf("%w: lock driver %q", config.ErrUnknownDriver, s.Locks.Driver)
	}
	if lockDriver == config.LockRedis {
		opts = append(opts, config.WithRedisLocks(config.RedisConfig{
			Address:  s.Locks.RedisAddr,
			Password: s.Locks.RedisPassword,
			DB:       s.Locks.RedisDB,
		}))
	} else {
		opts = append(opts, config.WithLockDriver(lockDriver))
	}

	opts = append(opts,
		config.WithWorkerCount(s.Worker.Count),
		config.WithPollInterval(s.Worker.PollInterval),
		config.WithJobTimeout(s.Worker.JobTimeout),
		config.WithStaleThresholds(s.Queue.ClaimStaleAfter, s.Queue.SweepStaleAfter),
		config.WithRetention(s.Queue.Retention),
		config.WithDefaultMaxAttempts(s.Queue.MaxAttempts),
		config.WithBackoffBase(s.Queue.BackoffBase),
		config.WithMaintenanceSchedules(s.Queue.ReleaseSchedule, s.Queue.CleanupSchedule),
		config.WithMetrics(s.API.Metrics),
	)
	if s.API.Addr != "" {
		opts = append(opts, config.WithAPIAddr(s.API.Addr))
	}

	if s.RabbitMQ.URL != "" {
		opts = append(opts, config.WithRabbitMQConfig(config.RabbitMQConfig{
			URL:        s.RabbitMQ.URL,
			Exchange:   s.RabbitMQ.Exchange,
			Queue:      s.RabbitMQ.Queue,
			RoutingKey: s.RabbitMQ.RoutingKey,
		}))
		if s.RabbitMQ.BatchSize > 0 {
			opts = append(opts, config.WithBatchSize(s.RabbitMQ.BatchSize))
		}
		if s.RabbitMQ.FlushInterval > 0 {
			opts = append(opts, config.WithFlushInterval(s.RabbitMQ.FlushInterval))
		}
	}

	return config.NewQueueConfig(s.Instance, opts...)
}
