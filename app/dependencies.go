package app

import (
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/ronittamrakar/jobqueue/internal/db"
	"github.com/ronittamrakar/jobqueue/internal/identity"
	"github.com/ronittamrakar/jobqueue/internal/lock"
	"github.com/ronittamrakar/jobqueue/internal/message_broker"
	"github.com/ronittamrakar/jobqueue/internal/store"
	"github.com/ronittamrakar/jobqueue/internal/store/memory"
	"github.com/ronittamrakar/jobqueue/internal/store/postgres"
	"github.com/ronittamrakar/jobqueue/internal/store/sqlite"
	"github.com/ronittamrakar/jobqueue/types"
	"github.com/ronittamrakar/jobqueue/types/config"
)

// openDatabase creates the connection for SQL drivers. The memory driver needs none.
func openDatabase(cfg *config.QueueConfig) (*sql.DB, error) {
	switch cfg.StorageDriver {
	case config.Postgres:
		return db.OpenPostgres(cfg.PostgresConfig.ConnectionUrl)
	case config.SQLite:
		return db.OpenSQLite(cfg.SQLiteConfig.Path)
	case config.Memory:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %v", types.ErrUnsupportedDriver, cfg.StorageDriver)
	}
}

func createStores(driver config.StorageDriver, sqlDB *sql.DB) (store.JobStore, store.HistoryStore, error) {
	switch driver {
	case config.Postgres:
		return postgres.NewPostgresJobStore(sqlDB), postgres.NewPostgresHistoryStore(sqlDB), nil
	case config.SQLite:
		return sqlite.NewSQLiteJobStore(sqlDB), sqlite.NewSQLiteHistoryStore(sqlDB), nil
	case config.Memory:
		s := memory.New()
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("%w: %v", types.ErrUnsupportedDriver, driver)
	}
}

func createDistributedLockManager(cfg *config.QueueConfig, sqlDB *sql.DB, redisClient redis.UniversalClient, worker identity.WorkerID) (lock.DistributedLockManager, error) {
	switch cfg.EffectiveLockDriver() {
	case config.LockPostgres:
		if sqlDB == nil || cfg.StorageDriver != config.Postgres {
			return nil, fmt.Errorf("postgres locks need postgres storage, got %v", cfg.StorageDriver)
		}
		return lock.NewPostgresDistributedLockManager(sqlDB), nil
	case config.LockRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("redis locks need a redis client")
		}
		return lock.NewRedisDistributedLockManager(redisClient, worker.String(), 0), nil
	case config.LockLocal:
		return lock.NewLocalLockManager(), nil
	default:
		return nil, fmt.Errorf("unsupported lock driver: %v", cfg.LockDriver)
	}
}

func openRedis(cfg config.RedisConfig) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func createMessageBroker(cfg *config.QueueConfig) (message_broker.MessageBroker, error) {
	switch cfg.MQDriver {
	case config.RabbitMQ:
		mq := cfg.RabbitMQConfig
		return message_broker.NewRabbitMQ(message_broker.RabbitMQConfig{
			URL:         mq.URL,
			Exchange:    mq.Exchange,
			Queue:       mq.Queue,
			RoutingKey:  mq.RoutingKey,
			ContentType: mq.ContentType,
		})
	default:
		return nil, fmt.Errorf("unsupported message queue driver: %v", cfg.MQDriver)
	}
}
