package app

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/ronittamrakar/jobqueue/internal/message_broker"
	"go.uber.org/zap"
)

// ContainerOption configures Container creation. Used for testing and customization.
type ContainerOption func(*containerConfig)

type containerConfig struct {
	// Optional: inject custom DB instead of creating from config
	db         *sql.DB
	redis      redis.UniversalClient
	broker     message_broker.MessageBroker
	registerer prometheus.Registerer
	logger     *zap.Logger
}

// WithDB injects a custom database connection. Useful for testing.
func WithDB(db *sql.DB) ContainerOption {
	return func(c *containerConfig) {
		c.db = db
	}
}

// WithRedis injects a custom Redis client. Useful for testing.
func WithRedis(redis redis.UniversalClient) ContainerOption {
	return func(c *containerConfig) {
		c.redis = redis
	}
}

// WithBroker injects the message broker used by the queue writer path.
func WithBroker(broker message_broker.MessageBroker) ContainerOption {
	return func(c *containerConfig) {
		c.broker = broker
	}
}

// WithRegisterer registers metrics somewhere other than a fresh registry.
func WithRegisterer(reg prometheus.Registerer) ContainerOption {
	return func(c *containerConfig) {
		c.registerer = reg
	}
}

func WithLogger(logger *zap.Logger) ContainerOption {
	return func(c *containerConfig) {
		c.logger = logger
	}
}
