package client

import (
	"time"

	"github.com/ronittamrakar/jobqueue/internal/backoff"
	"github.com/ronittamrakar/jobqueue/internal/message_broker"
	"github.com/ronittamrakar/jobqueue/internal/metrics"
	"go.uber.org/zap"
)

type scheduleOptions struct {
	at          *time.Time
	tenantID    string
	jobKey      string
	priority    int
	maxAttempts int
}

// ScheduleOption customizes a single Schedule call.
type ScheduleOption func(*scheduleOptions)

// At sets the earliest time the job may run. The default is now.
func At(t time.Time) ScheduleOption {
	return func(o *scheduleOptions) {
		o.at = &t
	}
}

func WithTenant(tenantID string) ScheduleOption {
	return func(o *scheduleOptions) {
		o.tenantID = tenantID
	}
}

// WithJobKey makes the enqueue idempotent while a job with the same key is
// pending or processing.
func WithJobKey(key string) ScheduleOption {
	return func(o *scheduleOptions) {
		o.jobKey = key
	}
}

// WithPriority sets the claim priority. Higher runs first.
func WithPriority(priority int) ScheduleOption {
	return func(o *scheduleOptions) {
		o.priority = priority
	}
}

func WithMaxAttempts(n int) ScheduleOption {
	return func(o *scheduleOptions) {
		o.maxAttempts = n
	}
}

// Option configures a JobManager.
type Option func(*core)

func WithLogger(logger *zap.Logger) Option {
	return func(c *core) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records engine events on collector. A nil collector disables metrics.
func WithMetrics(collector *metrics.Collector) Option {
	return func(c *core) {
		c.metrics = collector
	}
}

// WithClock replaces time.Now. Tests use it to move time deterministically.
func WithClock(now func() time.Time) Option {
	return func(c *core) {
		if now != nil {
			c.now = now
		}
	}
}

func WithBackoff(strategy backoff.Strategy) Option {
	return func(c *core) {
		if strategy != nil {
			c.backoff = strategy
		}
	}
}

// WithStaleThresholds sets the claim-time reclaim window and the sweeper's
// release window. Non-positive values keep the defaults.
func WithStaleThresholds(claim, sweep time.Duration) Option {
	return func(c *core) {
		if claim > 0 {
			c.claimStaleAfter = claim
		}
		if sweep > 0 {
			c.sweepStaleAfter = sweep
		}
	}
}

func WithRetention(retention time.Duration) Option {
	return func(c *core) {
		if retention > 0 {
			c.retention = retention
		}
	}
}

func WithDefaultMaxAttempts(n int) Option {
	return func(c *core) {
		if n > 0 {
			c.defaultMaxAttempts = n
		}
	}
}

// WithQueueWriter routes Schedule through broker instead of inserting directly.
// A QueueWriter consuming the same queue persists the jobs.
//
// Schedule reports a duplicate only when the key is already live in the store.
// Two jobs with one key published before the writer flushes both return true;
// the writer keeps the first and drops the second.
func WithQueueWriter(broker message_broker.MessageBroker, queue string) Option {
	return func(c *core) {
		c.broker = broker
		c.queue = queue
	}
}

// WithIDGenerator replaces the uuid generator used for job and history ids.
func WithIDGenerator(newID func() string) Option {
	return func(c *core) {
		if newID != nil {
			c.newID = newID
		}
	}
}
