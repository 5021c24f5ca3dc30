package config

import "time"

const (
	DefaultWorkerCount     = 4
	DefaultPollInterval    = time.Second
	DefaultJobTimeout      = 4 * time.Minute
	DefaultClaimStaleAfter = 5 * time.Minute
	DefaultSweepStaleAfter = 10 * time.Minute
	DefaultRetention       = 7 * 24 * time.Hour
	DefaultMaxAttempts     = 3
	DefaultBackoffBase     = 2 * time.Minute
	DefaultStorageDriver   = Postgres
	DefaultBatchSize       = 1000
	DefaultFlushInterval   = 20 * time.Second
	DefaultReleaseSchedule = "@every 1m"
	DefaultCleanupSchedule = "@hourly"
	DefaultHistoryPageSize = 20
	MaxHistoryPageSize     = 500
)
