package config

import (
	"errors"
	"strings"
)

// ErrUnknownDriver is returned when a driver name cannot be parsed.
var ErrUnknownDriver = errors.New("unknown driver")

type StorageDriver int

const (
	Postgres StorageDriver = iota + 1
	SQLite
	Memory
)

type MessageQueueDriver int

const (
	RabbitMQ MessageQueueDriver = iota + 1
)

// LockDriver selects where distributed locks live.
type LockDriver int

const (
	// LockAuto picks advisory locks for Postgres and process-local locks otherwise.
	LockAuto LockDriver = iota
	LockPostgres
	LockRedis
	LockLocal
)

func (d MessageQueueDriver) String() string {
	switch d {
	case RabbitMQ:
		return "rabbitmq"
	default:
		return "unknown"
	}
}

// String converts the StorageDriver enum to a human-readable string.
func (d StorageDriver) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite"
	case Memory:
		return "memory"
	}
	return "unknown"
}

func (d LockDriver) String() string {
	switch d {
	case LockAuto:
		return "auto"
	case LockPostgres:
		return "postgres"
	case LockRedis:
		return "redis"
	case LockLocal:
		return "local"
	}
	return "unknown"
}

// ParseStorageDriver maps a name from a config file or flag to a StorageDriver.
func ParseStorageDriver(name string) (StorageDriver, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pg":
		return Postgres, true
	case "sqlite", "sqlite3":
		return SQLite, true
	case "memory", "mem":
		return Memory, true
	}
	return 0, false
}

func ParseLockDriver(name string) (LockDriver, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return LockAuto, true
	case "postgres":
		return LockPostgres, true
	case "redis":
		return LockRedis, true
	case "local":
		return LockLocal, true
	}
	return 0, false
}
