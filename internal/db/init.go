package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	"github.com/ronittamrakar/jobqueue/internal/constants"
	"github.com/ronittamrakar/jobqueue/internal/lock"
	"github.com/ronittamrakar/jobqueue/types"
	"github.com/ronittamrakar/jobqueue/types/config"
	"go.uber.org/zap"
)

//go:embed migrations
var migrations embed.FS

// Migrate applies the embedded schema for driver to db. Only one process runs
// migrations at a time; the rest wait on MigrationLock.
//
// The memory driver has no schema and returns immediately.
func Migrate(ctx context.Context, db *sql.DB, driver config.StorageDriver, distributedLock lock.DistributedLockManager, logger *zap.Logger) error {
	if driver == config.Memory {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	provider, err := newProvider(db, driver)
	if err != nil {
		return err
	}

	migrationLock := constants.MigrationLock
	if err = distributedLock.Acquire(migrationLock); err != nil {
		return err
	}
	defer func() {
		if err := distributedLock.Release(migrationLock); err != nil {
			logger.Warn("release migration lock", zap.Error(err))
		}
	}()

	if err = db.PingContext(ctx); err != nil {
		return fmt.Errorf("migrate: ping: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	for _, r := range results {
		logger.Info("applied migration",
			zap.String("driver", driver.String()),
			zap.String("source", r.Source.Path),
			zap.Duration("took", r.Duration),
		)
	}
	return nil
}

func newProvider(db *sql.DB, driver config.StorageDriver) (*goose.Provider, error) {
	var (
		dialect database.Dialect
		dir     string
	)
	switch driver {
	case config.Postgres:
		dialect, dir = database.DialectPostgres, "migrations/postgres"
	case config.SQLite:
		dialect, dir = database.DialectSQLite3, "migrations/sqlite"
	default:
		return nil, fmt.Errorf("migrate: %w: %s", types.ErrUnsupportedDriver, driver)
	}

	fsys, err := fs.Sub(migrations, dir)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("migrate: new provider: %w", err)
	}
	return provider, nil
}
