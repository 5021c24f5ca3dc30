package client

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ronittamrakar/jobqueue/internal/constants"
	"github.com/ronittamrakar/jobqueue/internal/lock"
	"github.com/ronittamrakar/jobqueue/internal/metrics"
	"github.com/ronittamrakar/jobqueue/internal/state"
	"github.com/ronittamrakar/jobqueue/types/config"
	"go.uber.org/zap"
)

// Sweeper is the maintenance surface the scheduler drives.
type Sweeper interface {
	ReleaseStaleJobs(ctx context.Context, staleAfter time.Duration) (int64, error)
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
	GetStats(ctx context.Context, tenantID string) (map[state.JobStatus]int, error)
}

type MaintenanceConfig struct {
	ReleaseSchedule string
	CleanupSchedule string
	StaleAfter      time.Duration
	Retention       time.Duration
}

// MaintenanceScheduler runs the sweeper on cron schedules. Each run holds the
// sweep lock, so only one instance of a deployment sweeps per tick.
type MaintenanceScheduler struct {
	sweeper Sweeper
	locks   lock.DistributedLockManager
	cfg     MaintenanceConfig
	logger  *zap.Logger
	metrics *metrics.Collector
}

func NewMaintenanceScheduler(sweeper Sweeper, locks lock.DistributedLockManager, cfg MaintenanceConfig, logger *zap.Logger, collector *metrics.Collector) *MaintenanceScheduler {
	if cfg.ReleaseSchedule == "" {
		cfg.ReleaseSchedule = config.DefaultReleaseSchedule
	}
	if cfg.CleanupSchedule == "" {
		cfg.CleanupSchedule = config.DefaultCleanupSchedule
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MaintenanceScheduler{
		sweeper: sweeper,
		locks:   locks,
		cfg:     cfg,
		logger:  logger,
		metrics: collector,
	}
}

// Start registers both sweeps and blocks until ctx is cancelled. Running
// sweeps finish before it returns.
func (s *MaintenanceScheduler) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.ReleaseSchedule, func() { s.ReleaseNow(ctx) }); err != nil {
		return fmt.Errorf("maintenance: release schedule %q: %w", s.cfg.ReleaseSchedule, err)
	}
	if _, err := c.AddFunc(s.cfg.CleanupSchedule, func() { s.CleanupNow(ctx) }); err != nil {
		return fmt.Errorf("maintenance: cleanup schedule %q: %w", s.cfg.CleanupSchedule, err)
	}

	c.Start()
	s.logger.Info("maintenance scheduler started",
		zap.String("release", s.cfg.ReleaseSchedule),
		zap.String("cleanup", s.cfg.CleanupSchedule),
	)
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("maintenance scheduler stopped")
	return nil
}

// ReleaseNow runs one stale-lease sweep if this instance wins the sweep lock.
// ran is false when another instance holds it.
func (s *MaintenanceScheduler) ReleaseNow(ctx context.Context) (released int64, ran bool) {
	ran = s.guarded(ctx, "release", func() error {
		n, err := s.sweeper.ReleaseStaleJobs(ctx, s.cfg.StaleAfter)
		released = n
		return err
	})
	return released, ran
}

// CleanupNow runs one retention purge if this instance wins the sweep lock.
func (s *MaintenanceScheduler) CleanupNow(ctx context.Context) (purged int64, ran bool) {
	ran = s.guarded(ctx, "cleanup", func() error {
		n, err := s.sweeper.Cleanup(ctx, s.cfg.Retention)
		purged = n
		return err
	})
	return purged, ran
}

func (s *MaintenanceScheduler) guarded(ctx context.Context, name string, fn func() error) bool {
	const sweepLock = constants.SweepLock

	ok, err := s.locks.TryAcquire(sweepLock)
	if err != nil {
		s.logger.Error("sweep lock acquire failed", zap.String("sweep", name), zap.Error(err))
		return false
	}
	if !ok {
		s.logger.Debug("sweep lock held elsewhere; skipping", zap.String("sweep", name))
		return false
	}
	defer func() {
		if err := s.locks.Release(sweepLock); err != nil {
			s.logger.Error("sweep lock release failed", zap.String("sweep", name), zap.Error(err))
		}
	}()

	if err := fn(); err != nil {
		s.logger.Error("sweep failed", zap.String("sweep", name), zap.Error(err))
	}
	s.refreshGauges(ctx)
	return true
}

func (s *MaintenanceScheduler) refreshGauges(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	counts, err := s.sweeper.GetStats(ctx, "")
	if err != nil {
		s.logger.Error("refreshing status gauges failed", zap.Error(err))
		return
	}
	s.metrics.SetStatusCounts(counts)
}
