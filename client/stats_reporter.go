package client

import (
	"context"
	"fmt"

	"github.com/ronittamrakar/jobqueue/internal/state"
	"github.com/ronittamrakar/jobqueue/internal/store"
	"github.com/ronittamrakar/jobqueue/types"
	"github.com/ronittamrakar/jobqueue/types/config"
)

// StatsReporter serves read-only queue views. An empty tenant id covers every tenant.
type StatsReporter struct {
	c *core
}

func (r *StatsReporter) GetPendingCount(ctx context.Context, tenantID string) (int, error) {
	counts, err := r.GetStats(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return counts[state.StatusPending], nil
}

// GetStats returns a count for every status, including zeros.
func (r *StatsReporter) GetStats(ctx context.Context, tenantID string) (map[state.JobStatus]int, error) {
	counts, err := r.c.jobs.CountByStatus(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	return store.ZeroFilled(counts), nil
}

// History lists terminal outcomes newest first.
func (r *StatsReporter) History(ctx context.Context, page, pageSize int, filter types.HistoryFilter) (*types.PaginationResult[types.HistoryRecord], error) {
	page, pageSize, offset := types.NormalizePage(page, pageSize, config.MaxHistoryPageSize)
	records, total, err := r.c.history.List(ctx, filter, offset, pageSize)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return types.NewPaginationResult(records, total, page, pageSize), nil
}
