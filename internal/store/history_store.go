package store

import (
	"context"

	"github.com/ronittamrakar/jobqueue/types"
)

// HistoryStore is the append-only log of terminal outcomes.
type HistoryStore interface {
	Append(ctx context.Context, rec *types.HistoryRecord) error

	// List returns records newest first along with the total matching count.
	List(ctx context.Context, filter types.HistoryFilter, offset, limit int) ([]types.HistoryRecord, int, error)
}
