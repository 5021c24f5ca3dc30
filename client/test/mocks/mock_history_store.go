package mocks

import (
	"context"

	"github.com/ronittamrakar/jobqueue/types"
)

// MockHistoryStore is a mock implementation of store.HistoryStore for testing.
type MockHistoryStore struct {
	AppendFunc func(ctx context.Context, rec *types.HistoryRecord) error
	ListFunc   func(ctx context.Context, filter types.HistoryFilter, offset, limit int) ([]types.HistoryRecord, int, error)
}

func (m *MockHistoryStore) Append(ctx context.Context, rec *types.HistoryRecord) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, rec)
	}
	return nil
}

func (m *MockHistoryStore) List(ctx context.Context, filter types.HistoryFilter, offset, limit int) ([]types.HistoryRecord, int, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, filter, offset, limit)
	}
	return nil, 0, nil
}
