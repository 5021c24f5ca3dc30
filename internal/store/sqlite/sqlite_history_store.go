package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ronittamrakar/jobqueue/internal/store"
	"github.com/ronittamrakar/jobqueue/types"
)

var _ store.HistoryStore = (*SQLiteHistoryStore)(nil)

type SQLiteHistoryStore struct {
	db *sql.DB
}

func NewSQLiteHistoryStore(db *sql.DB) *SQLiteHistoryStore {
	return &SQLiteHistoryStore{db: db}
}

func (s *SQLiteHistoryStore) Append(ctx context.Context, rec *types.HistoryRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_history (
			id, job_id, tenant_id, job_type, payload, status, result,
			error_message, duration_ms, attempts, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.JobID, nullString(rec.TenantID), rec.JobType, []byte(rec.Payload), string(rec.Status),
		nullBytes(rec.Result), nullString(rec.ErrorMessage), rec.Duration.Milliseconds(), rec.Attempts,
		rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: append history for %s: %w", rec.JobID, err)
	}
	return nil
}

func (s *SQLiteHistoryStore) List(ctx context.Context, filter types.HistoryFilter, offset, limit int) ([]types.HistoryRecord, int, error) {
	var where []string
	var args []any
	if filter.JobType != "" {
		where = append(where, "job_type = ?")
		args = append(args, filter.JobType)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_history`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sqlite: count history: %w", err)
	}

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, tenant_id, job_type, payload, status, result,
		       error_message, duration_ms, attempts, created_at
		FROM job_history`+clause+`
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("sqlite: list history: %w", err)
	}
	defer rows.Close()

	items := make([]types.HistoryRecord, 0)
	for rows.Next() {
		var (
			rec              types.HistoryRecord
			tenantID, errMsg sql.NullString
			payload, result  []byte
			durationMs, at   int64
		)
		if err := rows.Scan(&rec.ID, &rec.JobID, &tenantID, &rec.JobType, &payload, &rec.Status, &result,
			&errMsg, &durationMs, &rec.Attempts, &at); err != nil {
			return nil, 0, fmt.Errorf("sqlite: list history: %w", err)
		}
		rec.TenantID = fromNullString(tenantID)
		rec.ErrorMessage = fromNullString(errMsg)
		rec.Payload = payload
		if result != nil {
			rec.Result = result
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		rec.CreatedAt = fromMillis(at)
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("sqlite: list history: %w", err)
	}
	return items, total, nil
}
