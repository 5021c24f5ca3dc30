package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ronittamrakar/jobqueue/internal/store"
	"github.com/ronittamrakar/jobqueue/types"
)

var _ store.HistoryStore = (*PostgresHistoryStore)(nil)

type PostgresHistoryStore struct {
	db *sql.DB
}

func NewPostgresHistoryStore(db *sql.DB) *PostgresHistoryStore {
	return &PostgresHistoryStore{db: db}
}

func (r *PostgresHistoryStore) Append(ctx context.Context, rec *types.HistoryRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobqueue.job_history (
			id, job_id, tenant_id, job_type, payload, status, result,
			error_message, duration_ms, attempts, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		rec.ID, rec.JobID, nullString(rec.TenantID), rec.JobType, string(rec.Payload), string(rec.Status),
		nullJSON(rec.Result), nullString(rec.ErrorMessage), rec.Duration.Milliseconds(), rec.Attempts, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append history for %s: %w", rec.JobID, err)
	}
	return nil
}

func (r *PostgresHistoryStore) List(ctx context.Context, filter types.HistoryFilter, offset, limit int) ([]types.HistoryRecord, int, error) {
	where := "1=1"
	args := []any{}
	argIndex := 1

	if filter.JobType != "" {
		where += fmt.Sprintf(" AND job_type = $%d", argIndex)
		args = append(args, filter.JobType)
		argIndex++
	}
	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, string(filter.Status))
		argIndex++
	}
	if filter.TenantID != "" {
		where += fmt.Sprintf(" AND tenant_id = $%d", argIndex)
		args = append(args, filter.TenantID)
		argIndex++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobqueue.job_history WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres: count history: %w", err)
	}

	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	selectQuery := strings.Join([]string{
		`SELECT id, job_id, tenant_id, job_type, payload, status, result,
		        error_message, duration_ms, attempts, created_at
		 FROM jobqueue.job_history`,
		`WHERE ` + where,
		fmt.Sprintf(`ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, argIndex, argIndex+1),
	}, "\n")

	rows, err := r.db.QueryContext(ctx, selectQuery, append(args, limitArg, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: list history: %w", err)
	}
	defer rows.Close()

	items := make([]types.HistoryRecord, 0)
	for rows.Next() {
		var (
			rec              types.HistoryRecord
			tenantID, errMsg sql.NullString
			payload, result  []byte
			durationMs       int64
		)
		if err := rows.Scan(&rec.ID, &rec.JobID, &tenantID, &rec.JobType, &payload, &rec.Status, &result,
			&errMsg, &durationMs, &rec.Attempts, &rec.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("postgres: list history: %w", err)
		}
		rec.TenantID = fromNullString(tenantID)
		rec.ErrorMessage = fromNullString(errMsg)
		rec.Payload = payload
		if result != nil {
			rec.Result = result
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("postgres: list history: %w", err)
	}
	return items, total, nil
}
