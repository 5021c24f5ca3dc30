package types

import (
	"encoding/json"
	"time"

	"github.com/ronittamrakar/jobqueue/internal/state"
)

// HistoryRecord is the immutable snapshot written when a job reaches a terminal
// outcome. The live queue never references it.
type HistoryRecord struct {
	ID           string          `json:"id"`
	JobID        string          `json:"job_id"`
	TenantID     *string         `json:"tenant_id,omitempty"`
	JobType      string          `json:"job_type"`
	Payload      json.RawMessage `json:"payload"`
	Status       state.JobStatus `json:"status"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	Duration     time.Duration   `json:"duration"`
	Attempts     int             `json:"attempts"`
	CreatedAt    time.Time       `json:"created_at"`
}

// HistoryFilter narrows a history listing. Zero values match everything.
type HistoryFilter struct {
	TenantID string
	JobType  string
	Status   state.JobStatus
}

// NewHistoryRecord snapshots j at the moment it became terminal.
func NewHistoryRecord(id string, j *Job, at time.Time) *HistoryRecord {
	rec := &HistoryRecord{
		ID:           id,
		JobID:        j.ID,
		TenantID:     cloneString(j.TenantID),
		JobType:      j.JobType,
		Payload:      append(json.RawMessage(nil), j.Payload...),
		Status:       j.Status,
		ErrorMessage: cloneString(j.ErrorMessage),
		Attempts:     j.Attempts,
		CreatedAt:    at,
	}
	if j.Result != nil {
		rec.Result = append(json.RawMessage(nil), j.Result...)
	}
	if j.StartedAt != nil && j.CompletedAt != nil {
		rec.Duration = j.CompletedAt.Sub(*j.StartedAt)
	}
	return rec
}
