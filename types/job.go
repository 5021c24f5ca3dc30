package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ronittamrakar/jobqueue/internal/state"
)

// Job is one row of the live queue. The store owns it; workers only hold a copy
// for the duration of a single claimed execution.
type Job struct {
	ID           string          `json:"id"`
	TenantID     *string         `json:"tenant_id,omitempty"`
	JobType      string          `json:"job_type"`
	JobKey       *string         `json:"job_key,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	Status       state.JobStatus `json:"status"`
	ScheduledAt  time.Time       `json:"scheduled_at"`
	Priority     int             `json:"priority"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	LockedBy     *string         `json:"locked_by,omitempty"`
	LockedAt     *time.Time      `json:"locked_at,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	NextRetryAt  *time.Time      `json:"next_retry_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// DecodePayload unmarshals the opaque payload into v.
func (j *Job) DecodePayload(v any) error {
	if len(j.Payload) == 0 {
		return fmt.Errorf("%w: job %s has an empty payload", ErrInvalidPayload, j.ID)
	}
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("%w: job %s: %v", ErrInvalidPayload, j.ID, err)
	}
	return nil
}

// CanRetry reports whether another attempt is allowed after the current one.
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// Clone returns a deep copy so callers never share pointers with a store.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.TenantID = cloneString(j.TenantID)
	cp.JobKey = cloneString(j.JobKey)
	cp.LockedBy = cloneString(j.LockedBy)
	cp.ErrorMessage = cloneString(j.ErrorMessage)
	cp.LockedAt = cloneTime(j.LockedAt)
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	cp.NextRetryAt = cloneTime(j.NextRetryAt)
	if j.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	if j.Result != nil {
		cp.Result = append(json.RawMessage(nil), j.Result...)
	}
	return &cp
}

// StringPtr returns nil for the empty string so optional columns stay NULL.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// TimePtr returns a pointer to a copy of t.
func TimePtr(t time.Time) *time.Time {
	return &t
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
