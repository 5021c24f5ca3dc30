package state

import "slices"

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition can leave s.
func (s JobStatus) IsTerminal() bool {
	return slices.Contains(TerminalStatuses, s)
}

// IsLive reports whether a job in s still holds its job key.
func (s JobStatus) IsLive() bool {
	return s == StatusPending || s == StatusProcessing
}

func (s JobStatus) IsValid() bool {
	return slices.Contains(AllStatuses, s)
}

var AllStatuses = []JobStatus{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// TerminalStatuses are the statuses the cleanup sweep may purge.
var TerminalStatuses = []JobStatus{
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

type Transition struct {
	From JobStatus
	To   JobStatus
}

// ValidTransitions lists every edge of the job lifecycle. processing -> pending
// covers both a scheduled retry and a released stale lease; processing ->
// processing is a reclaim of a lease that went stale.
var ValidTransitions = []Transition{
	{From: StatusPending, To: StatusProcessing},
	{From: StatusPending, To: StatusCancelled},
	{From: StatusProcessing, To: StatusCompleted},
	{From: StatusProcessing, To: StatusPending},
	{From: StatusProcessing, To: StatusFailed},
	{From: StatusProcessing, To: StatusProcessing},
}

func IsValidTransition(from, to JobStatus) bool {
	return slices.Contains(ValidTransitions, Transition{From: from, To: to})
}

// Strings converts statuses for use as query arguments.
func Strings(statuses []JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
