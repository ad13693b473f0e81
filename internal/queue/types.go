// Package queue implements the durable, priority-capable job broker: one-shot
// jobs with delay/retry/backoff, repeat-by-cron registrations with separately
// retrievable repeat keys, and completion/failure events.
package queue

import (
	"context"
	"time"
)

// JobType represents the type of job
type JobType string

const (
	// JobTypeAnalysisRun executes one analytics computation for one user.
	JobTypeAnalysisRun JobType = "analysis:run"
	// JobTypeCalendarSweep fans out fixed-cadence analysis jobs for every
	// active user.
	JobTypeCalendarSweep JobType = "calendar:sweep"
)

// Priority represents job priority
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// String returns a human-readable name for the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityMedium:
		return "Medium"
	case PriorityHigh:
		return "High"
	case PriorityCritical:
		return "Critical"
	default:
		return "Unknown"
	}
}

// JobState is the lifecycle state of a queued job.
type JobState string

const (
	StatePending   JobState = "pending"
	StateActive    JobState = "active"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	// StateDead means all attempts are exhausted.
	StateDead JobState = "dead"
)

// DefaultMaxAttempts is used when EnqueueOptions does not set MaxAttempts.
const DefaultMaxAttempts = 3

// Job represents a queued job
type Job struct {
	ID               string
	Type             JobType
	Priority         Priority
	Payload          []byte // msgpack-encoded message
	State            JobState
	Attempts         int
	MaxAttempts      int
	RemoveOnComplete bool
	RepeatID         string // Origin repeat registration, empty for ad-hoc jobs
	LastError        string
	AvailableAt      time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// EnqueueOptions control one-shot job placement.
type EnqueueOptions struct {
	Priority         Priority
	Delay            time.Duration
	MaxAttempts      int
	RemoveOnComplete bool
}

// RepeatRegistration is the broker's representation of "run this job body on
// this cron schedule". ID is the broker-assigned job identifier; RepeatKey is
// the opaque handle needed to cancel the registration, looked up separately.
type RepeatRegistration struct {
	ID        string
	RepeatKey string
	Type      JobType
	Expr      string // Five-field cron expression
	Priority  Priority
	Payload   []byte
	NextFire  time.Time
	CreatedAt time.Time
}

// Handler executes a job. A returned error triggers broker retry accounting.
type Handler func(ctx context.Context, job *Job) error
