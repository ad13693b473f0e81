package events

import "time"

// EventData is the interface that all event data types must implement.
// This allows for type-safe event data while maintaining flexibility.
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// JobStatusData carries queue job lifecycle information. Terminal events
// (completed, failed) include the job's encoded payload so subscribers can
// act on the outcome without a queue lookup.
type JobStatusData struct {
	JobID     string    `json:"job_id"`
	JobType   string    `json:"job_type"`
	Status    string    `json:"status"`
	Attempt   int       `json:"attempt,omitempty"`
	Error     string    `json:"error,omitempty"`
	Payload   []byte    `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventType returns the event type matching the job status
func (d *JobStatusData) EventType() EventType {
	switch d.Status {
	case "queued":
		return JobQueued
	case "started":
		return JobStarted
	case "failed":
		return JobFailed
	default:
		return JobCompleted
	}
}

// ScheduleChangedData carries recurring-schedule registration changes
type ScheduleChangedData struct {
	ScheduledJobID string `json:"scheduled_job_id"`
	UserID         string `json:"user_id"`
	AnalysisType   string `json:"analysis_type"`
	Interval       string `json:"interval"`
	Removed        bool   `json:"removed,omitempty"`
}

// EventType returns ScheduleRemoved for removals, ScheduleCreated otherwise
func (d *ScheduleChangedData) EventType() EventType {
	if d.Removed {
		return ScheduleRemoved
	}
	return ScheduleCreated
}
