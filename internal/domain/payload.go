package domain

import "time"

// AnalysisJobPayload is the message carried by a queue job. StartDate/EndDate
// are only honored together; when either is absent the dispatcher resolves the
// window from Period relative to "now". ScheduledJobID is present only for
// jobs originating from a recurring registration.
type AnalysisJobPayload struct {
	UserID         string       `msgpack:"user_id" json:"userId"`
	AnalysisType   AnalysisType `msgpack:"analysis_type" json:"analysisType"`
	Period         Period       `msgpack:"period" json:"period"`
	AccountID      string       `msgpack:"account_id,omitempty" json:"accountId,omitempty"`
	StartDate      *time.Time   `msgpack:"start_date,omitempty" json:"startDate,omitempty"`
	EndDate        *time.Time   `msgpack:"end_date,omitempty" json:"endDate,omitempty"`
	ScheduledJobID string       `msgpack:"scheduled_job_id,omitempty" json:"scheduledJobId,omitempty"`
}
