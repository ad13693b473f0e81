// Package results owns the AnalysisResult lifecycle: rows open in PENDING
// before computation starts and reach exactly one terminal state. Broker
// retries converge on a single row because rows are keyed by the queue job id.
package results

import (
	"time"

	"github.com/skarveli/tradebook/internal/domain"
)

// AnalysisResult is one persisted analysis computation.
type AnalysisResult struct {
	ID           string              `json:"id"`
	RequestID    string              `json:"-"` // Queue job id; stable across retry attempts
	UserID       string              `json:"userId"`
	AnalysisType domain.AnalysisType `json:"analysisType"`
	Period       domain.Period       `json:"period"`
	Status       domain.ResultStatus `json:"status"`
	Data         string              `json:"data,omitempty"` // JSON document
	ErrorMessage string              `json:"errorMessage,omitempty"`
	AccountID    string              `json:"accountId,omitempty"`
	WindowStart  time.Time           `json:"windowStart"`
	WindowEnd    time.Time           `json:"windowEnd"`

	// Metadata
	CalculationTimeMs int64  `json:"calculationTimeMs,omitempty"`
	ScheduledJobID    string `json:"scheduledJobId,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}
