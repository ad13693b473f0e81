// Package registry persists recurring-analysis registrations (ScheduledJob
// rows). It is independent of the queue: the pairing between a row and its
// broker repeat registration is coordinated by the scheduler facade.
package registry

import (
	"time"

	"github.com/skarveli/tradebook/internal/domain"
)

// ScheduledJob is one user-configured recurring analysis.
type ScheduledJob struct {
	ID             string              `json:"id"`
	UserID         string              `json:"userId"`
	QueueJobID     string              `json:"queueJobId"`
	QueueRepeatKey string              `json:"-"` // Broker-internal cancellation handle
	Name           string              `json:"name"`
	Description    string              `json:"description,omitempty"`
	AnalysisType   domain.AnalysisType `json:"analysisType"`
	Interval       domain.Interval     `json:"interval"`
	AccountID      string              `json:"accountId,omitempty"`
	LastRun        *time.Time          `json:"lastRun,omitempty"`
	NextRun        *time.Time          `json:"nextRun,omitempty"`
	IsActive       bool                `json:"isActive"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

// Filter narrows FindByUser results. Nil fields match everything.
type Filter struct {
	IsActive     *bool
	AnalysisType *domain.AnalysisType
	Interval     *domain.Interval
}

// Update carries the mutable subset of a ScheduledJob. Ownership and queue
// binding never change through this path.
type Update struct {
	Name        *string
	Description *string
	IsActive    *bool
}
