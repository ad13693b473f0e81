package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a scheduled job or analysis result does not exist.
var ErrNotFound = errors.New("not found")

// ErrOwnership is returned when the caller does not own the requested row.
var ErrOwnership = errors.New("caller does not own this resource")

// ValidationError reports a rejected input field before any registration happens.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// RegistrationInconsistencyError signals that a repeat job was registered with
// the broker but its repeat key could not be located afterwards. The
// registration is not rolled back automatically; the caller must treat the
// scheduled job as not-created.
type RegistrationInconsistencyError struct {
	QueueJobID string
	Err        error
}

func (e *RegistrationInconsistencyError) Error() string {
	return fmt.Sprintf("repeat key unobtainable for queue job %s: %v", e.QueueJobID, e.Err)
}

func (e *RegistrationInconsistencyError) Unwrap() error { return e.Err }

// CancellationInconsistencyError signals divergence between the broker and the
// registry during removal: one side succeeded and the other failed.
type CancellationInconsistencyError struct {
	ScheduledJobID string
	Err            error
}

func (e *CancellationInconsistencyError) Error() string {
	return fmt.Sprintf("broker/registry diverged while removing scheduled job %s: %v", e.ScheduledJobID, e.Err)
}

func (e *CancellationInconsistencyError) Unwrap() error { return e.Err }

// ComputationError wraps a statistics engine failure. It is written to the
// analysis result as FAILED and then re-raised so broker retry accounting applies.
type ComputationError struct {
	AnalysisType AnalysisType
	Err          error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("%s analysis failed: %v", e.AnalysisType, e.Err)
}

func (e *ComputationError) Unwrap() error { return e.Err }
