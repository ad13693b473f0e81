// Package scheduler is the orchestration surface used by the API layer: it
// coordinates the registry and the queue broker for recurring registrations,
// run-now requests, calendar sweeps, and broker/registry reconciliation.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/skarveli/tradebook/internal/analysis"
	"github.com/skarveli/tradebook/internal/domain"
	"github.com/skarveli/tradebook/internal/events"
	"github.com/skarveli/tradebook/internal/queue"
	"github.com/skarveli/tradebook/internal/registry"
)

// UserSource lists the users calendar sweeps fan out to.
type UserSource interface {
	DistinctUserIDs(ctx context.Context) ([]string, error)
}

// ScheduleOptions carries the optional fields of a new recurring registration.
type ScheduleOptions struct {
	Name        string
	Description string
	AccountID   string
}

// Facade coordinates registry writes with broker repeat registrations.
// Constructed explicitly and injected; readiness is a one-time transition via
// EnsureReady.
type Facade struct {
	registry   *registry.Repository
	broker     *queue.Broker
	bus        *events.Bus
	users      UserSource
	sweepBatch int
	now        func() time.Time
	log        zerolog.Logger
}

// New creates the scheduler facade.
func New(reg *registry.Repository, broker *queue.Broker, bus *events.Bus, users UserSource, log zerolog.Logger) *Facade {
	return &Facade{
		registry:   reg,
		broker:     broker,
		bus:        bus,
		users:      users,
		sweepBatch: 500,
		now:        func() time.Time { return time.Now().UTC() },
		log:        log.With().Str("component", "scheduler").Logger(),
	}
}

// SetSweepBatchSize caps how many users a single calendar sweep firing fans
// out to; the rest is carried by continuation jobs. Zero disables the cap.
func (f *Facade) SetSweepBatchSize(n int) {
	f.sweepBatch = n
}

// EnsureReady migrates the registry schema, binds the sweep handler, and
// brings the broker up. Idempotent.
func (f *Facade) EnsureReady() error {
	if err := f.registry.Migrate(); err != nil {
		return err
	}
	f.broker.RegisterHandler(queue.JobTypeCalendarSweep, f.handleSweep)
	return f.broker.EnsureReady()
}

// ScheduleRecurring registers a repeat job with the broker and persists the
// ScheduledJob row. When the broker's repeat key cannot be located after
// registration the row is NOT created and the caller receives a
// RegistrationInconsistencyError - the broker-side registration may need
// manual cleanup (or the next Reconcile pass).
func (f *Facade) ScheduleRecurring(ctx context.Context, userID string, analysisType domain.AnalysisType, interval domain.Interval, opts ScheduleOptions) (*registry.ScheduledJob, error) {
	period, err := analysis.MapIntervalToPeriod(interval)
	if err != nil {
		return nil, err
	}
	expr, err := domain.CronExpr(interval)
	if err != nil {
		return nil, err
	}
	if _, err := domain.ParseAnalysisType(string(analysisType)); err != nil {
		return nil, err
	}

	// The row id is minted up front so the repeat payload can carry it.
	scheduledJobID := uuid.New().String()
	payload, err := queue.EncodePayload(domain.AnalysisJobPayload{
		UserID:         userID,
		AnalysisType:   analysisType,
		Period:         period,
		AccountID:      opts.AccountID,
		ScheduledJobID: scheduledJobID,
	})
	if err != nil {
		return nil, err
	}

	queueJobID, err := f.broker.RegisterRepeat(queue.JobTypeAnalysisRun, expr, payload, queue.PriorityMedium)
	if err != nil {
		return nil, fmt.Errorf("broker repeat registration failed: %w", err)
	}

	repeatKey, err := f.broker.RepeatKey(queueJobID)
	if err != nil {
		return nil, &domain.RegistrationInconsistencyError{QueueJobID: queueJobID, Err: err}
	}

	nextRun, err := queue.NextFire(expr, f.now())
	if err != nil {
		return nil, err
	}

	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("%s %s analysis", interval, analysisType)
	}

	job := &registry.ScheduledJob{
		ID:             scheduledJobID,
		UserID:         userID,
		QueueJobID:     queueJobID,
		QueueRepeatKey: repeatKey,
		Name:           name,
		Description:    opts.Description,
		AnalysisType:   analysisType,
		Interval:       interval,
		AccountID:      opts.AccountID,
		NextRun:        &nextRun,
		IsActive:       true,
	}
	if err := f.registry.Create(ctx, job); err != nil {
		return nil, &domain.RegistrationInconsistencyError{QueueJobID: queueJobID, Err: err}
	}

	f.emitScheduleChange(job, false)
	f.log.Info().
		Str("scheduled_job_id", job.ID).
		Str("user_id", userID).
		Str("analysis_type", string(analysisType)).
		Str("interval", string(interval)).
		Time("next_run", nextRun).
		Msg("Recurring analysis scheduled")
	return job, nil
}

// RemoveScheduled cancels the broker repeat registration and deletes the row.
// The two stores have no shared transaction; divergence surfaces as a
// CancellationInconsistencyError for the caller (and the Reconcile sweep).
func (f *Facade) RemoveScheduled(ctx context.Context, callerID, id string) error {
	job, err := f.ownedJob(ctx, callerID, id)
	if err != nil {
		return err
	}

	if err := f.broker.CancelRepeat(job.QueueRepeatKey); err != nil {
		// An already-gone registration is fine: the goal state is reached.
		if !errors.Is(err, queue.ErrRepeatNotFound) {
			return &domain.CancellationInconsistencyError{ScheduledJobID: id, Err: err}
		}
	}

	if err := f.registry.Delete(ctx, id); err != nil {
		return &domain.CancellationInconsistencyError{ScheduledJobID: id, Err: err}
	}

	f.emitScheduleChange(job, true)
	f.log.Info().Str("scheduled_job_id", id).Msg("Recurring analysis removed")
	return nil
}

// Pause deactivates the schedule. The broker keeps firing; the dispatcher
// ignores firings of paused schedules on arrival.
func (f *Facade) Pause(ctx context.Context, callerID, id string) (*registry.ScheduledJob, error) {
	if _, err := f.ownedJob(ctx, callerID, id); err != nil {
		return nil, err
	}
	if err := f.registry.Deactivate(ctx, id); err != nil {
		return nil, err
	}
	return f.registry.FindByID(ctx, id)
}

// Resume reactivates the schedule.
func (f *Facade) Resume(ctx context.Context, callerID, id string) (*registry.ScheduledJob, error) {
	if _, err := f.ownedJob(ctx, callerID, id); err != nil {
		return nil, err
	}
	if err := f.registry.Activate(ctx, id); err != nil {
		return nil, err
	}
	return f.registry.FindByID(ctx, id)
}

// Update applies a partial edit (name, description, isActive).
func (f *Facade) Update(ctx context.Context, callerID, id string, update registry.Update) (*registry.ScheduledJob, error) {
	if _, err := f.ownedJob(ctx, callerID, id); err != nil {
		return nil, err
	}
	if err := f.registry.UpdateFields(ctx, id, update); err != nil {
		return nil, err
	}
	return f.registry.FindByID(ctx, id)
}

// RunNow enqueues a one-shot execution of the schedule at elevated priority.
// The window resumes from the last successful boundary (startDate = lastRun)
// and lastRun is updated optimistically at enqueue time.
func (f *Facade) RunNow(ctx context.Context, callerID, id string) (string, error) {
	job, err := f.ownedJob(ctx, callerID, id)
	if err != nil {
		return "", err
	}

	period, err := analysis.MapIntervalToPeriod(job.Interval)
	if err != nil {
		return "", err
	}

	payload, err := queue.EncodePayload(domain.AnalysisJobPayload{
		UserID:         job.UserID,
		AnalysisType:   job.AnalysisType,
		Period:         period,
		AccountID:      job.AccountID,
		StartDate:      job.LastRun,
		ScheduledJobID: job.ID,
	})
	if err != nil {
		return "", err
	}

	queueJobID, err := f.broker.Enqueue(queue.JobTypeAnalysisRun, payload, queue.EnqueueOptions{
		Priority: queue.PriorityHigh,
	})
	if err != nil {
		return "", err
	}

	if err := f.registry.RecordRun(ctx, id, f.now(), nil); err != nil {
		f.log.Error().Err(err).Str("scheduled_job_id", id).Msg("Failed to record optimistic lastRun")
	}

	f.log.Info().Str("scheduled_job_id", id).Str("queue_job_id", queueJobID).Msg("Run-now enqueued")
	return queueJobID, nil
}

// ListForUser returns the caller's schedules matching the filter.
func (f *Facade) ListForUser(ctx context.Context, userID string, filter registry.Filter) ([]*registry.ScheduledJob, error) {
	return f.registry.FindByUser(ctx, userID, filter)
}

// GetByID returns a single schedule, enforcing ownership.
func (f *Facade) GetByID(ctx context.Context, callerID, id string) (*registry.ScheduledJob, error) {
	return f.ownedJob(ctx, callerID, id)
}

// ownedJob loads a row and enforces that the caller owns it.
func (f *Facade) ownedJob(ctx context.Context, callerID, id string) (*registry.ScheduledJob, error) {
	job, err := f.registry.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.UserID != callerID {
		return nil, domain.ErrOwnership
	}
	return job, nil
}

func (f *Facade) emitScheduleChange(job *registry.ScheduledJob, removed bool) {
	if f.bus == nil {
		return
	}
	f.bus.Emit("scheduler", &events.ScheduleChangedData{
		ScheduledJobID: job.ID,
		UserID:         job.UserID,
		AnalysisType:   string(job.AnalysisType),
		Interval:       string(job.Interval),
		Removed:        removed,
	})
}
