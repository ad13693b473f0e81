package scheduler

import (
	"context"
	"fmt"

	"github.com/skarveli/tradebook/internal/analysis"
	"github.com/skarveli/tradebook/internal/domain"
	"github.com/skarveli/tradebook/internal/queue"
)

// Reconcile resolves orphans between the broker and the registry in both
// directions, with the registry as the source of truth:
//   - broker repeat registrations with no matching row are cancelled
//     (a ScheduleRecurring that failed after registering, or a delete that
//     removed the row but not the registration);
//   - rows whose broker registration is missing get a fresh one
//     (a delete that cancelled the registration but failed to remove the row
//     resolves the other way only by the user retrying the delete, so the row
//     is treated as intent to keep running).
//
// Run at startup, before the broker starts firing in earnest.
func (f *Facade) Reconcile(ctx context.Context) error {
	rows, err := f.registry.All(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: failed to list registry rows: %w", err)
	}
	repeats, err := f.broker.ListRepeats()
	if err != nil {
		return fmt.Errorf("reconcile: failed to list broker registrations: %w", err)
	}

	rowByQueueJobID := make(map[string]bool, len(rows))
	for _, row := range rows {
		rowByQueueJobID[row.QueueJobID] = true
	}
	repeatByID := make(map[string]bool, len(repeats))
	for _, reg := range repeats {
		if reg.Type == queue.JobTypeAnalysisRun {
			repeatByID[reg.ID] = true
		}
	}

	// Orphaned broker registrations
	for _, reg := range repeats {
		if reg.Type != queue.JobTypeAnalysisRun {
			continue
		}
		if rowByQueueJobID[reg.ID] {
			continue
		}
		if err := f.broker.CancelRepeat(reg.RepeatKey); err != nil {
			f.log.Error().Err(err).Str("repeat_id", reg.ID).Msg("Reconcile: failed to cancel orphaned registration")
			continue
		}
		f.log.Warn().Str("repeat_id", reg.ID).Msg("Reconcile: cancelled orphaned broker registration")
	}

	// Rows missing their broker registration
	for _, row := range rows {
		if repeatByID[row.QueueJobID] {
			continue
		}
		if err := f.rebindRow(ctx, row.ID); err != nil {
			f.log.Error().Err(err).Str("scheduled_job_id", row.ID).Msg("Reconcile: failed to rebuild registration")
		}
	}
	return nil
}

// rebindRow registers a fresh broker repeat for a row and repoints the row at it.
func (f *Facade) rebindRow(ctx context.Context, id string) error {
	row, err := f.registry.FindByID(ctx, id)
	if err != nil {
		return err
	}

	expr, err := domain.CronExpr(row.Interval)
	if err != nil {
		return err
	}
	period, err := analysis.MapIntervalToPeriod(row.Interval)
	if err != nil {
		return err
	}
	payload, err := queue.EncodePayload(domain.AnalysisJobPayload{
		UserID:         row.UserID,
		AnalysisType:   row.AnalysisType,
		Period:         period,
		AccountID:      row.AccountID,
		ScheduledJobID: row.ID,
	})
	if err != nil {
		return err
	}

	queueJobID, err := f.broker.RegisterRepeat(queue.JobTypeAnalysisRun, expr, payload, queue.PriorityMedium)
	if err != nil {
		return err
	}
	repeatKey, err := f.broker.RepeatKey(queueJobID)
	if err != nil {
		return &domain.RegistrationInconsistencyError{QueueJobID: queueJobID, Err: err}
	}

	if err := f.registry.UpdateQueueBinding(ctx, row.ID, queueJobID, repeatKey); err != nil {
		return err
	}
	f.log.Warn().
		Str("scheduled_job_id", row.ID).
		Str("queue_job_id", queueJobID).
		Msg("Reconcile: rebuilt broker registration from registry row")
	return nil
}
