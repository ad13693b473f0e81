package scheduler

import (
	"context"
	"fmt"

	"github.com/skarveli/tradebook/internal/analysis"
	"github.com/skarveli/tradebook/internal/domain"
	"github.com/skarveli/tradebook/internal/queue"
)

// sweepPayload is the message carried by calendar sweep jobs. Offset is the
// position in the user list where this instance resumes; continuation jobs
// carry a non-zero offset.
type sweepPayload struct {
	Cadence domain.Interval `msgpack:"cadence"`
	Offset  int             `msgpack:"offset"`
}

// sweepAnalyses is the fixed analysis set fanned out per cadence.
var sweepAnalyses = map[domain.Interval][]domain.AnalysisType{
	domain.IntervalDaily:     {domain.AnalysisPerformance},
	domain.IntervalWeekly:    {domain.AnalysisPerformance, domain.AnalysisPattern},
	domain.IntervalMonthly:   {domain.AnalysisPerformance, domain.AnalysisPattern},
	domain.IntervalQuarterly: {domain.AnalysisPerformance, domain.AnalysisPattern, domain.AnalysisForecast},
}

// RegisterCalendarSweeps expresses the fixed calendar sweeps as broker repeat
// registrations. The broker is the single scheduling authority - there is no
// process-local timer, so multi-instance deployments do not duplicate sweeps.
// Idempotent: existing sweep registrations are left untouched.
func (f *Facade) RegisterCalendarSweeps() error {
	existing, err := f.broker.ListRepeats()
	if err != nil {
		return fmt.Errorf("failed to list repeat registrations: %w", err)
	}

	registered := make(map[domain.Interval]bool)
	for _, reg := range existing {
		if reg.Type != queue.JobTypeCalendarSweep {
			continue
		}
		var p sweepPayload
		if err := queue.DecodePayload(reg.Payload, &p); err != nil {
			continue
		}
		registered[p.Cadence] = true
	}

	for _, cadence := range []domain.Interval{
		domain.IntervalDaily,
		domain.IntervalWeekly,
		domain.IntervalMonthly,
		domain.IntervalQuarterly,
	} {
		if registered[cadence] {
			continue
		}
		expr, err := domain.CronExpr(cadence)
		if err != nil {
			return err
		}
		payload, err := queue.EncodePayload(sweepPayload{Cadence: cadence})
		if err != nil {
			return err
		}
		if _, err := f.broker.RegisterRepeat(queue.JobTypeCalendarSweep, expr, payload, queue.PriorityLow); err != nil {
			return fmt.Errorf("failed to register %s sweep: %w", cadence, err)
		}
		f.log.Info().Str("cadence", string(cadence)).Str("cron", expr).Msg("Calendar sweep registered")
	}
	return nil
}

// handleSweep fans out one-shot analysis jobs for every active user at the
// sweep's cadence. Large user lists are processed sweepBatch users at a time;
// the remainder is handed off to a continuation job so no single firing
// floods the queue.
func (f *Facade) handleSweep(ctx context.Context, job *queue.Job) error {
	var p sweepPayload
	if err := queue.DecodePayload(job.Payload, &p); err != nil {
		return err
	}

	types, ok := sweepAnalyses[p.Cadence]
	if !ok {
		return &domain.ValidationError{Field: "cadence", Message: fmt.Sprintf("unknown sweep cadence %q", p.Cadence)}
	}
	period, err := analysis.MapIntervalToPeriod(p.Cadence)
	if err != nil {
		return err
	}

	users, err := f.users.DistinctUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users for sweep: %w", err)
	}

	if p.Offset >= len(users) {
		return nil
	}
	batch := users[p.Offset:]
	remaining := 0
	if f.sweepBatch > 0 && len(batch) > f.sweepBatch {
		remaining = len(batch) - f.sweepBatch
		batch = batch[:f.sweepBatch]
	}

	enqueued := 0
	for _, userID := range batch {
		for _, typ := range types {
			payload, err := queue.EncodePayload(domain.AnalysisJobPayload{
				UserID:       userID,
				AnalysisType: typ,
				Period:       period,
			})
			if err != nil {
				return err
			}
			// Sweep results are bulk background work; completed queue rows
			// would pile up at user-count scale.
			if _, err := f.broker.Enqueue(queue.JobTypeAnalysisRun, payload, queue.EnqueueOptions{
				Priority:         queue.PriorityLow,
				RemoveOnComplete: true,
			}); err != nil {
				return err
			}
			enqueued++
		}
	}

	if remaining > 0 {
		contPayload, err := queue.EncodePayload(sweepPayload{Cadence: p.Cadence, Offset: p.Offset + len(batch)})
		if err != nil {
			return err
		}
		if _, err := f.broker.Enqueue(queue.JobTypeCalendarSweep, contPayload, queue.EnqueueOptions{
			Priority:         queue.PriorityLow,
			RemoveOnComplete: true,
		}); err != nil {
			return fmt.Errorf("failed to enqueue sweep continuation: %w", err)
		}
	}

	f.log.Info().
		Str("cadence", string(p.Cadence)).
		Int("users", len(batch)).
		Int("jobs", enqueued).
		Int("remaining", remaining).
		Msg("Calendar sweep fanned out")
	return nil
}
