// Package dispatcher consumes analysis jobs from the queue: it resolves the
// date window, opens a pending result row, invokes the statistics engine, and
// closes the row as completed or failed.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/skarveli/tradebook/internal/analysis"
	"github.com/skarveli/tradebook/internal/domain"
	"github.com/skarveli/tradebook/internal/queue"
	"github.com/skarveli/tradebook/internal/registry"
	"github.com/skarveli/tradebook/internal/results"
)

// DefaultLockTTL bounds how long one execution may exclude the next firing of
// the same schedule.
const DefaultLockTTL = 10 * time.Minute

// Dispatcher handles analysis:run jobs.
type Dispatcher struct {
	registry *registry.Repository
	results  *results.Repository
	engine   analysis.Engine
	lockTTL  time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// New creates a dispatcher.
func New(reg *registry.Repository, res *results.Repository, engine analysis.Engine, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		results:  res,
		engine:   engine,
		lockTTL:  DefaultLockTTL,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.With().Str("component", "dispatcher").Logger(),
	}
}

// Register binds the dispatcher to the broker's analysis job type.
func (d *Dispatcher) Register(broker *queue.Broker) {
	broker.RegisterHandler(queue.JobTypeAnalysisRun, d.Handle)
}

// Handle executes one analysis job. A returned error is re-raised to the
// broker so its retry accounting applies; the result row has already been
// closed as FAILED by then.
func (d *Dispatcher) Handle(ctx context.Context, job *queue.Job) error {
	var payload domain.AnalysisJobPayload
	if err := queue.DecodePayload(job.Payload, &payload); err != nil {
		// Undecodable payloads never succeed; retrying is pointless but
		// harmless, and the dead-letter state makes the poison job visible.
		return err
	}

	log := d.log.With().
		Str("job_id", job.ID).
		Str("user_id", payload.UserID).
		Str("analysis_type", string(payload.AnalysisType)).
		Logger()

	// Broker firings of a recurring registration honor pause and overlap
	// protection before any row is opened, so paused schedules leave no
	// trace. Run-now one-shots carry a schedule id too but were requested
	// explicitly, so they always execute and always produce a result row.
	if payload.ScheduledJobID != "" && job.RepeatID != "" {
		scheduled, err := d.registry.FindByID(ctx, payload.ScheduledJobID)
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn().Str("scheduled_job_id", payload.ScheduledJobID).
				Msg("Schedule deleted after firing, skipping")
			return nil
		}
		if err != nil {
			return err
		}
		if !scheduled.IsActive {
			log.Debug().Str("scheduled_job_id", scheduled.ID).
				Msg("Schedule paused, ignoring firing")
			return nil
		}

		acquired, err := d.registry.TryLock(ctx, scheduled.ID, d.lockTTL)
		if err != nil {
			return err
		}
		if !acquired {
			log.Warn().Str("scheduled_job_id", scheduled.ID).
				Msg("Previous execution still running, skipping overlapping firing")
			return nil
		}
		defer func() {
			if err := d.registry.Unlock(context.Background(), scheduled.ID); err != nil {
				log.Error().Err(err).Msg("Failed to release schedule lock")
			}
		}()
	}

	start, end, err := d.resolveWindow(payload)
	if err != nil {
		return err
	}

	result := &results.AnalysisResult{
		RequestID:      job.ID,
		UserID:         payload.UserID,
		AnalysisType:   payload.AnalysisType,
		Period:         payload.Period,
		AccountID:      payload.AccountID,
		WindowStart:    start,
		WindowEnd:      end,
		ScheduledJobID: payload.ScheduledJobID,
	}
	if err := d.results.OpenPending(ctx, result); err != nil {
		return err
	}

	began := d.now()
	data, computeErr := d.compute(ctx, payload, start, end)
	elapsed := d.now().Sub(began).Milliseconds()

	if computeErr != nil {
		if err := d.results.Fail(ctx, job.ID, computeErr.Error(), elapsed); err != nil {
			log.Error().Err(err).Msg("Failed to close result as failed")
		}
		return &domain.ComputationError{AnalysisType: payload.AnalysisType, Err: computeErr}
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		if failErr := d.results.Fail(ctx, job.ID, err.Error(), elapsed); failErr != nil {
			log.Error().Err(failErr).Msg("Failed to close result as failed")
		}
		return fmt.Errorf("failed to encode analysis data: %w", err)
	}
	if err := d.results.Complete(ctx, job.ID, string(encoded), elapsed); err != nil {
		return err
	}

	if payload.ScheduledJobID != "" {
		if err := d.recordRun(ctx, payload.ScheduledJobID); err != nil {
			// Bookkeeping only - the result is already persisted
			log.Error().Err(err).Msg("Failed to record schedule run")
		}
	}

	log.Info().Int64("calculation_time_ms", elapsed).Msg("Analysis completed")
	return nil
}

// resolveWindow honors explicit payload dates verbatim and computes the rest
// from the period. Both absent: the full period window ending now.
func (d *Dispatcher) resolveWindow(payload domain.AnalysisJobPayload) (time.Time, time.Time, error) {
	if payload.StartDate != nil && payload.EndDate != nil {
		return *payload.StartDate, *payload.EndDate, nil
	}

	reference := d.now()
	if payload.EndDate != nil {
		reference = *payload.EndDate
	}
	start, end, err := analysis.ResolveRange(payload.Period, reference)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if payload.StartDate != nil {
		start = *payload.StartDate
	}
	return start, end, nil
}

// compute runs the engine. Dashboard fans out to every individual analysis
// concurrently and assembles the composite; the first error fails the whole
// job and partial sub-results are discarded.
func (d *Dispatcher) compute(ctx context.Context, payload domain.AnalysisJobPayload, start, end time.Time) (map[string]interface{}, error) {
	req := analysis.Request{
		UserID:    payload.UserID,
		AccountID: payload.AccountID,
		Period:    payload.Period,
		Start:     start,
		End:       end,
	}

	if payload.AnalysisType != domain.AnalysisDashboard {
		return d.engine.Analyze(ctx, payload.AnalysisType, req)
	}

	var mu sync.Mutex
	composite := make(map[string]interface{})
	g, gctx := errgroup.WithContext(ctx)
	for _, typ := range domain.IndividualAnalysisTypes() {
		typ := typ
		g.Go(func() error {
			part, err := d.engine.Analyze(gctx, typ, req)
			if err != nil {
				return fmt.Errorf("%s: %w", typ, err)
			}
			mu.Lock()
			composite[string(typ)] = part
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return composite, nil
}

// recordRun updates lastRun and projects nextRun from the schedule's cron
// expression.
func (d *Dispatcher) recordRun(ctx context.Context, scheduledJobID string) error {
	scheduled, err := d.registry.FindByID(ctx, scheduledJobID)
	if err != nil {
		return err
	}
	now := d.now()

	var nextRun *time.Time
	if expr, err := domain.CronExpr(scheduled.Interval); err == nil {
		if next, err := queue.NextFire(expr, now); err == nil {
			nextRun = &next
		}
	}
	return d.registry.RecordRun(ctx, scheduledJobID, now, nextRun)
}
