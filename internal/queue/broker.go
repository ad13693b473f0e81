package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/skarveli/tradebook/internal/events"
)

// brokerState models broker initialization as a one-time transition.
type brokerState int

const (
	brokerUninitialized brokerState = iota
	brokerReady
	brokerStopped
)

// BrokerConfig holds broker tuning knobs.
type BrokerConfig struct {
	Workers      int
	PollInterval time.Duration
	RetryBackoff time.Duration // Base backoff, doubled per failed attempt
}

// Broker is the queue-facing service: it owns the worker pool, the repeat
// evaluator, retry accounting, and lifecycle events. It is constructed
// explicitly and injected where needed - there is no package-level singleton.
type Broker struct {
	store    *Store
	bus      *events.Bus
	handlers map[JobType]Handler
	cfg      BrokerConfig
	log      zerolog.Logger

	state brokerState
	stop  chan struct{}
	wg    sync.WaitGroup
	mu    sync.Mutex
}

// NewBroker creates a broker over the given store. Call EnsureReady before use.
func NewBroker(store *Store, bus *events.Bus, cfg BrokerConfig, log zerolog.Logger) *Broker {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 30 * time.Second
	}
	return &Broker{
		store:    store,
		bus:      bus,
		handlers: make(map[JobType]Handler),
		cfg:      cfg,
		log:      log.With().Str("component", "queue_broker").Logger(),
		stop:     make(chan struct{}),
	}
}

// RegisterHandler binds a handler to a job type. Must be called before EnsureReady.
func (b *Broker) RegisterHandler(jobType JobType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[jobType] = handler
}

// EnsureReady transitions the broker from Uninitialized to Ready exactly once:
// it migrates the schema and starts the worker pool and repeat evaluator.
// Subsequent calls are no-ops.
func (b *Broker) EnsureReady() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case brokerReady:
		return nil
	case brokerStopped:
		return fmt.Errorf("broker has been stopped")
	}

	if err := b.store.Migrate(); err != nil {
		return fmt.Errorf("failed to initialize queue storage: %w", err)
	}

	for i := 0; i < b.cfg.Workers; i++ {
		b.wg.Add(1)
		go b.workerLoop(i)
	}
	b.wg.Add(1)
	go b.evaluatorLoop()

	b.state = brokerReady
	b.log.Info().
		Int("workers", b.cfg.Workers).
		Dur("poll_interval", b.cfg.PollInterval).
		Msg("Queue broker ready")
	return nil
}

// Stop stops the worker pool and waits for in-flight jobs to finish.
func (b *Broker) Stop() {
	b.mu.Lock()
	if b.state != brokerReady {
		b.mu.Unlock()
		return
	}
	b.state = brokerStopped
	close(b.stop)
	b.mu.Unlock()

	b.wg.Wait()
	b.log.Info().Msg("Queue broker stopped")
}

// Enqueue places a one-shot job on the queue and returns its broker-assigned id.
func (b *Broker) Enqueue(jobType JobType, payload []byte, opts EnqueueOptions) (string, error) {
	job := &Job{
		ID:               uuid.New().String(),
		Type:             jobType,
		Priority:         opts.Priority,
		Payload:          payload,
		MaxAttempts:      opts.MaxAttempts,
		RemoveOnComplete: opts.RemoveOnComplete,
		AvailableAt:      time.Now().UTC().Add(opts.Delay),
	}
	if err := b.store.Enqueue(job); err != nil {
		return "", err
	}

	b.emit(&events.JobStatusData{
		JobID:   job.ID,
		JobType: string(job.Type),
		Status:  "queued",
	})
	b.log.Debug().
		Str("job_id", job.ID).
		Str("job_type", string(job.Type)).
		Str("priority", job.Priority.String()).
		Msg("Job enqueued")
	return job.ID, nil
}

// RegisterRepeat registers a repeat-by-cron job and returns its job identifier.
// The repeat key needed to cancel the registration is assigned separately and
// must be fetched with RepeatKey afterwards.
func (b *Broker) RegisterRepeat(jobType JobType, expr string, payload []byte, priority Priority) (string, error) {
	next, err := NextFire(expr, time.Now().UTC())
	if err != nil {
		return "", err
	}

	reg := &RepeatRegistration{
		ID:        uuid.New().String(),
		RepeatKey: "repeat:" + uuid.New().String(),
		Type:      jobType,
		Expr:      expr,
		Priority:  priority,
		Payload:   payload,
		NextFire:  next,
	}
	if err := b.store.RegisterRepeat(reg); err != nil {
		return "", err
	}

	b.log.Info().
		Str("repeat_id", reg.ID).
		Str("job_type", string(jobType)).
		Str("cron", expr).
		Time("next_fire", next).
		Msg("Repeat registration created")
	return reg.ID, nil
}

// RepeatKey looks up the cancellation key for a repeat registration.
func (b *Broker) RepeatKey(jobID string) (string, error) {
	return b.store.RepeatKey(jobID)
}

// CancelRepeat cancels a repeat registration by its opaque key.
func (b *Broker) CancelRepeat(key string) error {
	return b.store.CancelRepeatByKey(key)
}

// ListRepeats returns all repeat registrations. Used by reconciliation.
func (b *Broker) ListRepeats() ([]*RepeatRegistration, error) {
	return b.store.ListRepeats()
}

// NextFire computes the next fire time of a five-field cron expression after
// the given instant.
func NextFire(expr string, after time.Time) (time.Time, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule.Next(after), nil
}

// workerLoop claims and executes jobs until the broker stops. Each job is
// delivered to exactly one worker by the transactional claim.
func (b *Broker) workerLoop(id int) {
	defer b.wg.Done()
	log := b.log.With().Int("worker", id).Logger()

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			// Drain everything that is due before going back to sleep
			for {
				job, err := b.store.ClaimNext(time.Now().UTC())
				if err != nil {
					log.Error().Err(err).Msg("Failed to claim job")
					break
				}
				if job == nil {
					break
				}
				b.execute(job, log)
			}
		}
	}
}

// execute runs one claimed job through its handler and finalizes its state.
func (b *Broker) execute(job *Job, log zerolog.Logger) {
	b.mu.Lock()
	handler, ok := b.handlers[job.Type]
	b.mu.Unlock()

	b.emit(&events.JobStatusData{
		JobID:   job.ID,
		JobType: string(job.Type),
		Status:  "started",
		Attempt: job.Attempts,
	})

	if !ok {
		b.failJob(job, fmt.Errorf("no handler registered for job type %q", job.Type), log)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := handler(ctx, job); err != nil {
		b.failJob(job, err, log)
		return
	}

	if err := b.store.MarkCompleted(job); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to finalize completed job")
		return
	}
	b.emit(&events.JobStatusData{
		JobID:   job.ID,
		JobType: string(job.Type),
		Status:  "completed",
		Attempt: job.Attempts,
		Payload: job.Payload,
	})
	log.Debug().Str("job_id", job.ID).Str("job_type", string(job.Type)).Msg("Job completed")
}

func (b *Broker) failJob(job *Job, jobErr error, log zerolog.Logger) {
	retryAt := time.Now().UTC().Add(b.backoff(job.Attempts))
	retried, err := b.store.MarkFailed(job, jobErr.Error(), retryAt)
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to record job failure")
		return
	}

	b.emit(&events.JobStatusData{
		JobID:   job.ID,
		JobType: string(job.Type),
		Status:  "failed",
		Attempt: job.Attempts,
		Error:   jobErr.Error(),
		Payload: job.Payload,
	})

	evt := log.Warn().
		Err(jobErr).
		Str("job_id", job.ID).
		Str("job_type", string(job.Type)).
		Int("attempt", job.Attempts).
		Int("max_attempts", job.MaxAttempts)
	if retried {
		evt.Time("retry_at", retryAt).Msg("Job failed, will retry")
	} else {
		evt.Msg("Job failed permanently")
	}
}

// backoff doubles the base delay per completed attempt: base, 2x, 4x, ...
func (b *Broker) backoff(attempts int) time.Duration {
	d := b.cfg.RetryBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	return d
}

// evaluatorLoop turns due repeat registrations into one-shot job instances.
// This is the broker's internal cron evaluation - the only scheduling
// authority in the system.
func (b *Broker) evaluatorLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case now := <-ticker.C:
			b.fireDueRepeats(now.UTC())
		}
	}
}

func (b *Broker) fireDueRepeats(now time.Time) {
	due, err := b.store.DueRepeats(now)
	if err != nil {
		b.log.Error().Err(err).Msg("Failed to query due repeat registrations")
		return
	}

	for _, reg := range due {
		instance := &Job{
			ID:          uuid.New().String(),
			Type:        reg.Type,
			Priority:    reg.Priority,
			Payload:     reg.Payload,
			MaxAttempts: DefaultMaxAttempts,
			RepeatID:    reg.ID,
			AvailableAt: now,
		}
		if err := b.store.Enqueue(instance); err != nil {
			b.log.Error().Err(err).Str("repeat_id", reg.ID).Msg("Failed to enqueue repeat instance")
			continue
		}

		next, err := NextFire(reg.Expr, now)
		if err != nil {
			// Expression was validated at registration; treat as corrupt and skip
			b.log.Error().Err(err).Str("repeat_id", reg.ID).Msg("Stored cron expression no longer parses")
			continue
		}
		if err := b.store.AdvanceRepeat(reg.ID, next); err != nil {
			b.log.Error().Err(err).Str("repeat_id", reg.ID).Msg("Failed to advance repeat registration")
			continue
		}

		b.emit(&events.JobStatusData{
			JobID:   instance.ID,
			JobType: string(instance.Type),
			Status:  "queued",
		})
		b.log.Debug().
			Str("repeat_id", reg.ID).
			Str("job_id", instance.ID).
			Time("next_fire", next).
			Msg("Repeat fired")
	}
}

func (b *Broker) emit(data *events.JobStatusData) {
	if b.bus == nil {
		return
	}
	data.Timestamp = time.Now().UTC()
	b.bus.Emit("queue", data)
}
