package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/skarveli/tradebook/internal/domain"
)

const registrySchema = `
CREATE TABLE IF NOT EXISTS scheduled_jobs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	queue_job_id TEXT NOT NULL UNIQUE,
	queue_repeat_key TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	analysis_type TEXT NOT NULL,
	interval TEXT NOT NULL,
	account_id TEXT NOT NULL DEFAULT '',
	last_run DATETIME,
	next_run DATETIME,
	is_active INTEGER NOT NULL DEFAULT 1,
	locked_until DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scheduled_jobs_user ON scheduled_jobs(user_id);
CREATE INDEX IF NOT EXISTS idx_scheduled_jobs_due ON scheduled_jobs(is_active, next_run);
`

const scheduledJobColumns = `id, user_id, queue_job_id, queue_repeat_key, name, description,
	analysis_type, interval, account_id, last_run, next_run, is_active, created_at, updated_at`

// Repository handles scheduled job database operations. Ownership checks are
// the facade's concern; every operation here is scoped to a single row by id.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new scheduled job repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "scheduled_jobs").Logger(),
	}
}

// Migrate creates the scheduled_jobs table if it does not exist.
func (r *Repository) Migrate() error {
	if _, err := r.db.Exec(registrySchema); err != nil {
		return fmt.Errorf("failed to migrate registry schema: %w", err)
	}
	return nil
}

// Create persists a new scheduled job. The id is assigned here when empty.
func (r *Repository) Create(ctx context.Context, job *ScheduledJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (id, user_id, queue_job_id, queue_repeat_key, name,
			description, analysis_type, interval, account_id, last_run, next_run,
			is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.UserID, job.QueueJobID, job.QueueRepeatKey, job.Name,
		job.Description, job.AnalysisType, job.Interval, job.AccountID,
		nullableTime(job.LastRun), nullableTime(job.NextRun),
		boolToInt(job.IsActive), job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create scheduled job: %w", err)
	}
	return nil
}

// FindByID returns a scheduled job by id.
func (r *Repository) FindByID(ctx context.Context, id string) (*ScheduledJob, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+scheduledJobColumns+` FROM scheduled_jobs WHERE id = ?`, id)
	return scanScheduledJob(row)
}

// FindByQueueJobID returns the scheduled job owning the given broker repeat job id.
func (r *Repository) FindByQueueJobID(ctx context.Context, queueJobID string) (*ScheduledJob, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+scheduledJobColumns+` FROM scheduled_jobs WHERE queue_job_id = ?`, queueJobID)
	return scanScheduledJob(row)
}

// FindByUser returns the user's scheduled jobs matching the filter.
func (r *Repository) FindByUser(ctx context.Context, userID string, filter Filter) ([]*ScheduledJob, error) {
	query := `SELECT ` + scheduledJobColumns + ` FROM scheduled_jobs WHERE user_id = ?`
	args := []interface{}{userID}

	if filter.IsActive != nil {
		query += ` AND is_active = ?`
		args = append(args, boolToInt(*filter.IsActive))
	}
	if filter.AnalysisType != nil {
		query += ` AND analysis_type = ?`
		args = append(args, *filter.AnalysisType)
	}
	if filter.Interval != nil {
		query += ` AND interval = ?`
		args = append(args, *filter.Interval)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduled jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		job, err := scanScheduledJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scheduled jobs: %w", err)
	}
	return jobs, nil
}

// UpdateFields applies a partial update. UserID and QueueJobID cannot change.
func (r *Repository) UpdateFields(ctx context.Context, id string, update Update) error {
	sets := []string{"updated_at = ?"}
	args := []interface{}{time.Now().UTC()}

	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *update.Description)
	}
	if update.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, boolToInt(*update.IsActive))
	}
	args = append(args, id)

	res, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update scheduled job %s: %w", id, err)
	}
	return requireAffected(res)
}

// Activate flips the job to active.
func (r *Repository) Activate(ctx context.Context, id string) error {
	return r.setActive(ctx, id, true)
}

// Deactivate flips the job to inactive. The broker keeps firing; the
// dispatcher honors the flag on arrival.
func (r *Repository) Deactivate(ctx context.Context, id string) error {
	return r.setActive(ctx, id, false)
}

func (r *Repository) setActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set active=%v on scheduled job %s: %w", active, id, err)
	}
	return requireAffected(res)
}

// Delete removes the row.
func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete scheduled job %s: %w", id, err)
	}
	return requireAffected(res)
}

// RecordRun updates run bookkeeping after a firing. nextRun may be nil when
// the broker owns the schedule and no local projection is wanted.
func (r *Repository) RecordRun(ctx context.Context, id string, lastRun time.Time, nextRun *time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET last_run = ?, next_run = COALESCE(?, next_run), updated_at = ? WHERE id = ?`,
		lastRun.UTC(), nullableTime(nextRun), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record run for scheduled job %s: %w", id, err)
	}
	return requireAffected(res)
}

// All returns every scheduled job. Used by the reconciliation sweep.
func (r *Repository) All(ctx context.Context) ([]*ScheduledJob, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+scheduledJobColumns+` FROM scheduled_jobs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduled jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		job, err := scanScheduledJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scheduled jobs: %w", err)
	}
	return jobs, nil
}

// UpdateQueueBinding repoints a row at a new broker repeat registration.
// Used by reconciliation when the broker side has been lost.
func (r *Repository) UpdateQueueBinding(ctx context.Context, id, queueJobID, queueRepeatKey string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET queue_job_id = ?, queue_repeat_key = ?, updated_at = ? WHERE id = ?`,
		queueJobID, queueRepeatKey, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update queue binding for %s: %w", id, err)
	}
	return requireAffected(res)
}

// FindDue returns active jobs whose projected next_run has passed.
func (r *Repository) FindDue(ctx context.Context, now time.Time) ([]*ScheduledJob, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+scheduledJobColumns+` FROM scheduled_jobs
		WHERE is_active = 1 AND next_run IS NOT NULL AND next_run <= ?
		ORDER BY next_run`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query due scheduled jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		job, err := scanScheduledJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating due jobs: %w", err)
	}
	return jobs, nil
}

// TryLock acquires a short-lived advisory lock on the job, preventing a slow
// execution and the next firing from overlapping. Returns false when another
// execution holds the lock.
func (r *Repository) TryLock(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET locked_until = ?
		WHERE id = ? AND (locked_until IS NULL OR locked_until <= ?)`,
		now.Add(ttl), id, now)
	if err != nil {
		return false, fmt.Errorf("failed to lock scheduled job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Unlock releases the advisory lock.
func (r *Repository) Unlock(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET locked_until = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to unlock scheduled job %s: %w", id, err)
	}
	return nil
}

func scanScheduledJob(row interface{ Scan(...interface{}) error }) (*ScheduledJob, error) {
	job := &ScheduledJob{}
	var lastRun, nextRun sql.NullTime
	var isActive int
	err := row.Scan(&job.ID, &job.UserID, &job.QueueJobID, &job.QueueRepeatKey,
		&job.Name, &job.Description, &job.AnalysisType, &job.Interval, &job.AccountID,
		&lastRun, &nextRun, &isActive, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan scheduled job: %w", err)
	}
	if lastRun.Valid {
		t := lastRun.Time
		job.LastRun = &t
	}
	if nextRun.Valid {
		t := nextRun.Time
		job.NextRun = &t
	}
	job.IsActive = isActive != 0
	return job, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
