package queue

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const queueSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	priority INTEGER NOT NULL,
	payload BLOB,
	state TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL,
	remove_on_complete INTEGER NOT NULL DEFAULT 0,
	repeat_id TEXT NOT NULL DEFAULT '',
	last_error TEXT NOT NULL DEFAULT '',
	available_at DATETIME NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(state, available_at, priority);

CREATE TABLE IF NOT EXISTS repeat_registrations (
	id TEXT PRIMARY KEY,
	repeat_key TEXT NOT NULL UNIQUE,
	type TEXT NOT NULL,
	expr TEXT NOT NULL,
	priority INTEGER NOT NULL,
	payload BLOB,
	next_fire DATETIME NOT NULL,
	created_at DATETIME NOT NULL
);
`

// ErrRepeatNotFound is returned when a repeat registration or its key cannot
// be located.
var ErrRepeatNotFound = errors.New("repeat registration not found")

// Store persists queue jobs and repeat registrations in SQLite.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore creates a queue store on the given connection.
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("repo", "queue").Logger(),
	}
}

// Migrate creates the queue tables if they do not exist.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(queueSchema); err != nil {
		return fmt.Errorf("failed to migrate queue schema: %w", err)
	}
	return nil
}

// Enqueue inserts a one-shot job in pending state.
func (s *Store) Enqueue(j *Job) error {
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.AvailableAt.IsZero() {
		j.AvailableAt = now
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = DefaultMaxAttempts
	}
	j.State = StatePending
	j.UpdatedAt = now

	_, err := s.db.Exec(
		`INSERT INTO jobs (id, type, priority, payload, state, attempts, max_attempts,
			remove_on_complete, repeat_id, last_error, available_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Type, int(j.Priority), j.Payload, j.State, j.Attempts, j.MaxAttempts,
		boolToInt(j.RemoveOnComplete), j.RepeatID, j.LastError,
		j.AvailableAt.UTC(), j.CreatedAt.UTC(), j.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", j.ID, err)
	}
	return nil
}

// ClaimNext atomically claims the next available pending job, ordered by
// priority (highest first) then FIFO. Returns nil when nothing is due.
// The claim increments the attempt counter: an attempt begins at delivery.
func (s *Store) ClaimNext(now time.Time) (*Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(
		`SELECT id, type, priority, payload, state, attempts, max_attempts,
			remove_on_complete, repeat_id, last_error, available_at, created_at, updated_at
		FROM jobs
		WHERE state = ? AND available_at <= ?
		ORDER BY priority DESC, created_at ASC
		LIMIT 1`, StatePending, now.UTC())

	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	res, err := tx.Exec(
		`UPDATE jobs SET state = ?, attempts = attempts + 1, updated_at = ? WHERE id = ? AND state = ?`,
		StateActive, now.UTC(), j.ID, StatePending)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job %s: %w", j.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Another worker claimed it between SELECT and UPDATE
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	j.State = StateActive
	j.Attempts++
	return j, nil
}

// MarkCompleted finalizes a successful job. Jobs enqueued with
// RemoveOnComplete are deleted instead of kept as completed rows.
func (s *Store) MarkCompleted(j *Job) error {
	if j.RemoveOnComplete {
		if _, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, j.ID); err != nil {
			return fmt.Errorf("failed to remove completed job %s: %w", j.ID, err)
		}
		return nil
	}
	_, err := s.db.Exec(`UPDATE jobs SET state = ?, updated_at = ? WHERE id = ?`,
		StateCompleted, time.Now().UTC(), j.ID)
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", j.ID, err)
	}
	return nil
}

// MarkFailed records a failed attempt. The job is rescheduled at retryAt while
// attempts remain, otherwise it moves to the dead state. Returns true when the
// job will be retried.
func (s *Store) MarkFailed(j *Job, errMsg string, retryAt time.Time) (bool, error) {
	now := time.Now().UTC()
	if j.Attempts < j.MaxAttempts {
		_, err := s.db.Exec(
			`UPDATE jobs SET state = ?, last_error = ?, available_at = ?, updated_at = ? WHERE id = ?`,
			StatePending, errMsg, retryAt.UTC(), now, j.ID)
		if err != nil {
			return false, fmt.Errorf("failed to reschedule job %s: %w", j.ID, err)
		}
		return true, nil
	}

	_, err := s.db.Exec(
		`UPDATE jobs SET state = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		StateDead, errMsg, now, j.ID)
	if err != nil {
		return false, fmt.Errorf("failed to dead-letter job %s: %w", j.ID, err)
	}
	return false, nil
}

// GetJob returns a job by id.
func (s *Store) GetJob(id string) (*Job, error) {
	row := s.db.QueryRow(
		`SELECT id, type, priority, payload, state, attempts, max_attempts,
			remove_on_complete, repeat_id, last_error, available_at, created_at, updated_at
		FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s not found", id)
		}
		return nil, err
	}
	return j, nil
}

// CountByState returns the number of jobs in the given state.
func (s *Store) CountByState(state JobState) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE state = ?`, state).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return n, nil
}

// RegisterRepeat persists a repeat registration. The repeat key is stored
// alongside the registration but is only handed out via RepeatKey - mirroring
// brokers that assign the key asynchronously relative to registration.
func (s *Store) RegisterRepeat(reg *RepeatRegistration) error {
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO repeat_registrations (id, repeat_key, type, expr, priority, payload, next_fire, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		reg.ID, reg.RepeatKey, reg.Type, reg.Expr, int(reg.Priority), reg.Payload,
		reg.NextFire.UTC(), reg.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to register repeat %s: %w", reg.ID, err)
	}
	return nil
}

// RepeatKey looks up the opaque cancellation key for a repeat registration.
func (s *Store) RepeatKey(id string) (string, error) {
	var key string
	err := s.db.QueryRow(`SELECT repeat_key FROM repeat_registrations WHERE id = ?`, id).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRepeatNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up repeat key for %s: %w", id, err)
	}
	return key, nil
}

// CancelRepeatByKey removes a repeat registration by its opaque key.
func (s *Store) CancelRepeatByKey(key string) error {
	res, err := s.db.Exec(`DELETE FROM repeat_registrations WHERE repeat_key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to cancel repeat registration: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRepeatNotFound
	}
	return nil
}

// DueRepeats returns registrations whose next fire time has passed.
func (s *Store) DueRepeats(now time.Time) ([]*RepeatRegistration, error) {
	rows, err := s.db.Query(
		`SELECT id, repeat_key, type, expr, priority, payload, next_fire, created_at
		FROM repeat_registrations WHERE next_fire <= ? ORDER BY next_fire`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query due repeats: %w", err)
	}
	defer rows.Close()
	return collectRepeats(rows)
}

// ListRepeats returns all repeat registrations. Used by the reconciliation sweep.
func (s *Store) ListRepeats() ([]*RepeatRegistration, error) {
	rows, err := s.db.Query(
		`SELECT id, repeat_key, type, expr, priority, payload, next_fire, created_at
		FROM repeat_registrations ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list repeats: %w", err)
	}
	defer rows.Close()
	return collectRepeats(rows)
}

// AdvanceRepeat moves a registration's next fire time forward.
func (s *Store) AdvanceRepeat(id string, next time.Time) error {
	_, err := s.db.Exec(`UPDATE repeat_registrations SET next_fire = ? WHERE id = ?`, next.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to advance repeat %s: %w", id, err)
	}
	return nil
}

func collectRepeats(rows *sql.Rows) ([]*RepeatRegistration, error) {
	var regs []*RepeatRegistration
	for rows.Next() {
		reg := &RepeatRegistration{}
		var priority int
		if err := rows.Scan(&reg.ID, &reg.RepeatKey, &reg.Type, &reg.Expr, &priority,
			&reg.Payload, &reg.NextFire, &reg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan repeat registration: %w", err)
		}
		reg.Priority = Priority(priority)
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating repeat registrations: %w", err)
	}
	return regs, nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scannable) (*Job, error) {
	j := &Job{}
	var priority, removeOnComplete int
	var state string
	if err := row.Scan(&j.ID, &j.Type, &priority, &j.Payload, &state, &j.Attempts,
		&j.MaxAttempts, &removeOnComplete, &j.RepeatID, &j.LastError,
		&j.AvailableAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Priority = Priority(priority)
	j.State = JobState(state)
	j.RemoveOnComplete = removeOnComplete != 0
	return j, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
