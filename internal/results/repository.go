package results

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/skarveli/tradebook/internal/domain"
)

const resultsSchema = `
CREATE TABLE IF NOT EXISTS analysis_results (
	id TEXT PRIMARY KEY,
	request_id TEXT NOT NULL UNIQUE,
	user_id TEXT NOT NULL,
	analysis_type TEXT NOT NULL,
	period TEXT NOT NULL,
	status TEXT NOT NULL,
	data TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	account_id TEXT NOT NULL DEFAULT '',
	window_start DATETIME NOT NULL,
	window_end DATETIME NOT NULL,
	calculation_time_ms INTEGER NOT NULL DEFAULT 0,
	scheduled_job_id TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_results_user_type ON analysis_results(user_id, analysis_type, created_at);
`

const resultColumns = `id, request_id, user_id, analysis_type, period, status, data,
	error_message, account_id, window_start, window_end, calculation_time_ms,
	scheduled_job_id, created_at, completed_at`

// Repository handles analysis result database operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new analysis result repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "analysis_results").Logger(),
	}
}

// Migrate creates the analysis_results table if it does not exist.
func (r *Repository) Migrate() error {
	if _, err := r.db.Exec(resultsSchema); err != nil {
		return fmt.Errorf("failed to migrate results schema: %w", err)
	}
	return nil
}

// OpenPending creates the PENDING row for one job execution before computation
// starts. Rows are keyed by request id, so a broker retry of the same job
// reopens the existing row instead of accumulating duplicates.
func (r *Repository) OpenPending(ctx context.Context, result *AnalysisResult) error {
	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	result.Status = domain.ResultPending
	result.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO analysis_results (id, request_id, user_id, analysis_type, period,
			status, data, error_message, account_id, window_start, window_end,
			calculation_time_ms, scheduled_job_id, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, '', '', ?, ?, ?, 0, ?, ?, NULL)
		ON CONFLICT(request_id) DO UPDATE SET
			status = excluded.status,
			data = '',
			error_message = '',
			window_start = excluded.window_start,
			window_end = excluded.window_end,
			completed_at = NULL`,
		result.ID, result.RequestID, result.UserID, result.AnalysisType, result.Period,
		domain.ResultPending, result.AccountID, result.WindowStart.UTC(), result.WindowEnd.UTC(),
		result.ScheduledJobID, result.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to open pending result: %w", err)
	}
	return nil
}

// Complete transitions the row to COMPLETED with its data payload.
func (r *Repository) Complete(ctx context.Context, requestID, data string, calculationTimeMs int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE analysis_results
		SET status = ?, data = ?, error_message = '', calculation_time_ms = ?, completed_at = ?
		WHERE request_id = ? AND status = ?`,
		domain.ResultCompleted, data, calculationTimeMs, time.Now().UTC(),
		requestID, domain.ResultPending)
	if err != nil {
		return fmt.Errorf("failed to complete result for request %s: %w", requestID, err)
	}
	return requireAffected(res, requestID)
}

// Fail transitions the row to FAILED with the error message.
func (r *Repository) Fail(ctx context.Context, requestID, errorMessage string, calculationTimeMs int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE analysis_results
		SET status = ?, error_message = ?, calculation_time_ms = ?, completed_at = ?
		WHERE request_id = ? AND status = ?`,
		domain.ResultFailed, errorMessage, calculationTimeMs, time.Now().UTC(),
		requestID, domain.ResultPending)
	if err != nil {
		return fmt.Errorf("failed to fail result for request %s: %w", requestID, err)
	}
	return requireAffected(res, requestID)
}

// FindByRequestID returns the result row for one job execution.
func (r *Repository) FindByRequestID(ctx context.Context, requestID string) (*AnalysisResult, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM analysis_results WHERE request_id = ?`, requestID)
	return scanResult(row)
}

// ListForUser returns the user's results, newest first, optionally filtered by
// analysis type.
func (r *Repository) ListForUser(ctx context.Context, userID string, analysisType *domain.AnalysisType, limit int) ([]*AnalysisResult, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + resultColumns + ` FROM analysis_results WHERE user_id = ?`
	args := []interface{}{userID}
	if analysisType != nil {
		query += ` AND analysis_type = ?`
		args = append(args, *analysisType)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var results []*AnalysisResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}
	return results, nil
}

// Latest returns the newest completed result for a user/type/period triple.
func (r *Repository) Latest(ctx context.Context, userID string, analysisType domain.AnalysisType, period domain.Period) (*AnalysisResult, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM analysis_results
		WHERE user_id = ? AND analysis_type = ? AND period = ? AND status = ?
		ORDER BY completed_at DESC LIMIT 1`,
		userID, analysisType, period, domain.ResultCompleted)
	return scanResult(row)
}

func scanResult(row interface{ Scan(...interface{}) error }) (*AnalysisResult, error) {
	res := &AnalysisResult{}
	var completedAt sql.NullTime
	err := row.Scan(&res.ID, &res.RequestID, &res.UserID, &res.AnalysisType, &res.Period,
		&res.Status, &res.Data, &res.ErrorMessage, &res.AccountID,
		&res.WindowStart, &res.WindowEnd, &res.CalculationTimeMs,
		&res.ScheduledJobID, &res.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan analysis result: %w", err)
	}
	if completedAt.Valid {
		t := completedAt.Time
		res.CompletedAt = &t
	}
	return res, nil
}

func requireAffected(res sql.Result, requestID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("no pending result for request %s: %w", requestID, domain.ErrNotFound)
	}
	return nil
}
