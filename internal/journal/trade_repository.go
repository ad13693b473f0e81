// Package journal provides storage for the raw trade/journal rows the
// statistics engine reads. Writes happen through the import pipeline, which
// lives outside this service; this repository is read-mostly.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/skarveli/tradebook/internal/analysis"
)

const tradeSchema = `
CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	account_id TEXT NOT NULL DEFAULT '',
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity REAL NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL NOT NULL,
	pnl REAL NOT NULL,
	opened_at DATETIME NOT NULL,
	closed_at DATETIME NOT NULL,
	mood_score REAL
);
CREATE INDEX IF NOT EXISTS idx_trades_user_closed ON trades(user_id, closed_at);
`

// TradeRepository handles trade database operations.
type TradeRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTradeRepository creates a new trade repository.
func NewTradeRepository(db *sql.DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{
		db:  db,
		log: log.With().Str("repo", "trades").Logger(),
	}
}

// Migrate creates the trades table if it does not exist.
func (r *TradeRepository) Migrate() error {
	if _, err := r.db.Exec(tradeSchema); err != nil {
		return fmt.Errorf("failed to migrate trades schema: %w", err)
	}
	return nil
}

// TradesInRange returns the user's closed trades inside [start, end),
// optionally restricted to one account. Implements analysis.TradeSource.
func (r *TradeRepository) TradesInRange(ctx context.Context, userID, accountID string, start, end time.Time) ([]analysis.Trade, error) {
	query := `SELECT id, user_id, account_id, symbol, side, quantity, entry_price,
		exit_price, pnl, opened_at, closed_at, mood_score
		FROM trades
		WHERE user_id = ? AND closed_at >= ? AND closed_at < ?`
	args := []interface{}{userID, start.UTC(), end.UTC()}
	if accountID != "" {
		query += ` AND account_id = ?`
		args = append(args, accountID)
	}
	query += ` ORDER BY closed_at`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []analysis.Trade
	for rows.Next() {
		var t analysis.Trade
		var mood sql.NullFloat64
		if err := rows.Scan(&t.ID, &t.UserID, &t.AccountID, &t.Symbol, &t.Side,
			&t.Quantity, &t.Entry, &t.Exit, &t.PnL, &t.OpenedAt, &t.ClosedAt, &mood); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		if mood.Valid {
			v := mood.Float64
			t.MoodScore = &v
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return trades, nil
}

// DistinctUserIDs returns every user with at least one recorded trade.
// Used by calendar sweeps to fan out per-user analysis jobs.
func (r *TradeRepository) DistinctUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM trades ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

// Insert stores a trade row. Exposed for the import pipeline and tests.
func (r *TradeRepository) Insert(ctx context.Context, t analysis.Trade) error {
	var mood interface{}
	if t.MoodScore != nil {
		mood = *t.MoodScore
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO trades (id, user_id, account_id, symbol, side, quantity,
			entry_price, exit_price, pnl, opened_at, closed_at, mood_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.AccountID, t.Symbol, t.Side, t.Quantity,
		t.Entry, t.Exit, t.PnL, t.OpenedAt.UTC(), t.ClosedAt.UTC(), mood)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	return nil
}
