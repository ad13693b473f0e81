package analysis

import (
	"context"
	"time"

	"github.com/skarveli/tradebook/internal/domain"
)

// Trade is a single closed journal trade, the input unit of every analysis.
type Trade struct {
	ID        string
	UserID    string
	AccountID string
	Symbol    string
	Side      string // "long" or "short"
	Quantity  float64
	Entry     float64
	Exit      float64
	PnL       float64
	OpenedAt  time.Time
	ClosedAt  time.Time
	// MoodScore is the 1-10 self-reported journal rating attached to the
	// trade, nil when the user wrote no journal entry.
	MoodScore *float64
}

// TradeSource provides closed trades for a user within a window.
// Defined here to avoid an import cycle with the journal storage package.
type TradeSource interface {
	TradesInRange(ctx context.Context, userID, accountID string, start, end time.Time) ([]Trade, error)
}

// Request carries the resolved parameters of one analysis computation.
type Request struct {
	UserID    string
	AccountID string
	Period    domain.Period
	Start     time.Time
	End       time.Time
}

// Engine computes a single analysis by type. Dashboard is not an engine
// concern - the dispatcher fans out to the individual types and assembles
// the composite.
type Engine interface {
	Analyze(ctx context.Context, typ domain.AnalysisType, req Request) (map[string]interface{}, error)
}
