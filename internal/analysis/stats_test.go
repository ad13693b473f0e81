package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skarveli/tradebook/internal/domain"
)

// staticTrades is a TradeSource backed by a fixed slice.
type staticTrades struct {
	trades []Trade
	err    error
}

func (s *staticTrades) TradesInRange(_ context.Context, _, _ string, _, _ time.Time) ([]Trade, error) {
	return s.trades, s.err
}

func newTrade(symbol string, pnl float64, openedAt time.Time) Trade {
	return Trade{
		ID:       symbol + openedAt.Format("20060102150405"),
		UserID:   "user-1",
		Symbol:   symbol,
		Side:     "long",
		Quantity: 10,
		PnL:      pnl,
		OpenedAt: openedAt,
		ClosedAt: openedAt.Add(time.Hour),
	}
}

func testRequest() Request {
	return Request{
		UserID: "user-1",
		Period: domain.PeriodMonthly,
		Start:  time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestPerformanceAnalysis(t *testing.T) {
	base := time.Date(2024, 2, 5, 14, 0, 0, 0, time.UTC)
	source := &staticTrades{trades: []Trade{
		newTrade("AAPL", 100, base),
		newTrade("AAPL", -50, base.Add(24*time.Hour)),
		newTrade("MSFT", 200, base.Add(48*time.Hour)),
		newTrade("MSFT", -25, base.Add(72*time.Hour)),
	}}
	engine := NewStatsEngine(source, zerolog.Nop())

	result, err := engine.Analyze(context.Background(), domain.AnalysisPerformance, testRequest())
	require.NoError(t, err)

	assert.Equal(t, 4, result["total_trades"])
	assert.Equal(t, 2, result["wins"])
	assert.Equal(t, 2, result["losses"])
	assert.InDelta(t, 0.5, result["win_rate"], 1e-9)
	assert.InDelta(t, 225.0, result["total_pnl"], 1e-9)
	// grossProfit=300, grossLoss=75
	assert.InDelta(t, 4.0, result["profit_factor"], 1e-9)
	// Equity: 100, 50, 250, 225 -> worst peak-to-trough is 100 -> 50
	assert.InDelta(t, 50.0, result["max_drawdown"], 1e-9)
}

func TestPerformanceAnalysisEmptyWindow(t *testing.T) {
	engine := NewStatsEngine(&staticTrades{}, zerolog.Nop())

	result, err := engine.Analyze(context.Background(), domain.AnalysisPerformance, testRequest())
	require.NoError(t, err)

	assert.Equal(t, 0, result["total_trades"])
	assert.Equal(t, 0.0, result["win_rate"])
	assert.NotContains(t, result, "sharpe")
}

func TestPatternAnalysisStreaks(t *testing.T) {
	base := time.Date(2024, 2, 5, 9, 0, 0, 0, time.UTC)
	// W W W L L W
	pnls := []float64{10, 20, 30, -5, -5, 15}
	trades := make([]Trade, len(pnls))
	for i, p := range pnls {
		trades[i] = newTrade("SPY", p, base.Add(time.Duration(i)*time.Hour))
	}
	engine := NewStatsEngine(&staticTrades{trades: trades}, zerolog.Nop())

	result, err := engine.Analyze(context.Background(), domain.AnalysisPattern, testRequest())
	require.NoError(t, err)

	assert.Equal(t, 3, result["max_win_streak"])
	assert.Equal(t, 2, result["max_loss_streak"])
	assert.Equal(t, 1, result["current_streak"])
	assert.InDelta(t, 18.75, result["avg_win"], 1e-9)
	assert.InDelta(t, 5.0, result["avg_loss"], 1e-9)
	// 4/6 * 18.75 - 2/6 * 5
	assert.InDelta(t, 10.8333333, result["expectancy"], 1e-6)
}

func TestSymbolAnalysis(t *testing.T) {
	base := time.Date(2024, 2, 5, 9, 0, 0, 0, time.UTC)
	source := &staticTrades{trades: []Trade{
		newTrade("AAPL", 100, base),
		newTrade("AAPL", 50, base.Add(time.Hour)),
		newTrade("TSLA", -80, base.Add(2*time.Hour)),
	}}
	engine := NewStatsEngine(source, zerolog.Nop())

	result, err := engine.Analyze(context.Background(), domain.AnalysisSymbol, testRequest())
	require.NoError(t, err)

	assert.Equal(t, "AAPL", result["best_symbol"])
	assert.Equal(t, "TSLA", result["worst_symbol"])

	symbols := result["symbols"].(map[string]interface{})
	aapl := symbols["AAPL"].(map[string]interface{})
	assert.Equal(t, 2, aapl["trades"])
	assert.InDelta(t, 1.0, aapl["win_rate"], 1e-9)
}

func TestDayOfWeekAnalysis(t *testing.T) {
	monday := time.Date(2024, 2, 5, 10, 0, 0, 0, time.UTC)
	require.Equal(t, time.Monday, monday.Weekday())

	source := &staticTrades{trades: []Trade{
		newTrade("SPY", 50, monday),
		newTrade("SPY", -20, monday.AddDate(0, 0, 1)),
	}}
	engine := NewStatsEngine(source, zerolog.Nop())

	result, err := engine.Analyze(context.Background(), domain.AnalysisDayOfWeek, testRequest())
	require.NoError(t, err)

	days := result["days"].(map[string]interface{})
	require.Contains(t, days, "Monday")
	require.Contains(t, days, "Tuesday")
	assert.InDelta(t, 50.0, days["Monday"].(map[string]interface{})["pnl"], 1e-9)
}

func TestRiskAnalysis(t *testing.T) {
	base := time.Date(2024, 2, 5, 9, 0, 0, 0, time.UTC)
	pnls := []float64{100, -200, 50, -30, 80}
	trades := make([]Trade, len(pnls))
	for i, p := range pnls {
		trades[i] = newTrade("QQQ", p, base.Add(time.Duration(i)*time.Hour))
	}
	engine := NewStatsEngine(&staticTrades{trades: trades}, zerolog.Nop())

	result, err := engine.Analyze(context.Background(), domain.AnalysisRisk, testRequest())
	require.NoError(t, err)

	assert.InDelta(t, -200.0, result["largest_loss"], 1e-9)
	assert.InDelta(t, 100.0, result["largest_win"], 1e-9)
	assert.Contains(t, result, "var_95")
	assert.Contains(t, result, "downside_deviation")
}

func TestRiskAnalysisSingleTrade(t *testing.T) {
	base := time.Date(2024, 2, 5, 9, 0, 0, 0, time.UTC)
	engine := NewStatsEngine(&staticTrades{trades: []Trade{
		newTrade("QQQ", -40, base),
	}}, zerolog.Nop())

	result, err := engine.Analyze(context.Background(), domain.AnalysisRisk, testRequest())
	require.NoError(t, err)

	// A single trade has no dispersion to report
	assert.NotContains(t, result, "pnl_stddev")
	assert.NotContains(t, result, "downside_deviation")
	assert.InDelta(t, -40.0, result["largest_loss"], 1e-9)
	assert.InDelta(t, -40.0, result["largest_win"], 1e-9)
	assert.Contains(t, result, "var_95")

	// The result must survive JSON encoding for storage
	_, err = json.Marshal(result)
	require.NoError(t, err)
}

func TestJournalCorrelation(t *testing.T) {
	base := time.Date(2024, 2, 5, 9, 0, 0, 0, time.UTC)
	mood := func(v float64) *float64 { return &v }

	trades := []Trade{
		newTrade("AAPL", 100, base),
		newTrade("AAPL", 80, base.Add(time.Hour)),
		newTrade("AAPL", -90, base.Add(2*time.Hour)),
		newTrade("AAPL", -60, base.Add(3*time.Hour)),
	}
	trades[0].MoodScore = mood(9)
	trades[1].MoodScore = mood(8)
	trades[2].MoodScore = mood(3)
	trades[3].MoodScore = mood(4)

	engine := NewStatsEngine(&staticTrades{trades: trades}, zerolog.Nop())
	result, err := engine.Analyze(context.Background(), domain.AnalysisJournalCorrelation, testRequest())
	require.NoError(t, err)

	assert.Equal(t, 4, result["journaled_count"])
	corr := result["mood_pnl_correlation"].(float64)
	assert.Greater(t, corr, 0.9)
}

func TestJournalCorrelationNeedsJournaledTrades(t *testing.T) {
	base := time.Date(2024, 2, 5, 9, 0, 0, 0, time.UTC)
	engine := NewStatsEngine(&staticTrades{trades: []Trade{
		newTrade("AAPL", 100, base),
		newTrade("AAPL", -50, base.Add(time.Hour)),
	}}, zerolog.Nop())

	result, err := engine.Analyze(context.Background(), domain.AnalysisJournalCorrelation, testRequest())
	require.NoError(t, err)

	assert.Equal(t, 0, result["journaled_count"])
	assert.Contains(t, result, "message")
	assert.NotContains(t, result, "mood_pnl_correlation")
}

func TestForecastLinearEquityCurve(t *testing.T) {
	base := time.Date(2024, 2, 5, 9, 0, 0, 0, time.UTC)
	// Constant +10 per trade: perfectly linear equity curve
	trades := make([]Trade, 5)
	for i := range trades {
		trades[i] = newTrade("SPY", 10, base.Add(time.Duration(i)*time.Hour))
	}
	engine := NewStatsEngine(&staticTrades{trades: trades}, zerolog.Nop())

	result, err := engine.Analyze(context.Background(), domain.AnalysisForecast, testRequest())
	require.NoError(t, err)

	assert.InDelta(t, 10.0, result["slope_per_trade"], 1e-9)
	assert.InDelta(t, 1.0, result["r_squared"], 1e-9)
	assert.InDelta(t, 50.0, result["current_equity"], 1e-9)
	// Projection doubles the observed horizon: equity at trade index 9
	assert.InDelta(t, 100.0, result["projected_equity"], 1e-9)
}

func TestForecastFlatEquityCurve(t *testing.T) {
	base := time.Date(2024, 2, 5, 9, 0, 0, 0, time.UTC)
	// Zero PnL on every trade: the equity curve never moves, so the fit
	// quality is undefined and must be omitted rather than encoded as NaN.
	trades := make([]Trade, 4)
	for i := range trades {
		trades[i] = newTrade("SPY", 0, base.Add(time.Duration(i)*time.Hour))
	}
	engine := NewStatsEngine(&staticTrades{trades: trades}, zerolog.Nop())

	result, err := engine.Analyze(context.Background(), domain.AnalysisForecast, testRequest())
	require.NoError(t, err)

	assert.NotContains(t, result, "r_squared")
	assert.InDelta(t, 0.0, result["slope_per_trade"], 1e-9)

	_, err = json.Marshal(result)
	require.NoError(t, err)
}

func TestEngineRejectsDashboard(t *testing.T) {
	engine := NewStatsEngine(&staticTrades{}, zerolog.Nop())

	_, err := engine.Analyze(context.Background(), domain.AnalysisDashboard, testRequest())
	require.Error(t, err)

	var validationErr *domain.ValidationError
	assert.True(t, errors.As(err, &validationErr))
}

func TestEnginePropagatesSourceError(t *testing.T) {
	engine := NewStatsEngine(&staticTrades{err: errors.New("disk gone")}, zerolog.Nop())

	_, err := engine.Analyze(context.Background(), domain.AnalysisPerformance, testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
}
