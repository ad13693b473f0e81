package analysis

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/skarveli/tradebook/internal/domain"
)

// StatsEngine is the gonum-backed statistics engine operating on closed trades.
type StatsEngine struct {
	trades TradeSource
	log    zerolog.Logger
}

// NewStatsEngine creates a statistics engine reading from the given trade source.
func NewStatsEngine(trades TradeSource, log zerolog.Logger) *StatsEngine {
	return &StatsEngine{
		trades: trades,
		log:    log.With().Str("component", "stats_engine").Logger(),
	}
}

// Analyze computes a single analysis by type.
func (e *StatsEngine) Analyze(ctx context.Context, typ domain.AnalysisType, req Request) (map[string]interface{}, error) {
	trades, err := e.trades.TradesInRange(ctx, req.UserID, req.AccountID, req.Start, req.End)
	if err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}

	// Analyses assume chronological order by close time
	sort.Slice(trades, func(i, j int) bool { return trades[i].ClosedAt.Before(trades[j].ClosedAt) })

	switch typ {
	case domain.AnalysisPerformance:
		return e.performance(trades), nil
	case domain.AnalysisPattern:
		return e.pattern(trades), nil
	case domain.AnalysisSymbol:
		return e.bySymbol(trades), nil
	case domain.AnalysisTimeOfDay:
		return e.timeOfDay(trades), nil
	case domain.AnalysisDayOfWeek:
		return e.dayOfWeek(trades), nil
	case domain.AnalysisRisk:
		return e.risk(trades), nil
	case domain.AnalysisJournalCorrelation:
		return e.journalCorrelation(trades), nil
	case domain.AnalysisForecast:
		return e.forecast(trades), nil
	}
	return nil, &domain.ValidationError{Field: "analysisType", Message: fmt.Sprintf("engine cannot compute %q", typ)}
}

func pnls(trades []Trade) []float64 {
	out := make([]float64, len(trades))
	for i, t := range trades {
		out[i] = t.PnL
	}
	return out
}

func (e *StatsEngine) performance(trades []Trade) map[string]interface{} {
	result := map[string]interface{}{
		"total_trades": len(trades),
		"wins":         0,
		"losses":       0,
		"win_rate":     0.0,
		"total_pnl":    0.0,
	}
	if len(trades) == 0 {
		return result
	}

	var wins, losses int
	var totalPnL, grossProfit, grossLoss float64
	for _, t := range trades {
		totalPnL += t.PnL
		if t.PnL > 0 {
			wins++
			grossProfit += t.PnL
		} else if t.PnL < 0 {
			losses++
			grossLoss += -t.PnL
		}
	}

	series := pnls(trades)
	mean := stat.Mean(series, nil)
	std := stat.StdDev(series, nil)

	result["wins"] = wins
	result["losses"] = losses
	result["win_rate"] = float64(wins) / float64(len(trades))
	result["total_pnl"] = totalPnL
	result["avg_pnl"] = mean
	if grossLoss > 0 {
		result["profit_factor"] = grossProfit / grossLoss
	}
	if std > 0 {
		// Per-trade Sharpe; annualization is a presentation concern
		result["sharpe"] = mean / std
	}
	result["max_drawdown"] = maxDrawdown(series)
	return result
}

// maxDrawdown returns the largest peak-to-trough decline of the cumulative
// PnL curve, as a positive number.
func maxDrawdown(series []float64) float64 {
	var equity, peak, maxDD float64
	for _, pnl := range series {
		equity += pnl
		if equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

func (e *StatsEngine) pattern(trades []Trade) map[string]interface{} {
	result := map[string]interface{}{
		"total_trades":    len(trades),
		"max_win_streak":  0,
		"max_loss_streak": 0,
		"current_streak":  0,
	}
	if len(trades) == 0 {
		return result
	}

	var maxWinStreak, maxLossStreak, current int
	var winSum, lossSum float64
	var wins, losses int
	for _, t := range trades {
		switch {
		case t.PnL > 0:
			wins++
			winSum += t.PnL
			if current > 0 {
				current++
			} else {
				current = 1
			}
			if current > maxWinStreak {
				maxWinStreak = current
			}
		case t.PnL < 0:
			losses++
			lossSum += -t.PnL
			if current < 0 {
				current--
			} else {
				current = -1
			}
			if -current > maxLossStreak {
				maxLossStreak = -current
			}
		default:
			current = 0
		}
	}

	result["max_win_streak"] = maxWinStreak
	result["max_loss_streak"] = maxLossStreak
	result["current_streak"] = current
	if wins > 0 {
		result["avg_win"] = winSum / float64(wins)
	}
	if losses > 0 {
		result["avg_loss"] = lossSum / float64(losses)
	}
	// Expectancy: average amount won (or lost) per trade taken
	winRate := float64(wins) / float64(len(trades))
	avgWin, avgLoss := 0.0, 0.0
	if wins > 0 {
		avgWin = winSum / float64(wins)
	}
	if losses > 0 {
		avgLoss = lossSum / float64(losses)
	}
	result["expectancy"] = winRate*avgWin - (1-winRate)*avgLoss
	return result
}

func (e *StatsEngine) bySymbol(trades []Trade) map[string]interface{} {
	type agg struct {
		trades int
		wins   int
		pnl    float64
	}
	symbols := make(map[string]*agg)
	for _, t := range trades {
		a, ok := symbols[t.Symbol]
		if !ok {
			a = &agg{}
			symbols[t.Symbol] = a
		}
		a.trades++
		a.pnl += t.PnL
		if t.PnL > 0 {
			a.wins++
		}
	}

	breakdown := make(map[string]interface{}, len(symbols))
	var best, worst string
	bestPnL, worstPnL := math.Inf(-1), math.Inf(1)
	for sym, a := range symbols {
		breakdown[sym] = map[string]interface{}{
			"trades":   a.trades,
			"win_rate": float64(a.wins) / float64(a.trades),
			"pnl":      a.pnl,
		}
		if a.pnl > bestPnL {
			bestPnL, best = a.pnl, sym
		}
		if a.pnl < worstPnL {
			worstPnL, worst = a.pnl, sym
		}
	}

	result := map[string]interface{}{
		"total_trades": len(trades),
		"symbols":      breakdown,
	}
	if best != "" {
		result["best_symbol"] = best
		result["worst_symbol"] = worst
	}
	return result
}

func (e *StatsEngine) timeOfDay(trades []Trade) map[string]interface{} {
	type agg struct {
		trades int
		pnl    float64
	}
	hours := make(map[int]*agg)
	for _, t := range trades {
		h := t.OpenedAt.UTC().Hour()
		a, ok := hours[h]
		if !ok {
			a = &agg{}
			hours[h] = a
		}
		a.trades++
		a.pnl += t.PnL
	}

	buckets := make(map[string]interface{}, len(hours))
	bestHour, bestPnL := -1, math.Inf(-1)
	for h, a := range hours {
		buckets[fmt.Sprintf("%02d:00", h)] = map[string]interface{}{
			"trades": a.trades,
			"pnl":    a.pnl,
		}
		if a.pnl > bestPnL {
			bestPnL, bestHour = a.pnl, h
		}
	}

	result := map[string]interface{}{
		"total_trades": len(trades),
		"hours":        buckets,
	}
	if bestHour >= 0 {
		result["best_hour"] = fmt.Sprintf("%02d:00", bestHour)
	}
	return result
}

func (e *StatsEngine) dayOfWeek(trades []Trade) map[string]interface{} {
	type agg struct {
		trades int
		wins   int
		pnl    float64
	}
	days := make(map[time.Weekday]*agg)
	for _, t := range trades {
		d := t.OpenedAt.UTC().Weekday()
		a, ok := days[d]
		if !ok {
			a = &agg{}
			days[d] = a
		}
		a.trades++
		a.pnl += t.PnL
		if t.PnL > 0 {
			a.wins++
		}
	}

	breakdown := make(map[string]interface{}, len(days))
	for d, a := range days {
		breakdown[d.String()] = map[string]interface{}{
			"trades":   a.trades,
			"win_rate": float64(a.wins) / float64(a.trades),
			"pnl":      a.pnl,
		}
	}
	return map[string]interface{}{
		"total_trades": len(trades),
		"days":         breakdown,
	}
}

func (e *StatsEngine) risk(trades []Trade) map[string]interface{} {
	result := map[string]interface{}{
		"total_trades": len(trades),
	}
	if len(trades) == 0 {
		return result
	}

	series := pnls(trades)
	sorted := append([]float64(nil), series...)
	sort.Float64s(sorted)

	if len(series) > 1 {
		result["pnl_stddev"] = stat.StdDev(series, nil)
	}
	result["largest_loss"] = sorted[0]
	result["largest_win"] = sorted[len(sorted)-1]
	// Empirical 95% value-at-risk (5th percentile of per-trade PnL)
	result["var_95"] = stat.Quantile(0.05, stat.Empirical, sorted, nil)

	var downside []float64
	for _, p := range series {
		if p < 0 {
			downside = append(downside, p)
		}
	}
	if len(downside) > 1 {
		result["downside_deviation"] = stat.StdDev(downside, nil)
	}
	return result
}

func (e *StatsEngine) journalCorrelation(trades []Trade) map[string]interface{} {
	var moods, outcomes []float64
	for _, t := range trades {
		if t.MoodScore != nil {
			moods = append(moods, *t.MoodScore)
			outcomes = append(outcomes, t.PnL)
		}
	}

	result := map[string]interface{}{
		"total_trades":    len(trades),
		"journaled_count": len(moods),
	}
	if len(moods) < 2 {
		result["message"] = "not enough journaled trades to correlate"
		return result
	}

	corr := stat.Correlation(moods, outcomes, nil)
	if math.IsNaN(corr) {
		result["message"] = "correlation undefined for constant series"
		return result
	}
	result["mood_pnl_correlation"] = corr
	return result
}

// forecast fits a linear regression to the cumulative PnL curve and projects
// it forward by the same number of trades observed in the window.
func (e *StatsEngine) forecast(trades []Trade) map[string]interface{} {
	result := map[string]interface{}{
		"total_trades": len(trades),
	}
	if len(trades) < 2 {
		result["message"] = "not enough trades to forecast"
		return result
	}

	xs := make([]float64, len(trades))
	equity := make([]float64, len(trades))
	var cum float64
	for i, t := range trades {
		cum += t.PnL
		xs[i] = float64(i)
		equity[i] = cum
	}

	alpha, beta := stat.LinearRegression(xs, equity, nil, false)
	r2 := stat.RSquared(xs, equity, nil, alpha, beta)
	horizon := float64(2*len(trades) - 1)

	result["slope_per_trade"] = beta
	// Zero variance in the equity curve makes R² undefined
	if !math.IsNaN(r2) {
		result["r_squared"] = r2
	}
	result["current_equity"] = cum
	result["projected_equity"] = alpha + beta*horizon
	return result
}
