// Package domain holds the core types shared by the analytics scheduler:
// analysis/interval/period enums, the queue payload, and the error taxonomy.
// The domain layer is pure - no infrastructure dependencies.
package domain

import "fmt"

// AnalysisType identifies one of the journal analytics computations.
type AnalysisType string

const (
	AnalysisPerformance        AnalysisType = "performance"
	AnalysisPattern            AnalysisType = "pattern"
	AnalysisSymbol             AnalysisType = "symbol"
	AnalysisTimeOfDay          AnalysisType = "time_of_day"
	AnalysisDayOfWeek          AnalysisType = "day_of_week"
	AnalysisRisk               AnalysisType = "risk"
	AnalysisJournalCorrelation AnalysisType = "journal_correlation"
	AnalysisForecast           AnalysisType = "forecast"
	// AnalysisDashboard fans out to all individual analyses and assembles a
	// composite payload. It is handled by the dispatcher, not the engine.
	AnalysisDashboard AnalysisType = "dashboard"
)

// IndividualAnalysisTypes lists every analysis the engine computes directly.
// Dashboard is excluded - it is a composite of these.
func IndividualAnalysisTypes() []AnalysisType {
	return []AnalysisType{
		AnalysisPerformance,
		AnalysisPattern,
		AnalysisSymbol,
		AnalysisTimeOfDay,
		AnalysisDayOfWeek,
		AnalysisRisk,
		AnalysisJournalCorrelation,
		AnalysisForecast,
	}
}

// ParseAnalysisType validates a user-supplied analysis type string.
func ParseAnalysisType(s string) (AnalysisType, error) {
	switch AnalysisType(s) {
	case AnalysisPerformance, AnalysisPattern, AnalysisSymbol, AnalysisTimeOfDay,
		AnalysisDayOfWeek, AnalysisRisk, AnalysisJournalCorrelation,
		AnalysisForecast, AnalysisDashboard:
		return AnalysisType(s), nil
	}
	return "", &ValidationError{Field: "analysisType", Message: fmt.Sprintf("unknown analysis type %q", s)}
}

// Interval is the user-facing recurrence cadence of a scheduled analysis.
type Interval string

const (
	IntervalDaily     Interval = "daily"
	IntervalWeekly    Interval = "weekly"
	IntervalMonthly   Interval = "monthly"
	IntervalQuarterly Interval = "quarterly"
	IntervalYearly    Interval = "yearly"
)

// ParseInterval validates a user-supplied interval string.
func ParseInterval(s string) (Interval, error) {
	switch Interval(s) {
	case IntervalDaily, IntervalWeekly, IntervalMonthly, IntervalQuarterly, IntervalYearly:
		return Interval(s), nil
	}
	return "", &ValidationError{Field: "interval", Message: fmt.Sprintf("unknown interval %q", s)}
}

// Period is the internal date-window classification consumed by the engine.
// It is in 1:1 correspondence with Interval.
type Period string

const (
	PeriodDaily     Period = "daily"
	PeriodWeekly    Period = "weekly"
	PeriodMonthly   Period = "monthly"
	PeriodQuarterly Period = "quarterly"
	PeriodYearly    Period = "yearly"
)

// ParsePeriod validates a user-supplied period string.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodQuarterly, PeriodYearly:
		return Period(s), nil
	}
	return "", &ValidationError{Field: "period", Message: fmt.Sprintf("unknown period %q", s)}
}

// ResultStatus is the lifecycle state of an AnalysisResult.
type ResultStatus string

const (
	ResultPending   ResultStatus = "pending"
	ResultCompleted ResultStatus = "completed"
	ResultFailed    ResultStatus = "failed"
)
