// Package analysis contains the period resolver and the statistics engine
// that computes journal analytics over a resolved date window.
package analysis

import (
	"fmt"
	"time"

	"github.com/skarveli/tradebook/internal/domain"
)

// MapIntervalToPeriod maps a recurrence cadence to the analysis period used by
// the engine. The mapping is total and injective. Unknown intervals are
// rejected rather than silently defaulted.
func MapIntervalToPeriod(interval domain.Interval) (domain.Period, error) {
	switch interval {
	case domain.IntervalDaily:
		return domain.PeriodDaily, nil
	case domain.IntervalWeekly:
		return domain.PeriodWeekly, nil
	case domain.IntervalMonthly:
		return domain.PeriodMonthly, nil
	case domain.IntervalQuarterly:
		return domain.PeriodQuarterly, nil
	case domain.IntervalYearly:
		return domain.PeriodYearly, nil
	}
	return "", &domain.ValidationError{Field: "interval", Message: fmt.Sprintf("unknown interval %q", interval)}
}

// ResolveRange maps a period to a concrete [start, end) window ending at the
// reference time. Pure and deterministic.
func ResolveRange(period domain.Period, reference time.Time) (start, end time.Time, err error) {
	end = reference
	switch period {
	case domain.PeriodDaily:
		start = end.AddDate(0, 0, -1)
	case domain.PeriodWeekly:
		start = end.AddDate(0, 0, -7)
	case domain.PeriodMonthly:
		start = end.AddDate(0, -1, 0)
	case domain.PeriodQuarterly:
		start = end.AddDate(0, -3, 0)
	case domain.PeriodYearly:
		start = end.AddDate(-1, 0, 0)
	default:
		return time.Time{}, time.Time{}, &domain.ValidationError{
			Field:   "period",
			Message: fmt.Sprintf("unknown period %q", period),
		}
	}
	return start, end, nil
}
