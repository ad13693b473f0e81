package domain

import "fmt"

// cronByInterval is the fixed recurrence table: every cadence fires at
// midnight on its natural boundary (Monday for weekly, the 1st for monthly,
// quarter starts for quarterly, Jan 1st for yearly).
var cronByInterval = map[Interval]string{
	IntervalDaily:     "0 0 * * *",
	IntervalWeekly:    "0 0 * * 1",
	IntervalMonthly:   "0 0 1 * *",
	IntervalQuarterly: "0 0 1 1,4,7,10 *",
	IntervalYearly:    "0 0 1 1 *",
}

// CronExpr returns the five-field cron expression for a recurrence cadence.
func CronExpr(interval Interval) (string, error) {
	expr, ok := cronByInterval[interval]
	if !ok {
		return "", &ValidationError{Field: "interval", Message: fmt.Sprintf("unknown interval %q", interval)}
	}
	return expr, nil
}
