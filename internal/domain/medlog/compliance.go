package medlog

import (
	"fmt"
	"math"
	"time"
)

// DefaultWindowDays is the compliance window used when none is given.
const DefaultWindowDays = 30

// Grade bands, inclusive at their lower bound.
const (
	GradeExcellent = "Excellent"
	GradeGood      = "Good"
	GradeFair      = "Fair"
	GradePoor      = "Poor"
	GradeCritical  = "Critical"
)

// Stats summarises the logs of a window.
type Stats struct {
	TotalLogs      int     `json:"totalLogs"`
	TakenCount     int     `json:"takenCount"`
	MissedCount    int     `json:"missedCount"`
	SkippedCount   int     `json:"skippedCount"`
	ComplianceRate float64 `json:"complianceRate"`
}

// Window returns the inclusive [now-days, now] range compliance covers.
func Window(now time.Time, days int) (time.Time, time.Time) {
	return now.AddDate(0, 0, -days), now
}

// ComputeStats counts logs by status. The rate is taken/total as a
// percentage rounded to two decimals, and 0 when there are no logs.
func ComputeStats(logs []*Log) Stats {
	var s Stats
	for _, l := range logs {
		s.TotalLogs++
		switch l.Status {
		case StatusTaken:
			s.TakenCount++
		case StatusMissed:
			s.MissedCount++
		case StatusSkipped:
			s.SkippedCount++
		}
	}
	if s.TotalLogs > 0 {
		rate := float64(s.TakenCount) / float64(s.TotalLogs) * 100
		s.ComplianceRate = math.Round(rate*100) / 100
	}
	return s
}

// Grade maps a compliance rate to its band.
func Grade(rate float64) string {
	switch {
	case rate >= 95:
		return GradeExcellent
	case rate >= 85:
		return GradeGood
	case rate >= 70:
		return GradeFair
	case rate >= 50:
		return GradePoor
	default:
		return GradeCritical
	}
}

// Period is the human label for a window of days.
func Period(days int) string {
	return fmt.Sprintf("Last %d days", days)
}
