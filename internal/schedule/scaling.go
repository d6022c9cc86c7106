package schedule

import (
	"fmt"
	"math"
)

// ScalePeriod turns a task period into a reminder interval in days. The curve
// 3 + 0.8p/(1+p/45) grows with p but flattens out, so frequent tasks get
// reminded relatively more often than yearly ones. The global scale divides
// the result; it never drops below one day.
func ScalePeriod(taskPeriod, globalScale int) int {
	mustPositive("period", taskPeriod)
	if globalScale < MinPeriodScale || globalScale > MaxPeriodScale {
		panic(fmt.Sprintf("schedule: period scale must be in [%d, %d], got %d", MinPeriodScale, MaxPeriodScale, globalScale))
	}
	p := float64(taskPeriod)
	scaled := 3.0 + (0.8 * p / (1.0 + p/45.0))
	return max(int(math.Floor(scaled/float64(globalScale))), 1)
}

// Urgency maps how close a task is to its due date onto [-1, 1]: 1 means a
// full period away or more, 0 due today, -1 overdue by a full period or more.
func Urgency(period, daysUntilDue int) float64 {
	mustPositive("period", period)
	ratio := float64(daysUntilDue) / float64(period)
	return math.Max(-1, math.Min(1, ratio))
}

// DueDescription renders a day count the way task lists show it.
func DueDescription(daysUntilDue int) string {
	switch {
	case daysUntilDue < -1:
		return fmt.Sprintf("due %d days ago", -daysUntilDue)
	case daysUntilDue == -1:
		return "due yesterday"
	case daysUntilDue == 0:
		return "due today"
	case daysUntilDue == 1:
		return "due tomorrow"
	default:
		return fmt.Sprintf("due in %d days", daysUntilDue)
	}
}
