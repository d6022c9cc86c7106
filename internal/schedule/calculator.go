// Package schedule computes when a recurring task is due and when its next
// reminder should fire. Everything here is a pure function of its arguments;
// callers pass in the clock and a settings snapshot.
package schedule

import (
	"fmt"
	"time"
)

const (
	MinPeriodScale = 1
	MaxPeriodScale = 5
)

// Settings is the read-only snapshot of a user's global preferences.
type Settings struct {
	NotificationTime TimeOfDay
	PeriodScale      int
}

// DefaultSettings mirrors the values a fresh install starts with.
func DefaultSettings() Settings {
	return Settings{NotificationTime: DefaultNotificationTime, PeriodScale: MinPeriodScale}
}

// Input carries the task fields the calculator reads.
type Input struct {
	InitialDueDate       time.Time
	Period               int
	Completions          []time.Time
	NotificationsEnabled bool
	LastDismissed        *time.Time
	NotificationTime     *TimeOfDay
	NotificationPeriod   *int
}

// Resolve returns the override when set and the fallback otherwise.
func Resolve[T any](override *T, fallback T) T {
	if override != nil {
		return *override
	}
	return fallback
}

// NextDueDate is the latest completion plus period days, or the initial due
// date for a task that was never completed. Completions may be unsorted.
func NextDueDate(initialDueDate time.Time, period int, completions []time.Time) time.Time {
	mustPositive("period", period)
	if initialDueDate.IsZero() {
		panic("schedule: zero initial due date")
	}
	if len(completions) == 0 {
		return DateOf(initialDueDate)
	}
	latest := completions[0]
	for _, c := range completions[1:] {
		if DateOf(c).After(DateOf(latest)) {
			latest = c
		}
	}
	if latest.IsZero() {
		panic("schedule: zero completion date")
	}
	return AddDays(latest, period)
}

// DaysUntilDue counts calendar days from today to the due date.
func DaysUntilDue(nextDueDate, today time.Time) int {
	return DaysBetween(today, nextDueDate)
}

// EffectivePeriod is the re-notification interval for an overdue task.
func EffectivePeriod(taskPeriod int, override *int, scale int) int {
	if override != nil {
		mustPositive("notification period", *override)
		return *override
	}
	return ScalePeriod(taskPeriod, scale)
}

// NextNotification returns the instant the task's next reminder should fire,
// or false when notifications are disabled for it. The result may lie in the
// past; the caller fires such reminders immediately.
//
// Once a reminder for an overdue task has been dismissed, follow-ups repeat
// every EffectivePeriod days on a grid anchored at the due date, so tasks
// sharing a period remind on the same days.
func NextNotification(in Input, settings Settings, now time.Time) (time.Time, bool) {
	if !in.NotificationsEnabled {
		return time.Time{}, false
	}

	loc := now.Location()
	at := Resolve(in.NotificationTime, settings.NotificationTime)
	due := NextDueDate(in.InitialDueDate, in.Period, in.Completions)
	dueAt := at.On(due, loc)

	if in.LastDismissed == nil || dueAt.After(*in.LastDismissed) {
		return dueAt, true
	}

	period := EffectivePeriod(in.Period, in.NotificationPeriod, settings.PeriodScale)
	today := DateOf(now.In(loc))
	remainder := floorMod(DaysBetween(due, today), period)

	last := at.On(AddDays(today, -remainder), loc)
	if last.After(*in.LastDismissed) {
		return last, true
	}
	return at.On(AddDays(today, period-remainder), loc), true
}

// EarliestNotification scans tasks for the soonest reminder strictly after now.
func EarliestNotification(inputs []Input, settings Settings, now time.Time) (time.Time, bool) {
	var (
		best  time.Time
		found bool
	)
	for _, in := range inputs {
		next, ok := NextNotification(in, settings, now)
		if !ok || !next.After(now) {
			continue
		}
		if !found || next.Before(best) {
			best, found = next, true
		}
	}
	return best, found
}

func floorMod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func mustPositive(name string, v int) {
	if v <= 0 {
		panic(fmt.Sprintf("schedule: %s must be positive, got %d", name, v))
	}
}
