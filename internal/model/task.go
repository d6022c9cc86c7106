package model

import (
	"sort"
	"time"

	"flexible-todos/internal/schedule"
)

// TaskDefinition is a recurring task owned by a user.
type TaskDefinition struct {
	ID                        uint `gorm:"primaryKey"`
	UserID                    uint `gorm:"index"`
	Name                      string
	Description               string
	CreationDate              time.Time
	InitialDueDate            time.Time
	Period                    int
	NotificationsEnabled      bool
	NotificationLastDismissed *time.Time
	NotificationTime          *schedule.TimeOfDay
	NotificationPeriod        *int
	// NotifiedFor is the reminder instant that was last delivered, so a sweep
	// never sends the same reminder twice.
	NotifiedFor           *time.Time
	NotificationMessageID *int
	Completions           []Completion `gorm:"foreignKey:TaskID;constraint:OnDelete:CASCADE"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Completion records that a task was done on a given day.
type Completion struct {
	ID        uint      `gorm:"primaryKey"`
	TaskID    uint      `gorm:"index"`
	Date      time.Time `gorm:"index"`
	Note      string
	CreatedAt time.Time
}

// SortedCompletions returns the completions oldest first.
func (t *TaskDefinition) SortedCompletions() []Completion {
	out := make([]Completion, len(t.Completions))
	copy(out, t.Completions)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// LatestCompletion returns the most recent completion, if any.
func (t *TaskDefinition) LatestCompletion() (Completion, bool) {
	sorted := t.SortedCompletions()
	if len(sorted) == 0 {
		return Completion{}, false
	}
	return sorted[len(sorted)-1], true
}

// Input converts the stored task into the calculator's view of it.
func (t *TaskDefinition) Input() schedule.Input {
	dates := make([]time.Time, 0, len(t.Completions))
	for _, c := range t.Completions {
		dates = append(dates, c.Date)
	}
	return schedule.Input{
		InitialDueDate:       t.InitialDueDate,
		Period:               t.Period,
		Completions:          dates,
		NotificationsEnabled: t.NotificationsEnabled,
		LastDismissed:        t.NotificationLastDismissed,
		NotificationTime:     t.NotificationTime,
		NotificationPeriod:   t.NotificationPeriod,
	}
}

func (t *TaskDefinition) NextDueDate() time.Time {
	return schedule.NextDueDate(t.InitialDueDate, t.Period, t.Input().Completions)
}

func (t *TaskDefinition) DaysUntilDue(now time.Time) int {
	return schedule.DaysUntilDue(t.NextDueDate(), now)
}

// NextNotification resolves the task's next reminder against the user's settings.
func (t *TaskDefinition) NextNotification(settings schedule.Settings, now time.Time) (time.Time, bool) {
	return schedule.NextNotification(t.Input(), settings, now)
}
