package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"flexible-todos/internal/logging"
	"flexible-todos/internal/model"
	"flexible-todos/internal/repository"
	"flexible-todos/internal/schedule"
)

// Reminder is a notification that should be on the user's screen now.
type Reminder struct {
	User model.User
	Task model.TaskDefinition
	// At is the instant the reminder was scheduled for.
	At time.Time
}

// NotificationService decides which reminders to deliver and which to take back.
type NotificationService struct {
	taskRepo    *repository.TaskRepository
	userRepo    *repository.UserRepository
	settingsSvc *SettingsService
	now         func() time.Time
	log         zerolog.Logger
}

func NewNotificationService(taskRepo *repository.TaskRepository, userRepo *repository.UserRepository, settingsSvc *SettingsService, now func() time.Time, log zerolog.Logger) *NotificationService {
	return &NotificationService{
		taskRepo:    taskRepo,
		userRepo:    userRepo,
		settingsSvc: settingsSvc,
		now:         now,
		log:         logging.Component(log, "notifications"),
	}
}

// Plan is the outcome of one sweep over all tasks.
type Plan struct {
	// Due reminders have reached their instant and were not delivered for it yet.
	Due []Reminder
	// Stale reminders were delivered but their task is no longer due.
	Stale []Reminder
}

// Sweep evaluates every task with reminders against the clock. Tasks of a
// user whose profile or settings cannot be loaded are left out of the plan.
func (s *NotificationService) Sweep(ctx context.Context) (Plan, error) {
	now := s.now()
	tasks, err := s.taskRepo.ListNotifiable(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("list notifiable tasks: %w", err)
	}

	users := make(map[uint]model.User)
	settings := make(map[uint]schedule.Settings)
	broken := make(map[uint]bool)
	var plan Plan
	for _, task := range tasks {
		if broken[task.UserID] {
			continue
		}
		user, ok := users[task.UserID]
		if !ok {
			var snapshot schedule.Settings
			user, snapshot, err = s.loadUser(ctx, task.UserID)
			if err != nil {
				if ctx.Err() != nil {
					return plan, ctx.Err()
				}
				s.log.Error().Err(err).Uint("user", task.UserID).Msg("skip user in sweep")
				broken[task.UserID] = true
				continue
			}
			users[task.UserID] = user
			settings[task.UserID] = snapshot
		}

		next, enabled := task.NextNotification(settings[task.UserID], now)
		switch {
		case enabled && !next.After(now):
			if task.NotifiedFor == nil || !task.NotifiedFor.Equal(next) {
				plan.Due = append(plan.Due, Reminder{User: user, Task: task, At: next})
			}
		case task.NotificationMessageID != nil:
			plan.Stale = append(plan.Stale, Reminder{User: user, Task: task, At: next})
		}
	}

	sort.SliceStable(plan.Due, func(i, j int) bool {
		return plan.Due[i].At.Before(plan.Due[j].At)
	})
	return plan, nil
}

func (s *NotificationService) loadUser(ctx context.Context, userID uint) (model.User, schedule.Settings, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return model.User{}, schedule.Settings{}, fmt.Errorf("load user %d: %w", userID, err)
	}
	snapshot, err := s.settingsSvc.Snapshot(ctx, userID)
	if err != nil {
		return model.User{}, schedule.Settings{}, fmt.Errorf("load settings for user %d: %w", userID, err)
	}
	return *user, snapshot, nil
}

// MarkDelivered remembers that the reminder went out in the given message.
func (s *NotificationService) MarkDelivered(ctx context.Context, r Reminder, messageID int) error {
	return s.taskRepo.SetNotified(ctx, r.Task.ID, r.At, messageID)
}

// Withdraw forgets the delivered message of a task.
func (s *NotificationService) Withdraw(ctx context.Context, taskID uint) error {
	return s.taskRepo.ClearNotified(ctx, taskID)
}

// NextAlarm returns the user's soonest upcoming reminder.
func (s *NotificationService) NextAlarm(ctx context.Context, user *model.User) (time.Time, bool, error) {
	tasks, err := s.taskRepo.ListByUser(ctx, user.ID)
	if err != nil {
		return time.Time{}, false, err
	}
	snapshot, err := s.settingsSvc.Snapshot(ctx, user.ID)
	if err != nil {
		return time.Time{}, false, err
	}
	inputs := make([]schedule.Input, 0, len(tasks))
	for i := range tasks {
		inputs = append(inputs, tasks[i].Input())
	}
	at, ok := schedule.EarliestNotification(inputs, snapshot, s.now())
	return at, ok, nil
}
