package service

import (
	"context"
	"fmt"
	"strconv"

	"flexible-todos/internal/repository"
	"flexible-todos/internal/schedule"
)

const (
	keyNotificationTime = "global_notification_time"
	keyPeriodScale      = "global_notification_period_scale"
)

// ScaleExamplePeriods are the task periods shown when explaining the scale setting.
var ScaleExamplePeriods = []int{1, 2, 3, 5, 7, 14, 30, 60, 90, 180, 365, 730}

// ScaleExample pairs a task period with the reminder interval it gets once overdue.
type ScaleExample struct {
	TaskPeriod         int
	NotificationPeriod int
}

// SettingsService exposes typed access to per-user preferences.
type SettingsService struct {
	repo     *repository.SettingsRepository
	defaults schedule.Settings
}

func NewSettingsService(repo *repository.SettingsRepository, defaults schedule.Settings) *SettingsService {
	return &SettingsService{repo: repo, defaults: defaults}
}

func (s *SettingsService) NotificationTime(ctx context.Context, userID uint) (schedule.TimeOfDay, error) {
	raw, ok, err := s.repo.Get(ctx, userID, keyNotificationTime)
	if err != nil || !ok {
		return s.defaults.NotificationTime, err
	}
	tod, err := schedule.ParseTimeOfDay(raw)
	if err != nil {
		return s.defaults.NotificationTime, fmt.Errorf("stored notification time: %w", err)
	}
	return tod, nil
}

func (s *SettingsService) SetNotificationTime(ctx context.Context, userID uint, tod schedule.TimeOfDay) error {
	return s.repo.Set(ctx, userID, keyNotificationTime, tod.String())
}

func (s *SettingsService) PeriodScale(ctx context.Context, userID uint) (int, error) {
	raw, ok, err := s.repo.Get(ctx, userID, keyPeriodScale)
	if err != nil || !ok {
		return s.defaults.PeriodScale, err
	}
	scale, err := strconv.Atoi(raw)
	if err != nil || scale < schedule.MinPeriodScale || scale > schedule.MaxPeriodScale {
		return s.defaults.PeriodScale, fmt.Errorf("stored period scale %q is out of range", raw)
	}
	return scale, nil
}

func (s *SettingsService) SetPeriodScale(ctx context.Context, userID uint, scale int) error {
	if scale < schedule.MinPeriodScale || scale > schedule.MaxPeriodScale {
		return invalidf("scale must be between %d and %d", schedule.MinPeriodScale, schedule.MaxPeriodScale)
	}
	return s.repo.Set(ctx, userID, keyPeriodScale, strconv.Itoa(scale))
}

// Snapshot reads everything the calculator needs for one user.
func (s *SettingsService) Snapshot(ctx context.Context, userID uint) (schedule.Settings, error) {
	tod, err := s.NotificationTime(ctx, userID)
	if err != nil {
		return s.defaults, err
	}
	scale, err := s.PeriodScale(ctx, userID)
	if err != nil {
		return s.defaults, err
	}
	return schedule.Settings{NotificationTime: tod, PeriodScale: scale}, nil
}

// ScaleExamples shows how a scale value spreads reminders across typical periods.
func ScaleExamples(scale int) []ScaleExample {
	out := make([]ScaleExample, 0, len(ScaleExamplePeriods))
	for _, p := range ScaleExamplePeriods {
		out = append(out, ScaleExample{TaskPeriod: p, NotificationPeriod: schedule.ScalePeriod(p, scale)})
	}
	return out
}
