package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"flexible-todos/internal/model"
	"flexible-todos/internal/repository"
	"flexible-todos/internal/schedule"
)

// fixture wires the services against a throwaway database and a movable clock.
type fixture struct {
	clock    time.Time
	tasks    *TaskService
	settings *SettingsService
	notify   *NotificationService
	taskRepo *repository.TaskRepository
	users    *repository.UserRepository
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	db, err := repository.NewDB(filepath.Join(t.TempDir(), "service.db"), zerolog.Nop())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	f := &fixture{clock: now}
	clock := func() time.Time { return f.clock }

	f.taskRepo = repository.NewTaskRepository(db)
	f.users = repository.NewUserRepository(db)
	f.settings = NewSettingsService(repository.NewSettingsRepository(db), schedule.DefaultSettings())
	f.tasks = NewTaskService(f.taskRepo, repository.NewCompletionRepository(db), clock)
	f.notify = NewNotificationService(f.taskRepo, f.users, f.settings, clock, zerolog.Nop())
	return f
}

func (f *fixture) user(t *testing.T, telegramID int64) *model.User {
	t.Helper()
	u, err := f.users.UpsertFromTelegram(context.Background(), telegramID, "Test", "", "")
	require.NoError(t, err)
	return u
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func at(y int, m time.Month, d, hour, minute int) time.Time {
	return time.Date(y, m, d, hour, minute, 0, 0, time.UTC)
}

func ptr[T any](v T) *T {
	return &v
}
