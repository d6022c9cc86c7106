package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"flexible-todos/internal/model"
	"flexible-todos/internal/schedule"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "nested", "test.db"), zerolog.Nop())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func seedUser(t *testing.T, db *gorm.DB, telegramID int64) *model.User {
	t.Helper()
	user, err := NewUserRepository(db).UpsertFromTelegram(context.Background(), telegramID, "Ada", "L", "ada")
	require.NoError(t, err)
	return user
}

func TestUserRepositoryUpsert(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewUserRepository(db)

	first, err := repo.UpsertFromTelegram(ctx, 42, "Ada", "", "ada")
	require.NoError(t, err)
	second, err := repo.UpsertFromTelegram(ctx, 42, "Ada", "Lovelace", "ada")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	found, err := repo.FindByTelegramID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "Lovelace", found.LastName)

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestTaskRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	user := seedUser(t, db, 1)
	tasks := NewTaskRepository(db)
	completions := NewCompletionRepository(db)

	override := schedule.TimeOfDay{Hour: 7, Minute: 30}
	period := 2
	task := &model.TaskDefinition{
		UserID:               user.ID,
		Name:                 "Water plants",
		CreationDate:         day(2024, 1, 1),
		InitialDueDate:       day(2024, 1, 3),
		Period:               4,
		NotificationsEnabled: true,
		NotificationTime:     &override,
		NotificationPeriod:   &period,
	}
	require.NoError(t, tasks.Create(ctx, task))
	require.NotZero(t, task.ID)

	require.NoError(t, completions.Create(ctx, &model.Completion{TaskID: task.ID, Date: day(2024, 1, 9)}))
	require.NoError(t, completions.Create(ctx, &model.Completion{TaskID: task.ID, Date: day(2024, 1, 4)}))

	got, err := tasks.FindByID(ctx, user.ID, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NotificationTime)
	assert.Equal(t, override, *got.NotificationTime)
	require.NotNil(t, got.NotificationPeriod)
	assert.Equal(t, 2, *got.NotificationPeriod)
	require.Len(t, got.Completions, 2)
	assert.True(t, got.Completions[0].Date.Before(got.Completions[1].Date))
	assert.Equal(t, day(2024, 1, 13), got.NextDueDate())

	latest, err := completions.Latest(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, day(2024, 1, 9), latest.Date.UTC())

	_, err = tasks.FindByID(ctx, user.ID+1, task.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestTaskRepositoryNullableOverrides(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	user := seedUser(t, db, 1)
	tasks := NewTaskRepository(db)

	task := &model.TaskDefinition{UserID: user.ID, Name: "Plain", CreationDate: day(2024, 1, 1), InitialDueDate: day(2024, 1, 1), Period: 7, NotificationsEnabled: true}
	require.NoError(t, tasks.Create(ctx, task))

	got, err := tasks.FindByID(ctx, user.ID, task.ID)
	require.NoError(t, err)
	assert.Nil(t, got.NotificationTime)
	assert.Nil(t, got.NotificationPeriod)
	assert.Nil(t, got.NotificationLastDismissed)
}

func TestTaskRepositoryDeleteCascades(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	user := seedUser(t, db, 1)
	tasks := NewTaskRepository(db)
	completions := NewCompletionRepository(db)

	task := &model.TaskDefinition{UserID: user.ID, Name: "Vacuum", CreationDate: day(2024, 1, 1), InitialDueDate: day(2024, 1, 1), Period: 7}
	require.NoError(t, tasks.Create(ctx, task))
	require.NoError(t, completions.Create(ctx, &model.Completion{TaskID: task.ID, Date: day(2024, 1, 2)}))

	require.NoError(t, tasks.Delete(ctx, user.ID, task.ID))

	left, err := completions.ListByTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, left)

	assert.ErrorIs(t, tasks.Delete(ctx, user.ID, task.ID), gorm.ErrRecordNotFound)
}

func TestTaskRepositoryNotificationColumns(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	user := seedUser(t, db, 1)
	tasks := NewTaskRepository(db)

	enabled := &model.TaskDefinition{UserID: user.ID, Name: "On", CreationDate: day(2024, 1, 1), InitialDueDate: day(2024, 1, 1), Period: 7, NotificationsEnabled: true}
	disabled := &model.TaskDefinition{UserID: user.ID, Name: "Off", CreationDate: day(2024, 1, 1), InitialDueDate: day(2024, 1, 1), Period: 7}
	require.NoError(t, tasks.Create(ctx, enabled))
	require.NoError(t, tasks.Create(ctx, disabled))

	instant := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, tasks.SetNotified(ctx, enabled.ID, instant, 77))

	list, err := tasks.ListNotifiable(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, enabled.ID, list[0].ID)
	require.NotNil(t, list[0].NotificationMessageID)
	assert.Equal(t, 77, *list[0].NotificationMessageID)
	assert.True(t, instant.Equal(*list[0].NotifiedFor))

	dismissed := time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)
	require.NoError(t, tasks.SetDismissed(ctx, enabled.ID, dismissed))
	got, err := tasks.FindByID(ctx, user.ID, enabled.ID)
	require.NoError(t, err)
	assert.Nil(t, got.NotificationMessageID)
	require.NotNil(t, got.NotificationLastDismissed)
	assert.True(t, dismissed.Equal(*got.NotificationLastDismissed))

	assert.ErrorIs(t, tasks.ClearNotified(ctx, 9999), gorm.ErrRecordNotFound)
}

func TestSettingsRepository(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	user := seedUser(t, db, 1)
	repo := NewSettingsRepository(db)

	_, ok, err := repo.Get(ctx, user.ID, "notification_time")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Set(ctx, user.ID, "notification_time", "08:00"))
	require.NoError(t, repo.Set(ctx, user.ID, "notification_time", "09:30"))

	value, ok, err := repo.Get(ctx, user.ID, "notification_time")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "09:30", value)
}

func TestWithForeignKeys(t *testing.T) {
	assert.Equal(t, "a.db?_foreign_keys=on", withForeignKeys("a.db"))
	assert.Equal(t, "a.db?cache=shared&_foreign_keys=on", withForeignKeys("a.db?cache=shared"))
	assert.Equal(t, "a.db?_fk=1", withForeignKeys("a.db?_fk=1"))
}
