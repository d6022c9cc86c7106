package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskInputValidate(t *testing.T) {
	tests := []struct {
		name  string
		input TaskInput
		ok    bool
	}{
		{name: "valid", input: TaskInput{Name: "Water plants", Period: 3}, ok: true},
		{name: "blank name", input: TaskInput{Name: "  ", Period: 3}},
		{name: "zero period", input: TaskInput{Name: "x", Period: 0}},
		{name: "negative notification period", input: TaskInput{Name: "x", Period: 3, NotificationPeriod: ptr(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.input.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestCreateTaskDefaultsToToday(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, at(2024, 1, 6, 12, 0))
	user := f.user(t, 1)

	task, err := f.tasks.CreateTask(ctx, user, TaskInput{Name: " Vacuum ", Period: 7, NotificationsEnabled: true})
	require.NoError(t, err)
	assert.Equal(t, "Vacuum", task.Name)
	assert.Equal(t, day(2024, 1, 6), task.CreationDate)
	assert.Equal(t, day(2024, 1, 6), task.InitialDueDate)

	_, err = f.tasks.CreateTask(ctx, user, TaskInput{Name: "", Period: 7})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCompleteAndUndo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, at(2024, 1, 6, 12, 0))
	user := f.user(t, 1)

	task, err := f.tasks.CreateTask(ctx, user, TaskInput{Name: "Laundry", Period: 7, InitialDueDate: ptr(day(2024, 1, 1))})
	require.NoError(t, err)

	done, err := f.tasks.CompleteTask(ctx, user, task.ID, f.tasks.Today())
	require.NoError(t, err)
	require.Len(t, done.Completions, 1)
	assert.Equal(t, day(2024, 1, 13), done.NextDueDate())

	undone, err := f.tasks.UndoCompletion(ctx, user, task.ID)
	require.NoError(t, err)
	assert.Empty(t, undone.Completions)
	assert.Equal(t, day(2024, 1, 1), undone.NextDueDate())

	_, err = f.tasks.UndoCompletion(ctx, user, task.ID)
	assert.ErrorIs(t, err, ErrCompletionNotFound)
}

func TestDeleteCompletion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, at(2024, 1, 6, 12, 0))
	user := f.user(t, 1)

	task, err := f.tasks.CreateTask(ctx, user, TaskInput{Name: "Laundry", Period: 7})
	require.NoError(t, err)
	_, err = f.tasks.CompleteTask(ctx, user, task.ID, day(2024, 1, 2))
	require.NoError(t, err)
	done, err := f.tasks.CompleteTask(ctx, user, task.ID, day(2024, 1, 5))
	require.NoError(t, err)
	require.Len(t, done.Completions, 2)

	require.NoError(t, f.tasks.DeleteCompletion(ctx, user, task.ID, done.Completions[1].ID))
	got, err := f.tasks.GetTask(ctx, user, task.ID)
	require.NoError(t, err)
	assert.Equal(t, day(2024, 1, 9), got.NextDueDate())

	assert.ErrorIs(t, f.tasks.DeleteCompletion(ctx, user, task.ID, 9999), ErrCompletionNotFound)
}

func TestTasksAreScopedToTheirOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, at(2024, 1, 6, 12, 0))
	owner := f.user(t, 1)
	stranger := f.user(t, 2)

	task, err := f.tasks.CreateTask(ctx, owner, TaskInput{Name: "Private", Period: 1})
	require.NoError(t, err)

	_, err = f.tasks.GetTask(ctx, stranger, task.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = f.tasks.CompleteTask(ctx, stranger, task.ID, day(2024, 1, 6))
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.ErrorIs(t, f.tasks.DeleteTask(ctx, stranger, task.ID), ErrTaskNotFound)

	require.NoError(t, f.tasks.DeleteTask(ctx, owner, task.ID))
	assert.ErrorIs(t, f.tasks.DeleteTask(ctx, owner, task.ID), ErrTaskNotFound)
}

func TestListTasksMostUrgentFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, at(2024, 1, 6, 12, 0))
	user := f.user(t, 1)

	for _, in := range []TaskInput{
		{Name: "later", Period: 7, InitialDueDate: ptr(day(2024, 1, 20))},
		{Name: "overdue", Period: 7, InitialDueDate: ptr(day(2024, 1, 2))},
		{Name: "today", Period: 7, InitialDueDate: ptr(day(2024, 1, 6))},
	} {
		_, err := f.tasks.CreateTask(ctx, user, in)
		require.NoError(t, err)
	}

	tasks, err := f.tasks.ListTasks(ctx, user)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "overdue", tasks[0].Name)
	assert.Equal(t, "today", tasks[1].Name)
	assert.Equal(t, "later", tasks[2].Name)
}

func TestUpdateTaskKeepsHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, at(2024, 1, 6, 12, 0))
	user := f.user(t, 1)

	task, err := f.tasks.CreateTask(ctx, user, TaskInput{Name: "Mop", Period: 7, InitialDueDate: ptr(day(2024, 1, 1))})
	require.NoError(t, err)
	_, err = f.tasks.CompleteTask(ctx, user, task.ID, day(2024, 1, 4))
	require.NoError(t, err)

	updated, err := f.tasks.UpdateTask(ctx, user, task.ID, TaskInput{Name: "Mop floors", Period: 14, NotificationPeriod: ptr(2)})
	require.NoError(t, err)
	assert.Equal(t, "Mop floors", updated.Name)
	assert.Equal(t, day(2024, 1, 1), updated.InitialDueDate)
	require.NotNil(t, updated.NotificationPeriod)
	assert.Equal(t, 2, *updated.NotificationPeriod)

	got, err := f.tasks.GetTask(ctx, user, task.ID)
	require.NoError(t, err)
	require.Len(t, got.Completions, 1)
	assert.Equal(t, day(2024, 1, 18), got.NextDueDate())
}

func TestDismissNotification(t *testing.T) {
	ctx := context.Background()
	now := at(2024, 1, 6, 12, 0)
	f := newFixture(t, now)
	user := f.user(t, 1)

	task, err := f.tasks.CreateTask(ctx, user, TaskInput{Name: "Stretch", Period: 1, NotificationsEnabled: true})
	require.NoError(t, err)

	dismissed, err := f.tasks.DismissNotification(ctx, user, task.ID)
	require.NoError(t, err)
	require.NotNil(t, dismissed.NotificationLastDismissed)
	assert.True(t, now.Equal(*dismissed.NotificationLastDismissed))
}
