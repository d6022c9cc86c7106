package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"flexible-todos/internal/model"
	"flexible-todos/internal/repository"
	"flexible-todos/internal/schedule"
)

// TaskInput represents data required to create or edit a task.
type TaskInput struct {
	Name                 string
	Description          string
	Period               int
	InitialDueDate       *time.Time
	NotificationsEnabled bool
	NotificationTime     *schedule.TimeOfDay
	NotificationPeriod   *int
}

// Validate rejects input the scheduling calculator refuses to work with.
func (in TaskInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return invalidf("name is required")
	}
	if in.Period <= 0 {
		return invalidf("period must be a positive number of days")
	}
	if in.NotificationPeriod != nil && *in.NotificationPeriod <= 0 {
		return invalidf("notification period must be a positive number of days")
	}
	return nil
}

// TaskService wraps task-related business logic.
type TaskService struct {
	taskRepo       *repository.TaskRepository
	completionRepo *repository.CompletionRepository
	now            func() time.Time
}

func NewTaskService(taskRepo *repository.TaskRepository, completionRepo *repository.CompletionRepository, now func() time.Time) *TaskService {
	return &TaskService{taskRepo: taskRepo, completionRepo: completionRepo, now: now}
}

func (s *TaskService) CreateTask(ctx context.Context, user *model.User, input TaskInput) (*model.TaskDefinition, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	today := schedule.DateOf(s.now())
	task := model.TaskDefinition{
		UserID:       user.ID,
		CreationDate: today,
	}
	applyInput(&task, input, today)

	if err := s.taskRepo.Create(ctx, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateTask replaces the editable fields of a task, keeping its history.
func (s *TaskService) UpdateTask(ctx context.Context, user *model.User, taskID uint, input TaskInput) (*model.TaskDefinition, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	task, err := s.GetTask(ctx, user, taskID)
	if err != nil {
		return nil, err
	}
	applyInput(task, input, task.InitialDueDate)
	if err := s.taskRepo.Update(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func applyInput(task *model.TaskDefinition, input TaskInput, defaultDue time.Time) {
	task.Name = strings.TrimSpace(input.Name)
	task.Description = strings.TrimSpace(input.Description)
	task.Period = input.Period
	task.InitialDueDate = schedule.DateOf(defaultDue)
	if input.InitialDueDate != nil {
		task.InitialDueDate = schedule.DateOf(*input.InitialDueDate)
	}
	task.NotificationsEnabled = input.NotificationsEnabled
	task.NotificationTime = input.NotificationTime
	task.NotificationPeriod = input.NotificationPeriod
}

func (s *TaskService) GetTask(ctx context.Context, user *model.User, taskID uint) (*model.TaskDefinition, error) {
	task, err := s.taskRepo.FindByID(ctx, user.ID, taskID)
	if err != nil {
		return nil, notFound(err, ErrTaskNotFound)
	}
	return task, nil
}

// ListTasks returns the user's tasks, most urgent first.
func (s *TaskService) ListTasks(ctx context.Context, user *model.User) ([]model.TaskDefinition, error) {
	tasks, err := s.taskRepo.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	today := s.now()
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].DaysUntilDue(today) < tasks[j].DaysUntilDue(today)
	})
	return tasks, nil
}

func (s *TaskService) DeleteTask(ctx context.Context, user *model.User, taskID uint) error {
	if err := s.taskRepo.Delete(ctx, user.ID, taskID); err != nil {
		return notFound(err, ErrTaskNotFound)
	}
	return nil
}

// CompleteTask logs a completion on the given day and returns the refreshed task.
func (s *TaskService) CompleteTask(ctx context.Context, user *model.User, taskID uint, on time.Time) (*model.TaskDefinition, error) {
	if _, err := s.GetTask(ctx, user, taskID); err != nil {
		return nil, err
	}
	completion := model.Completion{TaskID: taskID, Date: schedule.DateOf(on)}
	if err := s.completionRepo.Create(ctx, &completion); err != nil {
		return nil, err
	}
	return s.GetTask(ctx, user, taskID)
}

// UndoCompletion removes the most recent completion of a task.
func (s *TaskService) UndoCompletion(ctx context.Context, user *model.User, taskID uint) (*model.TaskDefinition, error) {
	if _, err := s.GetTask(ctx, user, taskID); err != nil {
		return nil, err
	}
	latest, err := s.completionRepo.Latest(ctx, taskID)
	if err != nil {
		return nil, notFound(err, ErrCompletionNotFound)
	}
	if err := s.completionRepo.Delete(ctx, taskID, latest.ID); err != nil {
		return nil, notFound(err, ErrCompletionNotFound)
	}
	return s.GetTask(ctx, user, taskID)
}

func (s *TaskService) DeleteCompletion(ctx context.Context, user *model.User, taskID, completionID uint) error {
	if _, err := s.GetTask(ctx, user, taskID); err != nil {
		return err
	}
	if err := s.completionRepo.Delete(ctx, taskID, completionID); err != nil {
		return notFound(err, ErrCompletionNotFound)
	}
	return nil
}

// DismissNotification records that the user swiped the task's reminder away.
func (s *TaskService) DismissNotification(ctx context.Context, user *model.User, taskID uint) (*model.TaskDefinition, error) {
	if _, err := s.GetTask(ctx, user, taskID); err != nil {
		return nil, err
	}
	if err := s.taskRepo.SetDismissed(ctx, taskID, s.now()); err != nil {
		return nil, notFound(err, ErrTaskNotFound)
	}
	return s.GetTask(ctx, user, taskID)
}

// Today is the current calendar date in the service's zone.
func (s *TaskService) Today() time.Time {
	return schedule.DateOf(s.now())
}
