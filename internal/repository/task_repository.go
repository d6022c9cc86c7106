package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"flexible-todos/internal/model"
)

// TaskRepository handles CRUD for task definitions.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, task *model.TaskDefinition) error {
	if err := r.db.WithContext(ctx).Omit("Completions").Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// Update saves the editable fields of a task.
func (r *TaskRepository) Update(ctx context.Context, task *model.TaskDefinition) error {
	if err := r.db.WithContext(ctx).Omit("Completions").Save(task).Error; err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

func (r *TaskRepository) FindByID(ctx context.Context, userID, taskID uint) (*model.TaskDefinition, error) {
	var task model.TaskDefinition
	if err := r.db.WithContext(ctx).Preload("Completions", orderByDate).
		Where("user_id = ? AND id = ?", userID, taskID).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *TaskRepository) ListByUser(ctx context.Context, userID uint) ([]model.TaskDefinition, error) {
	var tasks []model.TaskDefinition
	if err := r.db.WithContext(ctx).Preload("Completions", orderByDate).
		Where("user_id = ?", userID).Order("id ASC").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListNotifiable returns every task that either has reminders enabled or still
// has a delivered reminder message that may need withdrawing.
func (r *TaskRepository) ListNotifiable(ctx context.Context) ([]model.TaskDefinition, error) {
	var tasks []model.TaskDefinition
	if err := r.db.WithContext(ctx).Preload("Completions", orderByDate).
		Where("notifications_enabled = ? OR notification_message_id IS NOT NULL", true).
		Order("user_id ASC, id ASC").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// Delete removes a task and its completions.
func (r *TaskRepository) Delete(ctx context.Context, userID, taskID uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND id = ?", userID, taskID).Delete(&model.TaskDefinition{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Where("task_id = ?", taskID).Delete(&model.Completion{}).Error
	})
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// SetDismissed records when the user last dismissed the task's reminder.
func (r *TaskRepository) SetDismissed(ctx context.Context, taskID uint, at time.Time) error {
	return r.updateColumns(ctx, taskID, map[string]any{
		"notification_last_dismissed": at,
		"notification_message_id":     nil,
	})
}

// SetNotified stores the reminder instant that was delivered and the message carrying it.
func (r *TaskRepository) SetNotified(ctx context.Context, taskID uint, instant time.Time, messageID int) error {
	return r.updateColumns(ctx, taskID, map[string]any{
		"notified_for":            instant,
		"notification_message_id": messageID,
	})
}

// ClearNotified forgets the delivered reminder message.
func (r *TaskRepository) ClearNotified(ctx context.Context, taskID uint) error {
	return r.updateColumns(ctx, taskID, map[string]any{
		"notification_message_id": nil,
	})
}

func (r *TaskRepository) updateColumns(ctx context.Context, taskID uint, columns map[string]any) error {
	res := r.db.WithContext(ctx).Model(&model.TaskDefinition{}).Where("id = ?", taskID).Updates(columns)
	if res.Error != nil {
		return fmt.Errorf("update task %d: %w", taskID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update task %d: %w", taskID, gorm.ErrRecordNotFound)
	}
	return nil
}

func orderByDate(db *gorm.DB) *gorm.DB {
	return db.Order("date ASC, id ASC")
}
