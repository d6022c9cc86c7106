package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"flexible-todos/internal/model"
)

// CompletionRepository stores the log of finished tasks.
type CompletionRepository struct {
	db *gorm.DB
}

func NewCompletionRepository(db *gorm.DB) *CompletionRepository {
	return &CompletionRepository{db: db}
}

func (r *CompletionRepository) Create(ctx context.Context, completion *model.Completion) error {
	if err := r.db.WithContext(ctx).Create(completion).Error; err != nil {
		return fmt.Errorf("create completion: %w", err)
	}
	return nil
}

func (r *CompletionRepository) Delete(ctx context.Context, taskID, completionID uint) error {
	res := r.db.WithContext(ctx).Where("task_id = ? AND id = ?", taskID, completionID).Delete(&model.Completion{})
	if res.Error != nil {
		return fmt.Errorf("delete completion: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delete completion: %w", gorm.ErrRecordNotFound)
	}
	return nil
}

func (r *CompletionRepository) ListByTask(ctx context.Context, taskID uint) ([]model.Completion, error) {
	var completions []model.Completion
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).Scopes(orderByDate).Find(&completions).Error; err != nil {
		return nil, err
	}
	return completions, nil
}

// Latest returns the most recent completion of a task.
func (r *CompletionRepository) Latest(ctx context.Context, taskID uint) (*model.Completion, error) {
	var completion model.Completion
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).
		Order("date DESC, id DESC").First(&completion).Error; err != nil {
		return nil, err
	}
	return &completion, nil
}
