package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"flexible-todos/internal/model"
)

// SettingsRepository is a per-user key/value store for preferences.
type SettingsRepository struct {
	db *gorm.DB
}

func NewSettingsRepository(db *gorm.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get returns the stored value and whether the key was set.
func (r *SettingsRepository) Get(ctx context.Context, userID uint, key string) (string, bool, error) {
	var setting model.Setting
	err := r.db.WithContext(ctx).Where(&model.Setting{UserID: userID, Key: key}).First(&setting).Error
	switch {
	case err == nil:
		return setting.Value, true, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "", false, nil
	default:
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
}

func (r *SettingsRepository) Set(ctx context.Context, userID uint, key, value string) error {
	setting := model.Setting{UserID: userID, Key: key, Value: value}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}
