package repository

import (
	"context"

	"gorm.io/gorm"

	"StillOK/internal/model"
)

// PendingActionRepo PendingActionRepository 的 gorm 实现
type PendingActionRepo struct {
	db *gorm.DB
}

// NewPendingActionRepo 创建待补投动作仓库
func NewPendingActionRepo(db *gorm.DB) *PendingActionRepo {
	return &PendingActionRepo{db: db}
}

func (r *PendingActionRepo) Create(ctx context.Context, action *model.PendingNotificationAction) error {
	return r.db.WithContext(ctx).Create(action).Error
}

func (r *PendingActionRepo) ListOldestFirst(ctx context.Context, limit int) ([]model.PendingNotificationAction, error) {
	var actions []model.PendingNotificationAction
	err := r.db.WithContext(ctx).
		Order("created_at ASC").
		Limit(limit).
		Find(&actions).Error
	if err != nil {
		return nil, err
	}
	return actions, nil
}

func (r *PendingActionRepo) IncrementAttempt(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&model.PendingNotificationAction{}).
		Where("id = ?", id).
		Update("attempt_count", gorm.Expr("attempt_count + 1")).Error
}

func (r *PendingActionRepo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&model.PendingNotificationAction{}).Error
}

func (r *PendingActionRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.PendingNotificationAction{}).
		Count(&count).Error
	return count, err
}
