package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"StillOK/internal/model"
)

// NotificationRepo NotificationRepository 的 gorm 实现
type NotificationRepo struct {
	db *gorm.DB
}

// NewNotificationRepo 创建通知历史仓库
func NewNotificationRepo(db *gorm.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

func (r *NotificationRepo) Create(ctx context.Context, item *model.NotificationItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *NotificationRepo) GetByPublicID(ctx context.Context, userID, publicID int64) (*model.NotificationItem, error) {
	var item model.NotificationItem
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND public_id = ?", userID, publicID).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// ListByUser 倒序游标分页，public_id 单调递增所以可以直接做游标
func (r *NotificationRepo) ListByUser(ctx context.Context, userID, cursor int64, limit int) ([]model.NotificationItem, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if cursor > 0 {
		query = query.Where("public_id < ?", cursor)
	}

	var items []model.NotificationItem
	err := query.Order("public_id DESC").Limit(limit).Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *NotificationRepo) MarkRead(ctx context.Context, userID, publicID int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.NotificationItem{}).
		Where("user_id = ? AND public_id = ?", userID, publicID).
		Update("read", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *NotificationRepo) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.NotificationItem{}).
		Where("user_id = ? AND read = ?", userID, false).
		Update("read", true)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
