package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"StillOK/internal/model"
)

// PingRepo PingRepository 的 gorm 实现
type PingRepo struct {
	db *gorm.DB
}

// NewPingRepo 创建确认请求仓库
func NewPingRepo(db *gorm.DB) *PingRepo {
	return &PingRepo{db: db}
}

func (r *PingRepo) Create(ctx context.Context, ping *model.PingRequest) error {
	err := r.db.WithContext(ctx).Create(ping).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (r *PingRepo) GetByPublicID(ctx context.Context, publicID int64) (*model.PingRequest, error) {
	var ping model.PingRequest
	err := r.db.WithContext(ctx).Where("public_id = ?", publicID).First(&ping).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ping, nil
}

func (r *PingRepo) GetSentByPair(ctx context.Context, senderID, recipientID int64) (*model.PingRequest, error) {
	var ping model.PingRequest
	err := r.db.WithContext(ctx).
		Where("sender_id = ? AND recipient_id = ? AND status = ?", senderID, recipientID, model.PingStatusSent).
		First(&ping).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ping, nil
}

func (r *PingRepo) ListByUser(ctx context.Context, userID int64) ([]model.PingRequest, error) {
	var pings []model.PingRequest
	err := r.db.WithContext(ctx).
		Where("sender_id = ? OR recipient_id = ?", userID, userID).
		Order("created_at DESC").
		Find(&pings).Error
	if err != nil {
		return nil, err
	}
	return pings, nil
}

func (r *PingRepo) ListSentToRecipient(ctx context.Context, recipientID int64) ([]model.PingRequest, error) {
	var pings []model.PingRequest
	err := r.db.WithContext(ctx).
		Where("recipient_id = ? AND status = ?", recipientID, model.PingStatusSent).
		Find(&pings).Error
	if err != nil {
		return nil, err
	}
	return pings, nil
}

// TransitionStatus 条件更新实现 CAS：status 不为 from 时零行命中，不产生副作用
func (r *PingRepo) TransitionStatus(ctx context.Context, publicID int64, from, to model.PingStatus, at time.Time) (bool, error) {
	fields := map[string]interface{}{"status": to}
	switch to {
	case model.PingStatusResponded:
		fields["responded_at"] = at
	case model.PingStatusCanceled:
		fields["canceled_at"] = at
	}

	result := r.db.WithContext(ctx).
		Model(&model.PingRequest{}).
		Where("public_id = ? AND status = ?", publicID, from).
		Updates(fields)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
