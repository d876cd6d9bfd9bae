package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"StillOK/internal/model"
)

// ProfileRepo ProfileRepository 的 gorm 实现
type ProfileRepo struct {
	db *gorm.DB
}

// NewProfileRepo 创建档案仓库
func NewProfileRepo(db *gorm.DB) *ProfileRepo {
	return &ProfileRepo{db: db}
}

func (r *ProfileRepo) Create(ctx context.Context, profile *model.UserProfile) error {
	err := r.db.WithContext(ctx).Create(profile).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (r *ProfileRepo) GetByPublicID(ctx context.Context, publicID int64) (*model.UserProfile, error) {
	var profile model.UserProfile
	err := r.db.WithContext(ctx).Where("public_id = ?", publicID).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &profile, nil
}

func (r *ProfileRepo) GetByPhoneHash(ctx context.Context, phoneHash string) (*model.UserProfile, error) {
	var profile model.UserProfile
	err := r.db.WithContext(ctx).Where("phone_hash = ?", phoneHash).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &profile, nil
}

func (r *ProfileRepo) GetByDiscoveryCode(ctx context.Context, code string) (*model.UserProfile, error) {
	var profile model.UserProfile
	err := r.db.WithContext(ctx).Where("discovery_code = ?", code).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &profile, nil
}

func (r *ProfileRepo) UpdateFields(ctx context.Context, publicID int64, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&model.UserProfile{}).
		Where("public_id = ?", publicID).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListWithDeadlineBetween 到期时间在库内推导：last_check_in_at + 间隔
func (r *ProfileRepo) ListWithDeadlineBetween(ctx context.Context, from, to time.Time) ([]model.UserProfile, error) {
	var profiles []model.UserProfile
	err := r.db.WithContext(ctx).
		Where("last_check_in_at IS NOT NULL").
		Where("last_check_in_at + make_interval(secs => check_in_interval_ms / 1000.0) >= ?", from).
		Where("last_check_in_at + make_interval(secs => check_in_interval_ms / 1000.0) < ?", to).
		Find(&profiles).Error
	if err != nil {
		return nil, err
	}
	return profiles, nil
}
