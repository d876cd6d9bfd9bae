package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"StillOK/internal/model"
)

// ContactRepo ContactRepository 的 gorm 实现
type ContactRepo struct {
	db *gorm.DB
}

// NewContactRepo 创建联系人仓库
func NewContactRepo(db *gorm.DB) *ContactRepo {
	return &ContactRepo{db: db}
}

// CreatePair 正反两行同一事务写入，唯一索引挡住重复添加
func (r *ContactRepo) CreatePair(ctx context.Context, owner, mirror *model.ContactRelation) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(owner).Error; err != nil {
			return err
		}
		return tx.Create(mirror).Error
	})
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (r *ContactRepo) DeletePair(ctx context.Context, ownerID, contactID int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("owner_id = ? AND contact_id = ?", ownerID, contactID).
			Delete(&model.ContactRelation{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("owner_id = ? AND contact_id = ?", contactID, ownerID).
			Delete(&model.ContactRelation{}).Error
	})
}

func (r *ContactRepo) Get(ctx context.Context, ownerID, contactID int64) (*model.ContactRelation, error) {
	var relation model.ContactRelation
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND contact_id = ?", ownerID, contactID).
		First(&relation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &relation, nil
}

func (r *ContactRepo) ListByOwner(ctx context.Context, ownerID int64) ([]model.ContactRelation, error) {
	var relations []model.ContactRelation
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Find(&relations).Error
	if err != nil {
		return nil, err
	}
	return relations, nil
}

func (r *ContactRepo) ListResponders(ctx context.Context, ownerID int64) ([]model.ContactRelation, error) {
	var relations []model.ContactRelation
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND is_responder = ?", ownerID, true).
		Find(&relations).Error
	if err != nil {
		return nil, err
	}
	return relations, nil
}

// UpdateRolesPair 两行都带版本条件更新，任何一行未命中则整体回滚
func (r *ContactRepo) UpdateRolesPair(ctx context.Context, owner, mirror *model.ContactRelation) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rel := range []*model.ContactRelation{owner, mirror} {
			result := tx.Model(&model.ContactRelation{}).
				Where("owner_id = ? AND contact_id = ? AND version = ?", rel.OwnerID, rel.ContactID, rel.Version).
				Updates(map[string]interface{}{
					"is_responder": rel.IsResponder,
					"is_dependent": rel.IsDependent,
					"version":      rel.Version + 1,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return ErrVersionConflict
			}
		}
		return nil
	})
}
