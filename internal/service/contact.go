package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"StillOK/internal/cache"
	"StillOK/internal/model"
	"StillOK/internal/model/dto"
	"StillOK/internal/repository"
	pkgerrors "StillOK/pkg/errors"
	"StillOK/pkg/logger"
	"StillOK/storage/database"
	"StillOK/utils"
)

var (
	contactService *ContactService
	contactOnce    sync.Once
)

func Contact() *ContactService {
	contactOnce.Do(func() {
		db := database.DB()
		contactService = NewContactService(
			repository.NewContactRepo(db),
			repository.NewProfileRepo(db),
			Notification(),
		)
	})
	return contactService
}

// 发现码索引的缓存入口，测试替换用
var (
	resolveDiscoveryIndex = cache.ResolveDiscoveryCode
	markDiscoveryUnknown  = cache.MarkDiscoveryCodeUnknown
	indexDiscoveryCode    = cache.SetDiscoveryIndex
)

// ContactService 联系人图谱
// 每段关系双向各存一行，镜像行的角色互换；两行在同一事务内增删改
type ContactService struct {
	contacts   repository.ContactRepository
	profiles   repository.ProfileRepository
	dispatcher EventDispatcher
}

func NewContactService(
	contacts repository.ContactRepository,
	profiles repository.ProfileRepository,
	dispatcher EventDispatcher,
) *ContactService {
	return &ContactService{
		contacts:   contacts,
		profiles:   profiles,
		dispatcher: dispatcher,
	}
}

// AddContact 通过发现码添加联系人
// asResponder: 对方守护我；asDependent: 我守护对方
func (s *ContactService) AddContact(ctx context.Context, ownerID int64, req *dto.AddContactRequest) (*dto.ContactItem, error) {
	if !req.AsResponder && !req.AsDependent {
		return nil, pkgerrors.InvalidRoleState
	}

	target, err := s.resolveDiscoveryCode(ctx, req.DiscoveryCode)
	if err != nil {
		return nil, err
	}

	if target.PublicID == ownerID {
		return nil, pkgerrors.ContactSelfAdd
	}

	relation := &model.ContactRelation{
		OwnerID:     ownerID,
		ContactID:   target.PublicID,
		IsResponder: req.AsResponder,
		IsDependent: req.AsDependent,
	}
	// 镜像行：我视对方为守护人，对方那边我就是被守护人
	mirror := &model.ContactRelation{
		OwnerID:     target.PublicID,
		ContactID:   ownerID,
		IsResponder: req.AsDependent,
		IsDependent: req.AsResponder,
	}

	if err := s.contacts.CreatePair(ctx, relation, mirror); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, pkgerrors.ContactDuplicate
		}
		return nil, fmt.Errorf("failed to create contact pair: %w", err)
	}

	owner, err := s.profiles.GetByPublicID(ctx, ownerID)
	if err != nil {
		logger.Logger.Warn("Failed to load owner profile for contact event",
			zap.Int64("owner_id", ownerID),
			zap.Error(err),
		)
	} else {
		contactID := ownerID
		s.record(ctx, model.Event{
			Type:             model.NotificationTypeContactAdded,
			ActorID:          ownerID,
			TargetID:         target.PublicID,
			Title:            "新的联系人",
			Message:          fmt.Sprintf("%s 已将你添加为联系人", displayName(owner)),
			Priority:         model.NotificationPriorityStandard,
			RelatedContactID: &contactID,
			OccurredAt:       time.Now(),
		})
	}

	return s.contactItem(relation, target), nil
}

// RemoveContact 删除联系人，两侧关系同事务删除
func (s *ContactService) RemoveContact(ctx context.Context, ownerID, contactID int64) error {
	if _, err := s.contacts.Get(ctx, ownerID, contactID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return pkgerrors.ContactNotFound
		}
		return fmt.Errorf("failed to load contact relation: %w", err)
	}

	if err := s.contacts.DeletePair(ctx, ownerID, contactID); err != nil {
		return fmt.Errorf("failed to delete contact pair: %w", err)
	}

	owner, err := s.profiles.GetByPublicID(ctx, ownerID)
	if err != nil {
		logger.Logger.Warn("Failed to load owner profile for contact event",
			zap.Int64("owner_id", ownerID),
			zap.Error(err),
		)
		return nil
	}

	related := ownerID
	s.record(ctx, model.Event{
		Type:             model.NotificationTypeContactRemoved,
		ActorID:          ownerID,
		TargetID:         contactID,
		Title:            "联系人解除",
		Message:          fmt.Sprintf("%s 已将你从联系人中移除", displayName(owner)),
		Priority:         model.NotificationPriorityLow,
		RelatedContactID: &related,
		OccurredAt:       time.Now(),
	})

	return nil
}

// ToggleRole 翻转一侧角色，镜像行对应角色同步翻转
// 翻转后两个角色都为假则拒绝提交
func (s *ContactService) ToggleRole(ctx context.Context, ownerID, contactID int64, role model.ContactRole) (*dto.ContactItem, error) {
	if !role.Valid() {
		return nil, pkgerrors.InvalidRoleState
	}

	relation, err := s.contacts.Get(ctx, ownerID, contactID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, pkgerrors.ContactNotFound
		}
		return nil, fmt.Errorf("failed to load contact relation: %w", err)
	}

	isResponder := relation.IsResponder
	isDependent := relation.IsDependent
	switch role {
	case model.ContactRoleResponder:
		isResponder = !isResponder
	case model.ContactRoleDependent:
		isDependent = !isDependent
	}

	if !isResponder && !isDependent {
		return nil, pkgerrors.InvalidRoleState
	}

	mirrorRel, err := s.contacts.Get(ctx, contactID, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, pkgerrors.ContactNotFound
		}
		return nil, fmt.Errorf("failed to load mirror relation: %w", err)
	}

	ownerRow := *relation
	ownerRow.IsResponder = isResponder
	ownerRow.IsDependent = isDependent
	mirrorRow := *mirrorRel
	mirrorRow.IsResponder = isDependent
	mirrorRow.IsDependent = isResponder

	if err := s.contacts.UpdateRolesPair(ctx, &ownerRow, &mirrorRow); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, pkgerrors.RelationConflict
		}
		return nil, fmt.Errorf("failed to update contact roles: %w", err)
	}

	relation.IsResponder = isResponder
	relation.IsDependent = isDependent
	relation.Version++

	target, err := s.profiles.GetByPublicID(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("failed to load contact profile: %w", err)
	}

	owner, err := s.profiles.GetByPublicID(ctx, ownerID)
	if err == nil {
		related := ownerID
		s.record(ctx, model.Event{
			Type:             model.NotificationTypeRoleChanged,
			ActorID:          ownerID,
			TargetID:         contactID,
			Title:            "关系调整",
			Message:          fmt.Sprintf("%s 调整了你们之间的守护关系", displayName(owner)),
			Priority:         model.NotificationPriorityLow,
			RelatedContactID: &related,
			OccurredAt:       time.Now(),
		})
	}

	return s.contactItem(relation, target), nil
}

// ListContacts 联系人列表，附带对方档案的展示字段
func (s *ContactService) ListContacts(ctx context.Context, ownerID int64) ([]dto.ContactItem, error) {
	relations, err := s.contacts.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}

	items := make([]dto.ContactItem, 0, len(relations))
	for i := range relations {
		target, err := s.profiles.GetByPublicID(ctx, relations[i].ContactID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue // 对方账号已注销，跳过残留关系
			}
			return nil, fmt.Errorf("failed to load contact profile: %w", err)
		}
		items = append(items, *s.contactItem(&relations[i], target))
	}

	return items, nil
}

// resolveDiscoveryCode 先查缓存索引，未命中回源档案表，不存在则写入空值挡枚举
func (s *ContactService) resolveDiscoveryCode(ctx context.Context, code string) (*model.UserProfile, error) {
	if code == "" {
		return nil, pkgerrors.DiscoveryCodeUnknown
	}

	userID, hit, err := resolveDiscoveryIndex(ctx, code)
	if err != nil {
		logger.Logger.Warn("Failed to query discovery index",
			zap.Error(err),
		)
	} else if hit {
		if userID == 0 {
			return nil, pkgerrors.DiscoveryCodeUnknown
		}
		profile, err := s.profiles.GetByPublicID(ctx, userID)
		if err == nil {
			return profile, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to load profile: %w", err)
		}
		// 索引指向的档案已不存在，落回回源
	}

	profile, err := s.profiles.GetByDiscoveryCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			if markErr := markDiscoveryUnknown(ctx, code); markErr != nil {
				logger.Logger.Warn("Failed to mark discovery code unknown",
					zap.Error(markErr),
				)
			}
			return nil, pkgerrors.DiscoveryCodeUnknown
		}
		return nil, fmt.Errorf("failed to resolve discovery code: %w", err)
	}

	if err := indexDiscoveryCode(ctx, code, profile.PublicID); err != nil {
		logger.Logger.Warn("Failed to cache discovery index",
			zap.Error(err),
		)
	}

	return profile, nil
}

func (s *ContactService) contactItem(relation *model.ContactRelation, target *model.UserProfile) *dto.ContactItem {
	masked := ""
	if phone, err := utils.DecryptPhone(target.PhoneCipher); err == nil {
		masked = utils.MaskPhone(phone)
	}

	return &dto.ContactItem{
		UserID:         fmt.Sprintf("%d", target.PublicID),
		DisplayName:    target.DisplayName,
		MaskedPhone:    masked,
		Note:           target.Note,
		IsResponder:    relation.IsResponder,
		IsDependent:    relation.IsDependent,
		EmergencyAlert: target.EmergencyAlert,
		LastCheckInAt:  target.LastCheckInAt,
		ExpiryAt:       target.ExpiryAt(),
		AddedAt:        relation.CreatedAt,
	}
}

func (s *ContactService) record(ctx context.Context, event model.Event) {
	if _, err := s.dispatcher.Record(ctx, event); err != nil {
		logger.Logger.Error("Failed to record event",
			zap.String("type", string(event.Type)),
			zap.Int64("target_id", event.TargetID),
			zap.Error(err),
		)
	}
}
