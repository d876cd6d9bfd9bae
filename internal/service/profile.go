package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
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
	profileService *ProfileService
	profileOnce    sync.Once
)

func Profile() *ProfileService {
	profileOnce.Do(func() {
		db := database.DB()
		profileService = NewProfileService(
			repository.NewProfileRepo(db),
			Notification(),
		)
	})
	return profileService
}

// 提前提醒窗口只开放这几个档位
var allowedLeadTimes = map[int64]struct{}{
	0:       {}, // 关闭
	1800000: {}, // 30 分钟
	7200000: {}, // 2 小时
}

// 档案缓存入口，测试替换用
var (
	getProfileSnapshot     = cache.GetProfileSnapshot
	setProfileSnapshot     = cache.SetProfileSnapshot
	invalidateProfileCache = cache.InvalidateProfile
	deleteDiscoveryIndex   = cache.DeleteDiscoveryIndex
)

// ProfileService 用户档案
type ProfileService struct {
	profiles repository.ProfileRepository
	notifier *NotificationService
}

func NewProfileService(profiles repository.ProfileRepository, notifier *NotificationService) *ProfileService {
	return &ProfileService{
		profiles: profiles,
		notifier: notifier,
	}
}

// GetMe 当前用户档案，优先走缓存快照
func (s *ProfileService) GetMe(ctx context.Context, userID int64) (*dto.ProfileSnapshot, error) {
	if cached, err := getProfileSnapshot(ctx, userID); err == nil && cached != nil {
		return profileSnapshot(cached), nil
	}

	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := setProfileSnapshot(ctx, profile); err != nil {
		logger.Logger.Warn("Failed to cache profile snapshot",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	}

	return profileSnapshot(profile), nil
}

// UpdateMe 更新档案，nil 字段不动
func (s *ProfileService) UpdateMe(ctx context.Context, userID int64, req *dto.UpdateProfileRequest) (*dto.ProfileSnapshot, error) {
	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	fields := map[string]interface{}{}
	if req.DisplayName != nil {
		fields["display_name"] = *req.DisplayName
		profile.DisplayName = *req.DisplayName
	}
	if req.PhoneRegion != nil {
		fields["phone_region"] = *req.PhoneRegion
		profile.PhoneRegion = *req.PhoneRegion
	}
	if req.Note != nil {
		fields["note"] = *req.Note
		profile.Note = *req.Note
	}

	leadTimeChanged := false
	if req.LeadTimeMs != nil {
		if _, ok := allowedLeadTimes[*req.LeadTimeMs]; !ok {
			return nil, pkgerrors.LeadTimeInvalid
		}
		leadTimeChanged = profile.LeadTimeMs != *req.LeadTimeMs
		fields["lead_time_ms"] = *req.LeadTimeMs
		profile.LeadTimeMs = *req.LeadTimeMs
	}

	if len(fields) == 0 {
		return profileSnapshot(profile), nil
	}

	if err := s.profiles.UpdateFields(ctx, userID, fields); err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	if err := invalidateProfileCache(ctx, userID); err != nil {
		logger.Logger.Warn("Failed to invalidate profile cache",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	}

	if leadTimeChanged {
		// 提前量变了，重排或取消提前提醒
		if profile.LeadTimeMs > 0 {
			s.notifier.ScheduleDueSoon(ctx, profile)
		} else {
			s.notifier.CancelDueSoon(ctx, userID)
		}
	}

	return profileSnapshot(profile), nil
}

// RegisterPushToken 绑定设备推送令牌
func (s *ProfileService) RegisterPushToken(ctx context.Context, userID int64, pushToken string) error {
	if err := s.profiles.UpdateFields(ctx, userID, map[string]interface{}{
		"push_token": pushToken,
	}); err != nil {
		return fmt.Errorf("failed to register push token: %w", err)
	}

	if err := invalidateProfileCache(ctx, userID); err != nil {
		logger.Logger.Warn("Failed to invalidate profile cache",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	}

	return nil
}

// RotateDiscoveryCode 轮换发现码，旧码立即失效
func (s *ProfileService) RotateDiscoveryCode(ctx context.Context, userID int64) (*dto.RotateDiscoveryCodeResponse, error) {
	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	oldCode := profile.DiscoveryCode
	newCode := uuid.NewString()

	if err := s.profiles.UpdateFields(ctx, userID, map[string]interface{}{
		"discovery_code": newCode,
	}); err != nil {
		return nil, fmt.Errorf("failed to rotate discovery code: %w", err)
	}

	if err := deleteDiscoveryIndex(ctx, oldCode); err != nil {
		logger.Logger.Warn("Failed to drop old discovery index",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	}
	if err := indexDiscoveryCode(ctx, newCode, userID); err != nil {
		logger.Logger.Warn("Failed to index new discovery code",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	}
	if err := invalidateProfileCache(ctx, userID); err != nil {
		logger.Logger.Warn("Failed to invalidate profile cache",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	}

	return &dto.RotateDiscoveryCodeResponse{DiscoveryCode: newCode}, nil
}

func (s *ProfileService) loadProfile(ctx context.Context, userID int64) (*model.UserProfile, error) {
	profile, err := s.profiles.GetByPublicID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, pkgerrors.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return profile, nil
}

// profileSnapshot 档案转展示快照，手机号只出脱敏形态
func profileSnapshot(profile *model.UserProfile) *dto.ProfileSnapshot {
	masked := ""
	if phone, err := utils.DecryptPhone(profile.PhoneCipher); err == nil {
		masked = utils.MaskPhone(phone)
	}

	return &dto.ProfileSnapshot{
		ID:                strconv.FormatInt(profile.PublicID, 10),
		DisplayName:       profile.DisplayName,
		PhoneMasked:       masked,
		PhoneRegion:       profile.PhoneRegion,
		Note:              profile.Note,
		CheckInIntervalMs: profile.CheckInIntervalMs,
		LastCheckInAt:     profile.LastCheckInAt,
		ExpiryAt:          profile.ExpiryAt(),
		LeadTimeMs:        profile.LeadTimeMs,
		EmergencyAlert:    profile.EmergencyAlert,
		EmergencyAlertAt:  profile.EmergencyAlertAt,
		DiscoveryCode:     profile.DiscoveryCode,
	}
}
