package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"StillOK/config"
	"StillOK/internal/cache"
	"StillOK/internal/model"
	"StillOK/internal/model/dto"
	"StillOK/internal/queue"
	"StillOK/internal/repository"
	pkgerrors "StillOK/pkg/errors"
	"StillOK/pkg/logger"
	"StillOK/storage/database"
)

var (
	checkInService *CheckInService
	checkInOnce    sync.Once
)

func CheckIn() *CheckInService {
	checkInOnce.Do(func() {
		db := database.DB()
		checkInService = NewCheckInService(
			repository.NewProfileRepo(db),
			repository.NewContactRepo(db),
			Notification(),
			redisOverdueMarks{},
			queueDeadlineScheduler{},
		)
	})
	return checkInService
}

// CheckInStatus 打卡状态
type CheckInStatus string

const (
	CheckInStatusOnTime  CheckInStatus = "on_time"
	CheckInStatusDueSoon CheckInStatus = "due_soon"
	CheckInStatusOverdue CheckInStatus = "overdue"
)

// OverdueMarks 超期边沿触发标记的存取抽象
type OverdueMarks interface {
	TryMarkFired(ctx context.Context, userID, expiryAtMs int64) (bool, error)
	SetActive(ctx context.Context, userID, expiryAtMs int64) error
	IsActive(ctx context.Context, userID int64) (bool, error)
	ClearActive(ctx context.Context, userID int64) error
}

type redisOverdueMarks struct{}

func (redisOverdueMarks) TryMarkFired(ctx context.Context, userID, expiryAtMs int64) (bool, error) {
	return cache.TryMarkOverdueFired(ctx, userID, expiryAtMs)
}

func (redisOverdueMarks) SetActive(ctx context.Context, userID, expiryAtMs int64) error {
	return cache.SetOverdueActive(ctx, userID, expiryAtMs)
}

func (redisOverdueMarks) IsActive(ctx context.Context, userID int64) (bool, error) {
	return cache.IsOverdueActive(ctx, userID)
}

func (redisOverdueMarks) ClearActive(ctx context.Context, userID int64) error {
	return cache.ClearOverdueActive(ctx, userID)
}

// DeadlineScheduler 到期延迟消息投放抽象
type DeadlineScheduler interface {
	ScheduleDeadlineIfDue(ctx context.Context, userID int64, expiryAt time.Time) (bool, error)
}

type queueDeadlineScheduler struct{}

func (queueDeadlineScheduler) ScheduleDeadlineIfDue(ctx context.Context, userID int64, expiryAt time.Time) (bool, error) {
	return queue.ScheduleDeadlineIfDue(ctx, userID, expiryAt)
}

// CheckInService 打卡引擎
// 到期时间永远由 (最后打卡时间, 间隔) 推导；超期事件按 (用户, 到期时间) 边沿触发，
// 重复评估不会重复发事件
type CheckInService struct {
	profiles   repository.ProfileRepository
	contacts   repository.ContactRepository
	dispatcher EventDispatcher
	marks      OverdueMarks
	scheduler  DeadlineScheduler
}

func NewCheckInService(
	profiles repository.ProfileRepository,
	contacts repository.ContactRepository,
	dispatcher EventDispatcher,
	marks OverdueMarks,
	scheduler DeadlineScheduler,
) *CheckInService {
	return &CheckInService{
		profiles:   profiles,
		contacts:   contacts,
		dispatcher: dispatcher,
		marks:      marks,
		scheduler:  scheduler,
	}
}

// Evaluate 纯函数求状态
// Overdue: now >= 到期时间；DueSoon: 提前量开启且 now 已进入提前窗口
func Evaluate(lastCheckIn *time.Time, interval, leadTime time.Duration, now time.Time) CheckInStatus {
	if lastCheckIn == nil {
		return CheckInStatusOnTime // 从未打过卡，时钟尚未启动
	}

	expiry := lastCheckIn.Add(interval)
	if !now.Before(expiry) {
		return CheckInStatusOverdue
	}

	if leadTime > 0 && expiry.Sub(now) <= leadTime {
		return CheckInStatusDueSoon
	}

	return CheckInStatusOnTime
}

// PerformCheckIn 打卡：重置到期时钟，清除超期状态，重排到期消息
func (s *CheckInService) PerformCheckIn(ctx context.Context, userID int64, at *time.Time) (*dto.CheckInStatusData, error) {
	checkInAt := time.Now()
	if at != nil && !at.IsZero() {
		checkInAt = *at
	}

	profile, err := s.profiles.GetByPublicID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, pkgerrors.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	if err := s.profiles.UpdateFields(ctx, userID, map[string]interface{}{
		"last_check_in_at": checkInAt,
	}); err != nil {
		return nil, fmt.Errorf("failed to update check-in time: %w", err)
	}

	profile.LastCheckInAt = &checkInAt

	if err := invalidateProfileCache(ctx, userID); err != nil {
		logger.Logger.Warn("Failed to invalidate profile cache",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	}

	// 之前超期的话，这次打卡要发恢复事件
	wasOverdue, err := s.marks.IsActive(ctx, userID)
	if err != nil {
		logger.Logger.Warn("Failed to check overdue state",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	} else if wasOverdue {
		if err := s.marks.ClearActive(ctx, userID); err != nil {
			logger.Logger.Warn("Failed to clear overdue state",
				zap.Int64("user_id", userID),
				zap.Error(err),
			)
		}
		s.emitResolved(ctx, profile)
	}

	s.rescheduleDeadline(ctx, profile)

	return s.statusData(profile, time.Now()), nil
}

// SetInterval 更新间隔并从既有的最后打卡时间重算到期，不重置打卡时钟
func (s *CheckInService) SetInterval(ctx context.Context, userID int64, interval time.Duration) (*dto.CheckInStatusData, error) {
	minInterval := time.Duration(config.Cfg.CheckInMinIntervalMinutes) * time.Minute
	if interval < minInterval {
		return nil, pkgerrors.CheckInIntervalInvalid
	}

	profile, err := s.profiles.GetByPublicID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, pkgerrors.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	if err := s.profiles.UpdateFields(ctx, userID, map[string]interface{}{
		"check_in_interval_ms": interval.Milliseconds(),
	}); err != nil {
		return nil, fmt.Errorf("failed to update interval: %w", err)
	}

	profile.CheckInIntervalMs = interval.Milliseconds()

	if err := invalidateProfileCache(ctx, userID); err != nil {
		logger.Logger.Warn("Failed to invalidate profile cache",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	}

	s.rescheduleDeadline(ctx, profile)

	return s.statusData(profile, time.Now()), nil
}

// SetEmergencyAlert 紧急求救开关
// 开启时记录激活时间并向所有守护人发 critical 事件，关闭时清空并通知解除
func (s *CheckInService) SetEmergencyAlert(ctx context.Context, userID int64, enabled bool) (*dto.CheckInStatusData, error) {
	profile, err := s.profiles.GetByPublicID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, pkgerrors.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	if profile.EmergencyAlert == enabled {
		return s.statusData(profile, time.Now()), nil // 幂等，不重复发事件
	}

	fields := map[string]interface{}{"emergency_alert": enabled}
	var alertAt *time.Time
	if enabled {
		now := time.Now()
		alertAt = &now
		fields["emergency_alert_at"] = now
	} else {
		fields["emergency_alert_at"] = nil
	}

	if err := s.profiles.UpdateFields(ctx, userID, fields); err != nil {
		return nil, fmt.Errorf("failed to update emergency alert: %w", err)
	}

	profile.EmergencyAlert = enabled
	profile.EmergencyAlertAt = alertAt

	if err := invalidateProfileCache(ctx, userID); err != nil {
		logger.Logger.Warn("Failed to invalidate profile cache",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	}

	s.emitAlert(ctx, profile, enabled)

	return s.statusData(profile, time.Now()), nil
}

// Status 当前打卡状态
func (s *CheckInService) Status(ctx context.Context, userID int64) (*dto.CheckInStatusData, error) {
	profile, err := s.profiles.GetByPublicID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, pkgerrors.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	return s.statusData(profile, time.Now()), nil
}

// HandleDeadline 消费到期延迟消息
// 消息携带投放时的到期时间快照，与当前推导值不一致说明已重新打卡或改过间隔，直接作废
func (s *CheckInService) HandleDeadline(ctx context.Context, msg model.OverdueDeadlineMessage) error {
	profile, err := s.profiles.GetByPublicID(ctx, msg.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &pkgerrors.SkipMessageError{Reason: fmt.Sprintf("user %d no longer exists", msg.UserID)}
		}
		return fmt.Errorf("failed to load profile: %w", err)
	}

	expiry := profile.ExpiryAt()
	if expiry == nil || expiry.UnixMilli() != msg.ExpiryAtMs {
		return &pkgerrors.SkipMessageError{Reason: fmt.Sprintf("deadline %d is stale for user %d", msg.ExpiryAtMs, msg.UserID)}
	}

	if time.Now().Before(*expiry) {
		// 到期前不该收到，重排后跳过
		s.rescheduleDeadline(ctx, profile)
		return &pkgerrors.SkipMessageError{Reason: "deadline not reached yet"}
	}

	first, err := s.marks.TryMarkFired(ctx, msg.UserID, msg.ExpiryAtMs)
	if err != nil {
		return fmt.Errorf("failed to mark overdue fired: %w", err)
	}
	if !first {
		return &pkgerrors.SkipMessageError{Reason: fmt.Sprintf("overdue %d already fired for user %d", msg.ExpiryAtMs, msg.UserID)}
	}

	if err := s.marks.SetActive(ctx, msg.UserID, msg.ExpiryAtMs); err != nil {
		logger.Logger.Warn("Failed to set overdue active",
			zap.Int64("user_id", msg.UserID),
			zap.Error(err),
		)
	}

	s.emitOverdue(ctx, profile)
	return nil
}

// rescheduleDeadline 投放下一次到期消息，失败只记日志，定时扫描会兜底
func (s *CheckInService) rescheduleDeadline(ctx context.Context, profile *model.UserProfile) {
	expiry := profile.ExpiryAt()
	if expiry == nil {
		return
	}

	if _, err := s.scheduler.ScheduleDeadlineIfDue(ctx, profile.PublicID, *expiry); err != nil {
		logger.Logger.Warn("Failed to schedule deadline message",
			zap.Int64("user_id", profile.PublicID),
			zap.Time("expiry_at", *expiry),
			zap.Error(err),
		)
	}

	s.dispatcherScheduleDueSoon(ctx, profile)
}

// dispatcherScheduleDueSoon 提前提醒走通知服务的网关排期
func (s *CheckInService) dispatcherScheduleDueSoon(ctx context.Context, profile *model.UserProfile) {
	if ns, ok := s.dispatcher.(*NotificationService); ok {
		ns.ScheduleDueSoon(ctx, profile)
	}
}

// emitOverdue 超期事件：本人一条，每位守护人一条 critical
func (s *CheckInService) emitOverdue(ctx context.Context, profile *model.UserProfile) {
	now := time.Now()
	name := displayName(profile)

	s.record(ctx, model.Event{
		Type:       model.NotificationTypeNonResponsive,
		ActorID:    profile.PublicID,
		TargetID:   profile.PublicID,
		Title:      "打卡超期",
		Message:    "你的平安打卡已超期，请尽快打卡让大家放心",
		Priority:   model.NotificationPriorityHigh,
		OccurredAt: now,
	})

	responders, err := s.contacts.ListResponders(ctx, profile.PublicID)
	if err != nil {
		logger.Logger.Error("Failed to list responders for overdue event",
			zap.Int64("user_id", profile.PublicID),
			zap.Error(err),
		)
		return
	}

	for i := range responders {
		contactID := profile.PublicID
		s.record(ctx, model.Event{
			Type:             model.NotificationTypeDependentNonResponsive,
			ActorID:          profile.PublicID,
			TargetID:         responders[i].ContactID,
			Title:            "联系人失联",
			Message:          fmt.Sprintf("%s 的平安打卡已超期，请尽快确认对方是否平安", name),
			Priority:         model.NotificationPriorityCritical,
			RelatedContactID: &contactID,
			OccurredAt:       now,
		})
	}
}

// emitResolved 超期恢复事件
func (s *CheckInService) emitResolved(ctx context.Context, profile *model.UserProfile) {
	now := time.Now()
	name := displayName(profile)

	s.record(ctx, model.Event{
		Type:       model.NotificationTypeNonResponsiveResolved,
		ActorID:    profile.PublicID,
		TargetID:   profile.PublicID,
		Title:      "已恢复打卡",
		Message:    "超期状态已解除",
		Priority:   model.NotificationPriorityStandard,
		OccurredAt: now,
	})

	responders, err := s.contacts.ListResponders(ctx, profile.PublicID)
	if err != nil {
		logger.Logger.Error("Failed to list responders for resolved event",
			zap.Int64("user_id", profile.PublicID),
			zap.Error(err),
		)
		return
	}

	for i := range responders {
		contactID := profile.PublicID
		s.record(ctx, model.Event{
			Type:             model.NotificationTypeNonResponsiveResolved,
			ActorID:          profile.PublicID,
			TargetID:         responders[i].ContactID,
			Title:            "联系人已恢复",
			Message:          fmt.Sprintf("%s 已重新打卡，此前的失联警报解除", name),
			Priority:         model.NotificationPriorityStandard,
			RelatedContactID: &contactID,
			OccurredAt:       now,
		})
	}
}

// emitAlert 紧急求救事件
func (s *CheckInService) emitAlert(ctx context.Context, profile *model.UserProfile, enabled bool) {
	now := time.Now()
	name := displayName(profile)

	selfType := model.NotificationTypeAlertInactive
	selfTitle := "紧急求救已解除"
	selfMessage := "你的紧急求救已解除"
	depType := model.NotificationTypeDependentAlertInactive
	depTitle := "求救解除"
	depMessage := fmt.Sprintf("%s 已解除紧急求救", name)
	priority := model.NotificationPriorityStandard

	if enabled {
		selfType = model.NotificationTypeAlertActive
		selfTitle = "紧急求救已开启"
		selfMessage = "你的紧急求救已发出，守护人将收到警报"
		depType = model.NotificationTypeDependentAlertActive
		depTitle = "紧急求救"
		depMessage = fmt.Sprintf("%s 发出了紧急求救，请立即联系对方", name)
		priority = model.NotificationPriorityCritical
	}

	s.record(ctx, model.Event{
		Type:       selfType,
		ActorID:    profile.PublicID,
		TargetID:   profile.PublicID,
		Title:      selfTitle,
		Message:    selfMessage,
		Priority:   model.NotificationPriorityStandard,
		OccurredAt: now,
	})

	responders, err := s.contacts.ListResponders(ctx, profile.PublicID)
	if err != nil {
		logger.Logger.Error("Failed to list responders for alert event",
			zap.Int64("user_id", profile.PublicID),
			zap.Error(err),
		)
		return
	}

	for i := range responders {
		contactID := profile.PublicID
		s.record(ctx, model.Event{
			Type:             depType,
			ActorID:          profile.PublicID,
			TargetID:         responders[i].ContactID,
			Title:            depTitle,
			Message:          depMessage,
			Priority:         priority,
			RelatedContactID: &contactID,
			OccurredAt:       now,
		})
	}
}

// record 事件落地失败不反噬业务操作，只记日志
func (s *CheckInService) record(ctx context.Context, event model.Event) {
	if _, err := s.dispatcher.Record(ctx, event); err != nil {
		logger.Logger.Error("Failed to record event",
			zap.String("type", string(event.Type)),
			zap.Int64("target_id", event.TargetID),
			zap.Error(err),
		)
	}
}

func (s *CheckInService) statusData(profile *model.UserProfile, now time.Time) *dto.CheckInStatusData {
	status := Evaluate(profile.LastCheckInAt, profile.CheckInInterval(), profile.LeadTime(), now)

	return &dto.CheckInStatusData{
		Status:            string(status),
		LastCheckInAt:     profile.LastCheckInAt,
		ExpiryAt:          profile.ExpiryAt(),
		CheckInIntervalMs: profile.CheckInIntervalMs,
		LeadTimeMs:        profile.LeadTimeMs,
		EmergencyAlert:    profile.EmergencyAlert,
		EmergencyAlertAt:  profile.EmergencyAlertAt,
	}
}

func displayName(profile *model.UserProfile) string {
	if profile.DisplayName != "" {
		return profile.DisplayName
	}
	return "你的联系人"
}
