package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"StillOK/config"
	"StillOK/internal/cache"
	"StillOK/internal/model"
	"StillOK/internal/model/dto"
	"StillOK/internal/queue"
	"StillOK/internal/repository"
	pkgerrors "StillOK/pkg/errors"
	"StillOK/pkg/logger"
	"StillOK/pkg/metrics"
	"StillOK/pkg/push"
	"StillOK/pkg/snowflake"
	"StillOK/storage/database"
)

var (
	notificationService *NotificationService
	notificationOnce    sync.Once
)

func Notification() *NotificationService {
	notificationOnce.Do(func() {
		db := database.DB()
		notificationService = NewNotificationService(
			repository.NewNotificationRepo(db),
			repository.NewPendingActionRepo(db),
			repository.NewProfileRepo(db),
			push.GetClient(),
			queueDeliveryProducer{},
			redisScheduleStore{},
		)
	})
	return notificationService
}

// EventDispatcher 领域事件落地为通知的入口，其它 service 通过该接口发事件
type EventDispatcher interface {
	Record(ctx context.Context, event model.Event) (*model.NotificationItem, error)
}

// DeliveryProducer 投递任务发布抽象
type DeliveryProducer interface {
	PublishDelivery(msg model.DeliveryMessage) error
}

type queueDeliveryProducer struct{}

func (queueDeliveryProducer) PublishDelivery(msg model.DeliveryMessage) error {
	return queue.PublishDelivery(msg)
}

// ScheduleStore 已排期推送标识的存取抽象
type ScheduleStore interface {
	Set(ctx context.Context, userID int64, scheduleID string) error
	Get(ctx context.Context, userID int64) (string, error)
	Delete(ctx context.Context, userID int64) error
}

type redisScheduleStore struct{}

func (redisScheduleStore) Set(ctx context.Context, userID int64, scheduleID string) error {
	return cache.SetScheduledPushID(ctx, userID, scheduleID)
}

func (redisScheduleStore) Get(ctx context.Context, userID int64) (string, error) {
	return cache.GetScheduledPushID(ctx, userID)
}

func (redisScheduleStore) Delete(ctx context.Context, userID int64) error {
	return cache.DeleteScheduledPushID(ctx, userID)
}

// NotificationService 通知分发
// 本地落库永远先行且必须成功；远端投递失败降级为待补投动作，绝不反噬触发它的业务操作
type NotificationService struct {
	notifications repository.NotificationRepository
	pending       repository.PendingActionRepository
	profiles      repository.ProfileRepository
	push          push.Client
	producer      DeliveryProducer
	schedules     ScheduleStore
}

func NewNotificationService(
	notifications repository.NotificationRepository,
	pending repository.PendingActionRepository,
	profiles repository.ProfileRepository,
	pushClient push.Client,
	producer DeliveryProducer,
	schedules ScheduleStore,
) *NotificationService {
	return &NotificationService{
		notifications: notifications,
		pending:       pending,
		profiles:      profiles,
		push:          pushClient,
		producer:      producer,
		schedules:     schedules,
	}
}

// Record 把领域事件写入通知历史并尝试远端投递
// 返回的始终是本地已落库的记录，远端失败只会进入补投队列
func (s *NotificationService) Record(ctx context.Context, event model.Event) (*model.NotificationItem, error) {
	publicID, err := snowflake.NextID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate notification ID: %w", err)
	}

	item := &model.NotificationItem{
		PublicID:         publicID,
		UserID:           event.TargetID,
		Type:             event.Type,
		Title:            event.Title,
		Message:          event.Message,
		RelatedContactID: event.RelatedContactID,
		Metadata:         model.JSONB(event.Metadata),
	}

	if err := s.notifications.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to append notification: %w", err)
	}

	s.deliver(ctx, event, item)

	return item, nil
}

// deliver 远端投递，失败走补投队列
func (s *NotificationService) deliver(ctx context.Context, event model.Event, item *model.NotificationItem) {
	profile, err := s.profiles.GetByPublicID(ctx, event.TargetID)
	if err != nil {
		logger.Logger.Warn("Failed to load profile for delivery",
			zap.Int64("user_id", event.TargetID),
			zap.Error(err),
		)
		return
	}
	if profile.PushToken == "" {
		return // 设备未注册推送，本地记录即为最终状态
	}

	msg := model.DeliveryMessage{
		UserID:         event.TargetID,
		NotificationID: item.PublicID,
		Type:           string(event.Type),
		Title:          event.Title,
		Body:           event.Message,
		Priority:       string(event.Priority),
		PushToken:      profile.PushToken,
	}

	if err := s.producer.PublishDelivery(msg); err != nil {
		logger.Logger.Warn("Delivery publish failed, queueing pending action",
			zap.Int64("notification_id", item.PublicID),
			zap.Error(err),
		)
		if qerr := s.EnqueueDeliveryRetry(ctx, msg, event.Priority); qerr != nil {
			logger.Logger.Error("Failed to enqueue pending delivery",
				zap.Int64("notification_id", item.PublicID),
				zap.Error(qerr),
			)
		}
	}
}

// EnqueueDeliveryRetry 把一次失败的投递转为待补投动作，worker 侧也会调用
func (s *NotificationService) EnqueueDeliveryRetry(ctx context.Context, msg model.DeliveryMessage, priority model.NotificationPriority) error {
	payload := map[string]interface{}{
		"user_id":         msg.UserID,
		"notification_id": msg.NotificationID,
		"type":            msg.Type,
		"title":           msg.Title,
		"body":            msg.Body,
		"priority":        msg.Priority,
		"push_token":      msg.PushToken,
	}
	return s.EnqueueIfOffline(ctx, model.PendingOperationCreate, payload, priority)
}

// EnqueueIfOffline 远端调用因连接问题失败时入队
func (s *NotificationService) EnqueueIfOffline(ctx context.Context, op model.PendingOperation, payload map[string]interface{}, priority model.NotificationPriority) error {
	action := &model.PendingNotificationAction{
		ID:          uuid.NewString(),
		Operation:   op,
		Payload:     model.JSONB(payload),
		Priority:    priority,
		MaxAttempts: config.Cfg.PendingMaxAttempts,
	}

	if err := s.pending.Create(ctx, action); err != nil {
		return fmt.Errorf("failed to enqueue pending action: %w", err)
	}

	metrics.RecordPendingEnqueued(ctx, string(op), string(priority))
	return nil
}

// MarkRead 本地置已读后同步设备侧已读状态
func (s *NotificationService) MarkRead(ctx context.Context, userID, publicID int64) error {
	ok, err := s.notifications.MarkRead(ctx, userID, publicID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if !ok {
		return pkgerrors.NotificationNotFound
	}

	s.syncReadState(ctx, userID)
	return nil
}

// MarkAllRead 幂等，全部置已读，返回本次置位的条数
func (s *NotificationService) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	count, err := s.notifications.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all notifications read: %w", err)
	}

	s.syncReadState(ctx, userID)
	return count, nil
}

// syncReadState 向设备发一条静默数据推送刷新角标，失败转补投
func (s *NotificationService) syncReadState(ctx context.Context, userID int64) {
	profile, err := s.profiles.GetByPublicID(ctx, userID)
	if err != nil || profile.PushToken == "" {
		return
	}

	n := push.Notification{
		ID:       uuid.NewString(),
		Priority: push.PriorityLow,
		Data:     map[string]interface{}{"type": "read_sync"},
	}

	if err := s.push.Send(ctx, n, profile.PushToken); err != nil {
		logger.Logger.Warn("Read state sync failed, queueing pending action",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
		payload := map[string]interface{}{"user_id": userID}
		if qerr := s.EnqueueIfOffline(ctx, model.PendingOperationMarkRead, payload, model.NotificationPriorityLow); qerr != nil {
			logger.Logger.Error("Failed to enqueue read sync",
				zap.Int64("user_id", userID),
				zap.Error(qerr),
			)
		}
	}
}

// ScheduleDueSoon 按提前量在网关排期一条提醒推送
// 打卡或改间隔后调用，旧排期先撤销，保证不会对着过期的到期时间提醒
func (s *NotificationService) ScheduleDueSoon(ctx context.Context, profile *model.UserProfile) {
	s.CancelDueSoon(ctx, profile.PublicID)

	expiry := profile.ExpiryAt()
	leadTime := profile.LeadTime()
	if expiry == nil || leadTime <= 0 || profile.PushToken == "" {
		return
	}

	delay := time.Until(expiry.Add(-leadTime))
	if delay <= 0 {
		return
	}

	n := push.Notification{
		ID:       uuid.NewString(),
		Title:    "打卡提醒",
		Body:     "你的平安打卡即将到期，记得报个平安",
		Priority: push.PriorityHigh,
		Data:     map[string]interface{}{"type": "due_soon"},
	}

	scheduleID, err := s.push.Schedule(ctx, n, delay, profile.PushToken)
	if err != nil {
		logger.Logger.Warn("Failed to schedule due-soon push",
			zap.Int64("user_id", profile.PublicID),
			zap.Error(err),
		)
		return // 提前提醒尽力而为，到期告警不依赖它
	}

	if err := s.schedules.Set(ctx, profile.PublicID, scheduleID); err != nil {
		logger.Logger.Warn("Failed to record schedule ID",
			zap.Int64("user_id", profile.PublicID),
			zap.Error(err),
		)
	}
}

// CancelDueSoon 撤销已排期的提前提醒，撤销失败转补投
func (s *NotificationService) CancelDueSoon(ctx context.Context, userID int64) {
	scheduleID, err := s.schedules.Get(ctx, userID)
	if err != nil || scheduleID == "" {
		return
	}

	if err := s.push.CancelScheduled(ctx, scheduleID); err != nil {
		logger.Logger.Warn("Failed to cancel scheduled push, queueing pending action",
			zap.Int64("user_id", userID),
			zap.String("schedule_id", scheduleID),
			zap.Error(err),
		)
		payload := map[string]interface{}{"schedule_id": scheduleID}
		if qerr := s.EnqueueIfOffline(ctx, model.PendingOperationClear, payload, model.NotificationPriorityLow); qerr != nil {
			logger.Logger.Error("Failed to enqueue schedule cancel",
				zap.Int64("user_id", userID),
				zap.Error(qerr),
			)
		}
	}

	if err := s.schedules.Delete(ctx, userID); err != nil {
		logger.Logger.Warn("Failed to delete schedule ID",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	}
}

// RetrySweep 遍历补投队列：过期先丢，尝试成功出队，失败计数，次数耗尽丢弃
func (s *NotificationService) RetrySweep(ctx context.Context, now time.Time) error {
	standardTTL := time.Duration(config.Cfg.PendingStandardExpireHours) * time.Hour
	criticalTTL := time.Duration(config.Cfg.PendingCriticalExpireHours) * time.Hour

	actions, err := s.pending.ListOldestFirst(ctx, 100)
	if err != nil {
		return fmt.Errorf("failed to list pending actions: %w", err)
	}

	for i := range actions {
		action := &actions[i]

		if action.IsExpired(now, standardTTL, criticalTTL) {
			s.dropPending(ctx, action, "expired")
			continue
		}

		err := s.attemptPending(ctx, action)
		if err == nil {
			if derr := s.pending.Delete(ctx, action.ID); derr != nil {
				logger.Logger.Warn("Failed to remove delivered pending action",
					zap.String("action_id", action.ID),
					zap.Error(derr),
				)
			}
			metrics.RecordPendingRetried(ctx, string(action.Operation), true)
			metrics.RecordPendingResolved(ctx, string(action.Operation))
			continue
		}

		var perm *pkgerrors.PermanentError
		if errors.As(err, &perm) {
			logger.Logger.Warn("Dropping pending action with permanent failure",
				zap.String("action_id", action.ID),
				zap.Error(err),
			)
			s.dropPending(ctx, action, "permanent")
			continue
		}

		metrics.RecordPendingRetried(ctx, string(action.Operation), false)

		if ierr := s.pending.IncrementAttempt(ctx, action.ID); ierr != nil {
			logger.Logger.Warn("Failed to increment attempt count",
				zap.String("action_id", action.ID),
				zap.Error(ierr),
			)
			continue
		}

		action.AttemptCount++
		if !action.CanRetry() {
			s.dropPending(ctx, action, "exhausted")
		}
	}

	return nil
}

func (s *NotificationService) dropPending(ctx context.Context, action *model.PendingNotificationAction, reason string) {
	if err := s.pending.Delete(ctx, action.ID); err != nil {
		logger.Logger.Warn("Failed to drop pending action",
			zap.String("action_id", action.ID),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return
	}
	metrics.RecordPendingDropped(ctx, string(action.Operation), reason)
}

// attemptPending 按操作类型执行一次补投
func (s *NotificationService) attemptPending(ctx context.Context, action *model.PendingNotificationAction) error {
	switch action.Operation {
	case model.PendingOperationCreate:
		var msg model.DeliveryMessage
		if err := decodePayload(action.Payload, &msg); err != nil {
			return pkgerrors.Permanent(err)
		}
		if msg.PushToken == "" || msg.Title == "" {
			return pkgerrors.Permanent(pkgerrors.PendingPayloadBad)
		}

		n := push.Notification{
			ID:       strconv.FormatInt(msg.NotificationID, 10),
			Title:    msg.Title,
			Body:     msg.Body,
			Priority: push.Priority(msg.Priority),
			Data:     pushData(msg.Data),
		}
		return s.push.Send(ctx, n, msg.PushToken)

	case model.PendingOperationMarkRead:
		userID, ok := payloadInt64(action.Payload, "user_id")
		if !ok {
			return pkgerrors.Permanent(pkgerrors.PendingPayloadBad)
		}

		profile, err := s.profiles.GetByPublicID(ctx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return pkgerrors.Permanent(err) // 用户已不存在，不再补投
			}
			return err
		}
		if profile.PushToken == "" {
			return pkgerrors.Permanent(fmt.Errorf("no push token for user %d", userID))
		}

		n := push.Notification{
			ID:       uuid.NewString(),
			Priority: push.PriorityLow,
			Data:     map[string]interface{}{"type": "read_sync"},
		}
		return s.push.Send(ctx, n, profile.PushToken)

	case model.PendingOperationClear:
		scheduleID, _ := action.Payload["schedule_id"].(string)
		if scheduleID == "" {
			return pkgerrors.Permanent(pkgerrors.PendingPayloadBad)
		}
		return s.push.CancelScheduled(ctx, scheduleID)

	default:
		return pkgerrors.Permanent(fmt.Errorf("unknown pending operation: %s", action.Operation))
	}
}

// History 通知历史，按创建时间倒序
func (s *NotificationService) History(ctx context.Context, userID int64, query dto.NotificationListQuery) (*dto.NotificationListResponse, error) {
	limit := query.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var cursor int64
	if query.Cursor != "" {
		parsed, err := strconv.ParseInt(query.Cursor, 10, 64)
		if err != nil {
			return nil, pkgerrors.NotificationNotFound
		}
		cursor = parsed
	}

	items, err := s.notifications.ListByUser(ctx, userID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}

	resp := &dto.NotificationListResponse{
		Items: make([]dto.NotificationItemData, 0, len(items)),
	}
	for i := range items {
		item := &items[i]
		data := dto.NotificationItemData{
			ID:        strconv.FormatInt(item.PublicID, 10),
			Type:      string(item.Type),
			Title:     item.Title,
			Message:   item.Message,
			Read:      item.Read,
			Metadata:  item.Metadata,
			CreatedAt: item.CreatedAt,
		}
		if item.RelatedContactID != nil {
			data.RelatedContactID = strconv.FormatInt(*item.RelatedContactID, 10)
		}
		resp.Items = append(resp.Items, data)
	}

	if len(items) == limit {
		resp.NextCursor = strconv.FormatInt(items[len(items)-1].PublicID, 10)
	}

	return resp, nil
}

// ApplyStream 应用推送网关的通知流消息，worker 消费者按到达顺序调用
// 历史批次和增量更新走同一条合并路径：缺的补建，已有的只合并已读标志
func (s *NotificationService) ApplyStream(ctx context.Context, msg model.NotificationStreamMessage) error {
	switch msg.Tag {
	case model.StreamTagInitialHistory, model.StreamTagUpdate:
	default:
		return pkgerrors.Permanent(fmt.Errorf("unknown stream tag: %s", msg.Tag))
	}

	for i := range msg.Items {
		if err := s.applyStreamItem(ctx, msg.UserID, &msg.Items[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *NotificationService) applyStreamItem(ctx context.Context, userID int64, item *model.StreamNotification) error {
	if item.NotificationID == 0 || item.Title == "" {
		return pkgerrors.Permanent(fmt.Errorf("stream item missing notification id or title"))
	}

	existing, err := s.notifications.GetByPublicID(ctx, userID, item.NotificationID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("failed to load notification: %w", err)
		}
		record := &model.NotificationItem{
			PublicID: item.NotificationID,
			UserID:   userID,
			Type:     model.NotificationType(item.Type),
			Title:    item.Title,
			Message:  item.Message,
			Read:     item.Read,
		}
		if err := s.notifications.Create(ctx, record); err != nil {
			return fmt.Errorf("failed to hydrate notification: %w", err)
		}
		return nil
	}

	// 重放只合并已读标志，本地已读不回退
	if item.Read && !existing.Read {
		if _, err := s.notifications.MarkRead(ctx, userID, item.NotificationID); err != nil {
			return fmt.Errorf("failed to merge read flag: %w", err)
		}
	}
	return nil
}

func pushData(data map[string]string) map[string]interface{} {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

// decodePayload JSONB 负载转回结构体
func decodePayload(payload model.JSONB, dest interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// payloadInt64 JSON 数字解码为 float64，取整返回
func payloadInt64(payload model.JSONB, key string) (int64, bool) {
	switch v := payload[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}
