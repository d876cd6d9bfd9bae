package queue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"StillOK/internal/cache"
	"StillOK/internal/model"
	"StillOK/pkg/logger"
	"StillOK/pkg/snowflake"
	"StillOK/storage/mq"
)

// PublishDelivery 发布推送投递任务
func PublishDelivery(msg model.DeliveryMessage) error {
	if msg.MessageID == "" {
		id, err := snowflake.NextID()
		if err != nil {
			logger.Logger.Error("Failed to generate message ID",
				zap.Int64("notification_id", msg.NotificationID),
				zap.Error(err),
			)
			return fmt.Errorf("failed to generate message ID: %w", err)
		}
		msg.MessageID = fmt.Sprintf("deliver_%d", id)
	}
	if msg.ScheduledAt == "" {
		msg.ScheduledAt = time.Now().Format(time.RFC3339)
	}

	err := mq.PublishMessage(
		mq.ExchangeNotify,
		"notify.deliver."+msg.Priority,
		msg,
	)

	if err != nil {
		logger.Logger.Error("Failed to publish delivery message",
			zap.String("message_id", msg.MessageID),
			zap.Int64("user_id", msg.UserID),
			zap.String("type", msg.Type),
			zap.Error(err),
		)
		return err
	}

	logger.Logger.Info("Published delivery message",
		zap.String("message_id", msg.MessageID),
		zap.Int64("user_id", msg.UserID),
		zap.String("type", msg.Type),
		zap.String("priority", msg.Priority),
	)

	return nil
}

// ScheduleDeadlineIfDue 为一次打卡到期投放延迟消息
// 延迟超过 24 小时不投放（RabbitMQ 延迟消息的限制），留给定时扫描补投
// 同一 (用户, 到期时间) 只投放一次，返回是否已投放
func ScheduleDeadlineIfDue(ctx context.Context, userID int64, expiryAt time.Time) (bool, error) {
	now := time.Now()
	delay := expiryAt.Sub(now)

	if delay < 0 {
		delay = 0
	}

	if delay > 24*time.Hour {
		return false, nil
	}

	expiryAtMs := expiryAt.UnixMilli()

	scheduled, err := cache.IsDeadlineScheduled(ctx, userID, expiryAtMs)
	if err != nil {
		logger.Logger.Warn("Failed to check deadline scheduled status",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
		// 检查失败时继续投放，消费端靠消息幂等去重
	} else if scheduled {
		return false, nil
	}

	id, err := snowflake.NextID()
	if err != nil {
		return false, fmt.Errorf("failed to generate message ID: %w", err)
	}

	msg := model.OverdueDeadlineMessage{
		MessageID:   fmt.Sprintf("deadline_%d_%d_%d", userID, expiryAtMs, id),
		UserID:      userID,
		ExpiryAtMs:  expiryAtMs,
		ScheduledAt: now.Format(time.RFC3339),
	}

	err = mq.PublishDelayedMessage(
		mq.ExchangeDelayed, // exchange
		"deadline.overdue", // routing key
		delay,              // delay
		msg,                // body
	)
	if err != nil {
		logger.Logger.Error("Failed to publish deadline message",
			zap.Int64("user_id", userID),
			zap.Time("expiry_at", expiryAt),
			zap.Error(err),
		)
		return false, err
	}

	if err := cache.MarkDeadlineScheduled(ctx, userID, expiryAtMs); err != nil {
		logger.Logger.Warn("Failed to mark deadline scheduled",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	}

	logger.Logger.Info("Published deadline message",
		zap.String("message_id", msg.MessageID),
		zap.Int64("user_id", userID),
		zap.Time("expiry_at", expiryAt),
		zap.Duration("delay", delay),
	)

	return true, nil
}
