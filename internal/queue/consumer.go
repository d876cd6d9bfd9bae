package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"StillOK/internal/cache"
	"StillOK/internal/model"
	pkgerrors "StillOK/pkg/errors"
	"StillOK/pkg/logger"
	"StillOK/pkg/metrics"
	"StillOK/pkg/push"
	"StillOK/storage/mq"
)

// DeadlineHandler 处理打卡到期消息
type DeadlineHandler interface {
	HandleDeadline(ctx context.Context, msg model.OverdueDeadlineMessage) error
}

// RetryEnqueuer 投递失败后转入离线重试队列
type RetryEnqueuer interface {
	EnqueueDeliveryRetry(ctx context.Context, msg model.DeliveryMessage, priority model.NotificationPriority) error
}

// StreamApplier 通知流消息落地入口
type StreamApplier interface {
	ApplyStream(ctx context.Context, msg model.NotificationStreamMessage) error
}

var (
	deadlineHandler DeadlineHandler
	retryEnqueuer   RetryEnqueuer
	streamApplier   StreamApplier
)

// SetDeadlineHandler 注入到期处理器（worker 启动时调用，避免包级循环依赖）
func SetDeadlineHandler(h DeadlineHandler) {
	deadlineHandler = h
}

// SetRetryEnqueuer 注入重试入队器（worker 启动时调用）
func SetRetryEnqueuer(e RetryEnqueuer) {
	retryEnqueuer = e
}

// SetStreamApplier 注入通知流落地器（worker 启动时调用）
func SetStreamApplier(a StreamApplier) {
	streamApplier = a
}

// StartDeliveryConsumer 启动推送投递消费者
// 幂等靠 SETNX 消息标记；瞬时失败转入离线重试队列后即 ack，
// 永久失败直接丢弃，不反复占用队列
func StartDeliveryConsumer(ctx context.Context) error {
	handler := func(body []byte) error {
		var msg model.DeliveryMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			return &pkgerrors.SkipMessageError{Reason: fmt.Sprintf("malformed delivery message: %v", err)}
		}

		processing, err := cache.TryMarkMessageProcessing(ctx, msg.MessageID, 24*time.Hour)
		if err != nil {
			logger.Logger.Warn("Failed to check message processed status",
				zap.String("message_id", msg.MessageID),
				zap.Error(err),
			)
			// 检查失败继续处理，宁可重复不可丢失
		} else if !processing {
			return &pkgerrors.SkipMessageError{Reason: fmt.Sprintf("message %s already processed", msg.MessageID)}
		}

		if msg.PushToken == "" {
			markProcessed(ctx, msg.MessageID)
			return &pkgerrors.SkipMessageError{Reason: fmt.Sprintf("message %s has no push token", msg.MessageID)}
		}

		notification := push.Notification{
			ID:       msg.MessageID,
			Title:    msg.Title,
			Body:     msg.Body,
			Priority: push.Priority(msg.Priority),
			Data:     deliveryData(msg),
		}

		start := time.Now()
		sendErr := push.GetClient().Send(ctx, notification, msg.PushToken)
		if sendErr == nil {
			metrics.RecordDelivered(ctx, msg.Type, time.Since(start).Seconds())
			markProcessed(ctx, msg.MessageID)

			logger.Logger.Info("Delivered notification",
				zap.String("message_id", msg.MessageID),
				zap.Int64("user_id", msg.UserID),
				zap.String("type", msg.Type),
			)
			return nil
		}

		if pkgerrors.IsPermanent(sendErr) {
			metrics.RecordDeliveryFailed(ctx, msg.Type, "permanent")
			markProcessed(ctx, msg.MessageID)
			return &pkgerrors.SkipMessageError{Reason: fmt.Sprintf("permanent delivery failure: %v", sendErr)}
		}

		metrics.RecordDeliveryFailed(ctx, msg.Type, "transient")

		if retryEnqueuer == nil {
			if err := cache.UnmarkMessageProcessing(ctx, msg.MessageID); err != nil {
				logger.Logger.Warn("Failed to unmark message processing",
					zap.String("message_id", msg.MessageID),
					zap.Error(err),
				)
			}
			return fmt.Errorf("failed to deliver and no retry enqueuer: %w", sendErr)
		}

		if err := retryEnqueuer.EnqueueDeliveryRetry(ctx, msg, model.NotificationPriority(msg.Priority)); err != nil {
			// 既没送达也没入重试队列，退回队列重投
			if unmarkErr := cache.UnmarkMessageProcessing(ctx, msg.MessageID); unmarkErr != nil {
				logger.Logger.Warn("Failed to unmark message processing",
					zap.String("message_id", msg.MessageID),
					zap.Error(unmarkErr),
				)
			}
			return fmt.Errorf("failed to enqueue delivery retry: %w", err)
		}

		markProcessed(ctx, msg.MessageID)

		logger.Logger.Info("Delivery moved to retry queue",
			zap.String("message_id", msg.MessageID),
			zap.Int64("user_id", msg.UserID),
			zap.Error(sendErr),
		)
		return nil
	}

	return mq.Consume(ctx, mq.ConsumeOptions{
		Queue:         mq.QueueNotifyDeliver,
		ConsumerTag:   "notify_deliver_consumer",
		PrefetchCount: 20,
		Handler:       handler,
	})
}

// StartDeadlineConsumer 启动打卡到期消费者
func StartDeadlineConsumer(ctx context.Context) error {
	handler := func(body []byte) error {
		var msg model.OverdueDeadlineMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			return &pkgerrors.SkipMessageError{Reason: fmt.Sprintf("malformed deadline message: %v", err)}
		}

		if deadlineHandler == nil {
			return fmt.Errorf("deadline handler not initialized")
		}

		processing, err := cache.TryMarkMessageProcessing(ctx, msg.MessageID, 24*time.Hour)
		if err != nil {
			logger.Logger.Warn("Failed to check message processed status",
				zap.String("message_id", msg.MessageID),
				zap.Error(err),
			)
		} else if !processing {
			return &pkgerrors.SkipMessageError{Reason: fmt.Sprintf("message %s already processed", msg.MessageID)}
		}

		logger.Logger.Info("Processing deadline message",
			zap.String("message_id", msg.MessageID),
			zap.Int64("user_id", msg.UserID),
			zap.Int64("expiry_at_ms", msg.ExpiryAtMs),
		)

		if err := deadlineHandler.HandleDeadline(ctx, msg); err != nil {
			if pkgerrors.IsSkipMessageError(err) {
				// 到期快照已过时之类的情况，按已处理记账后跳过
				markProcessed(ctx, msg.MessageID)
				return err
			}

			if unmarkErr := cache.UnmarkMessageProcessing(ctx, msg.MessageID); unmarkErr != nil {
				logger.Logger.Warn("Failed to unmark message processing",
					zap.String("message_id", msg.MessageID),
					zap.Error(unmarkErr),
				)
			}
			return fmt.Errorf("failed to handle deadline: %w", err)
		}

		markProcessed(ctx, msg.MessageID)
		return nil
	}

	return mq.Consume(ctx, mq.ConsumeOptions{
		Queue:         mq.QueueDeadlineOverdue,
		ConsumerTag:   "deadline_overdue_consumer",
		PrefetchCount: 10,
		Handler:       handler,
	})
}

// StartStreamConsumer 启动通知流消费者
// 历史批次在前、增量更新在后的到达顺序必须保持，prefetch 固定为 1，
// 单消费者串行应用；永久失败（未知标签、缺字段）丢弃，瞬时失败退回重投
func StartStreamConsumer(ctx context.Context) error {
	handler := func(body []byte) error {
		var msg model.NotificationStreamMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			return &pkgerrors.SkipMessageError{Reason: fmt.Sprintf("malformed stream message: %v", err)}
		}

		if streamApplier == nil {
			return fmt.Errorf("stream applier not initialized")
		}

		processing, err := cache.TryMarkMessageProcessing(ctx, msg.MessageID, 24*time.Hour)
		if err != nil {
			logger.Logger.Warn("Failed to check message processed status",
				zap.String("message_id", msg.MessageID),
				zap.Error(err),
			)
		} else if !processing {
			return &pkgerrors.SkipMessageError{Reason: fmt.Sprintf("message %s already processed", msg.MessageID)}
		}

		if err := streamApplier.ApplyStream(ctx, msg); err != nil {
			if pkgerrors.IsPermanent(err) {
				markProcessed(ctx, msg.MessageID)
				return &pkgerrors.SkipMessageError{Reason: fmt.Sprintf("unusable stream message: %v", err)}
			}

			if unmarkErr := cache.UnmarkMessageProcessing(ctx, msg.MessageID); unmarkErr != nil {
				logger.Logger.Warn("Failed to unmark message processing",
					zap.String("message_id", msg.MessageID),
					zap.Error(unmarkErr),
				)
			}
			return fmt.Errorf("failed to apply stream message: %w", err)
		}

		markProcessed(ctx, msg.MessageID)

		logger.Logger.Info("Applied stream message",
			zap.String("message_id", msg.MessageID),
			zap.Int64("user_id", msg.UserID),
			zap.String("tag", string(msg.Tag)),
			zap.Int("items", len(msg.Items)),
		)
		return nil
	}

	return mq.Consume(ctx, mq.ConsumeOptions{
		Queue:         mq.QueueNotifyStream,
		ConsumerTag:   "notify_stream_consumer",
		PrefetchCount: 1,
		Handler:       handler,
	})
}

// StartAllConsumers 启动所有消费者（worker 启动时调用），ctx 取消后一并退出
func StartAllConsumers(ctx context.Context) {
	var wg sync.WaitGroup

	consumers := []struct {
		name     string
		consumer func(context.Context) error
	}{
		{"notify_deliver", StartDeliveryConsumer},
		{"notify_stream", StartStreamConsumer},
		{"deadline_overdue", StartDeadlineConsumer},
	}

	for _, c := range consumers {
		wg.Add(1)
		go func(name string, consumer func(context.Context) error) {
			defer wg.Done()

			logger.Logger.Info("Starting consumer",
				zap.String("consumer_name", name),
			)

			if err := consumer(ctx); err != nil {
				logger.Logger.Error("Consumer exited with error",
					zap.String("consumer_name", name),
					zap.Error(err),
				)
			}
		}(c.name, c.consumer)
	}

	wg.Wait()
}

func markProcessed(ctx context.Context, messageID string) {
	if err := cache.MarkMessageProcessed(ctx, messageID, 48*time.Hour); err != nil {
		logger.Logger.Warn("Failed to mark message as processed",
			zap.String("message_id", messageID),
			zap.Error(err),
		)
	}
}

func deliveryData(msg model.DeliveryMessage) map[string]interface{} {
	if len(msg.Data) == 0 {
		return nil
	}
	data := make(map[string]interface{}, len(msg.Data))
	for k, v := range msg.Data {
		data[k] = v
	}
	return data
}
