package cache

import (
	"context"
	"fmt"
	"time"

	"StillOK/storage/redis"
)

const (
	// 超期事件按 (用户, 到期时间) 去重，保证每次状态翻转只发一轮通知
	overdueFiredPrefix  = "checkin:overdue:fired"
	overdueActivePrefix = "checkin:overdue:active"
	// 延迟消息投放去重
	deadlineScheduledPrefix = "checkin:deadline:scheduled"

	overdueFiredTTL      = 48 * time.Hour
	deadlineScheduledTTL = 48 * time.Hour
)

// TryMarkOverdueFired 尝试标记某次到期已触发（SETNX 边沿触发）
// 返回 true 表示首次触发，应发出超期事件；false 表示该到期已处理过
func TryMarkOverdueFired(ctx context.Context, userID, expiryAtMs int64) (bool, error) {
	key := redis.Key(overdueFiredPrefix, fmt.Sprintf("%d", userID), fmt.Sprintf("%d", expiryAtMs))

	result, err := redis.Client().SetNX(ctx, key, "1", overdueFiredTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark overdue fired: %w", err)
	}
	return result, nil
}

// SetOverdueActive 记录用户当前处于超期状态
func SetOverdueActive(ctx context.Context, userID, expiryAtMs int64) error {
	key := redis.Key(overdueActivePrefix, fmt.Sprintf("%d", userID))
	return redis.Client().Set(ctx, key, expiryAtMs, overdueFiredTTL).Err()
}

// IsOverdueActive 用户是否处于超期状态，打卡时据此决定要不要发恢复事件
func IsOverdueActive(ctx context.Context, userID int64) (bool, error) {
	key := redis.Key(overdueActivePrefix, fmt.Sprintf("%d", userID))

	result, err := redis.Client().Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check overdue active: %w", err)
	}
	return result > 0, nil
}

// ClearOverdueActive 清除超期状态（打卡后调用）
func ClearOverdueActive(ctx context.Context, userID int64) error {
	key := redis.Key(overdueActivePrefix, fmt.Sprintf("%d", userID))
	return redis.Client().Del(ctx, key).Err()
}

// IsDeadlineScheduled 检查某次到期的延迟消息是否已投放
func IsDeadlineScheduled(ctx context.Context, userID, expiryAtMs int64) (bool, error) {
	key := redis.Key(deadlineScheduledPrefix, fmt.Sprintf("%d", userID), fmt.Sprintf("%d", expiryAtMs))

	result, err := redis.Client().Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check deadline scheduled status: %w", err)
	}
	return result > 0, nil
}

// MarkDeadlineScheduled 标记某次到期的延迟消息已投放
func MarkDeadlineScheduled(ctx context.Context, userID, expiryAtMs int64) error {
	key := redis.Key(deadlineScheduledPrefix, fmt.Sprintf("%d", userID), fmt.Sprintf("%d", expiryAtMs))
	return redis.Client().Set(ctx, key, "1", deadlineScheduledTTL).Err()
}
