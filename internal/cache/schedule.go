package cache

import (
	"context"
	"fmt"
	"time"

	ri "github.com/redis/go-redis/v9"

	"StillOK/storage/redis"
)

// 已排期的提前提醒推送，记下网关返回的 schedule id 方便打卡后撤销

const (
	scheduledPushPrefix = "push:scheduled"

	scheduledPushTTL = 7 * 24 * time.Hour
)

// SetScheduledPushID 记录用户当前的已排期推送
func SetScheduledPushID(ctx context.Context, userID int64, scheduleID string) error {
	key := redis.Key(scheduledPushPrefix, fmt.Sprintf("%d", userID))
	return redis.Client().Set(ctx, key, scheduleID, scheduledPushTTL).Err()
}

// GetScheduledPushID 读取已排期推送，没有时返回空串
func GetScheduledPushID(ctx context.Context, userID int64) (string, error) {
	key := redis.Key(scheduledPushPrefix, fmt.Sprintf("%d", userID))

	scheduleID, err := redis.Client().Get(ctx, key).Result()
	if err != nil {
		if err == ri.Nil {
			return "", nil
		}
		return "", err
	}
	return scheduleID, nil
}

// DeleteScheduledPushID 清除记录
func DeleteScheduledPushID(ctx context.Context, userID int64) error {
	key := redis.Key(scheduledPushPrefix, fmt.Sprintf("%d", userID))
	return redis.Client().Del(ctx, key).Err()
}
