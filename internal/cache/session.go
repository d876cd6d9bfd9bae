package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	ri "github.com/redis/go-redis/v9"

	"StillOK/config"
	"StillOK/internal/model"
	"StillOK/storage/redis"
)

const (
	sessionPrefix = "session"
)

// SetSessionState 持久化会话状态
// Key: sok:session:state:{user_id}，TTL 与 refresh token 同步
func SetSessionState(ctx context.Context, userID int64, state *model.SessionState) error {
	key := redis.Key(sessionPrefix, "state", fmt.Sprintf("%d", userID))
	ttl := time.Duration(config.Cfg.JWTRefreshDays) * 24 * time.Hour

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}

	return redis.Client().Set(ctx, key, data, ttl).Err()
}

// GetSessionState 读取会话状态，不存在时返回 (nil, nil)
func GetSessionState(ctx context.Context, userID int64) (*model.SessionState, error) {
	key := redis.Key(sessionPrefix, "state", fmt.Sprintf("%d", userID))

	data, err := redis.Client().Get(ctx, key).Bytes()
	if err != nil {
		if err == ri.Nil {
			return nil, nil
		}
		return nil, err
	}

	var state model.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session state: %w", err)
	}
	return &state, nil
}

// DeleteSessionState 清除会话状态
func DeleteSessionState(ctx context.Context, userID int64) error {
	key := redis.Key(sessionPrefix, "state", fmt.Sprintf("%d", userID))
	return redis.Client().Del(ctx, key).Err()
}

// SetCurrentSessionID 记录当前有效的设备会话，新登录覆盖旧值
func SetCurrentSessionID(ctx context.Context, userID int64, sessionID string) error {
	key := redis.Key(sessionPrefix, "current", fmt.Sprintf("%d", userID))
	ttl := time.Duration(config.Cfg.JWTRefreshDays) * 24 * time.Hour

	return redis.Client().Set(ctx, key, sessionID, ttl).Err()
}

// GetCurrentSessionID 读取当前有效会话，不存在时返回空串
func GetCurrentSessionID(ctx context.Context, userID int64) (string, error) {
	key := redis.Key(sessionPrefix, "current", fmt.Sprintf("%d", userID))

	sessionID, err := redis.Client().Get(ctx, key).Result()
	if err != nil {
		if err == ri.Nil {
			return "", nil
		}
		return "", err
	}
	return sessionID, nil
}

// DeleteCurrentSessionID 清除会话标识
func DeleteCurrentSessionID(ctx context.Context, userID int64) error {
	key := redis.Key(sessionPrefix, "current", fmt.Sprintf("%d", userID))
	return redis.Client().Del(ctx, key).Err()
}
