package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	ri "github.com/redis/go-redis/v9"

	"StillOK/config"
	"StillOK/storage/redis"
)

// 验证码存储：sok:verify:{verification_id}
// 每日发送计数：sok:verify:count:{phoneHash}:{date}

const (
	verifyPrefix = "verify"

	// MaxVerifyAttempts 单个验证码最大试错次数
	MaxVerifyAttempts = 5
)

// VerificationEntry 验证码记录
type VerificationEntry struct {
	PhoneHash   string `json:"phone_hash"`
	PhoneCipher []byte `json:"phone_cipher"`
	PhoneRegion string `json:"phone_region"`
	Code        string `json:"code"`
	Attempts    int    `json:"attempts"`
}

// SetVerification 存储验证码记录，TTL 由配置决定
func SetVerification(ctx context.Context, verificationID string, entry *VerificationEntry) error {
	key := redis.Key(verifyPrefix, verificationID)
	ttl := time.Duration(config.Cfg.CaptchaExpireSeconds) * time.Second

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal verification entry: %w", err)
	}

	return redis.Client().Set(ctx, key, data, ttl).Err()
}

// GetVerification 读取验证码记录，过期或不存在返回 (nil, nil)
func GetVerification(ctx context.Context, verificationID string) (*VerificationEntry, error) {
	key := redis.Key(verifyPrefix, verificationID)

	data, err := redis.Client().Get(ctx, key).Bytes()
	if err != nil {
		if err == ri.Nil {
			return nil, nil
		}
		return nil, err
	}

	var entry VerificationEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal verification entry: %w", err)
	}
	return &entry, nil
}

// IncrVerifyAttempts 记录一次试错，保留原 TTL
func IncrVerifyAttempts(ctx context.Context, verificationID string, entry *VerificationEntry) error {
	key := redis.Key(verifyPrefix, verificationID)

	ttl, err := redis.Client().TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		return err
	}

	entry.Attempts++
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal verification entry: %w", err)
	}

	return redis.Client().Set(ctx, key, data, ttl).Err()
}

// DeleteVerification 验证码单次有效，验证通过后立即删除
func DeleteVerification(ctx context.Context, verificationID string) error {
	key := redis.Key(verifyPrefix, verificationID)
	return redis.Client().Del(ctx, key).Err()
}

// IncrDailySendCount 递增当日发送计数，返回递增后的值
// 过期时间设置到次日零点
func IncrDailySendCount(ctx context.Context, phoneHash string) (int64, error) {
	now := time.Now()
	date := now.Format("2006-01-02")
	key := redis.Key(verifyPrefix, "count", phoneHash, date)

	tomorrow := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())

	pipe := redis.Client().Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireAt(ctx, key, tomorrow)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment daily send count: %w", err)
	}

	return incr.Val(), nil
}
