package cache

import (
	"context"
)

// 二维码标识 -> 用户 public_id 的查询索引
// 空值保护：查不到的 code 也缓存，挡住恶意枚举打到数据库

type discoveryEntry struct {
	UserID int64 `json:"user_id"`
}

// SetDiscoveryIndex 建立 code 到用户的映射
func SetDiscoveryIndex(ctx context.Context, code string, userID int64) error {
	return DiscoveryProtectedCache.Set(ctx, code, &discoveryEntry{UserID: userID})
}

// MarkDiscoveryCodeUnknown 缓存空值，短 TTL
func MarkDiscoveryCodeUnknown(ctx context.Context, code string) error {
	return DiscoveryProtectedCache.Set(ctx, code, nil)
}

// ResolveDiscoveryCode 解析 code
// hit 为 true 且 userID 为 0 表示命中空值缓存（确认不存在）
func ResolveDiscoveryCode(ctx context.Context, code string) (userID int64, hit bool, err error) {
	var entry discoveryEntry
	hit, err = DiscoveryProtectedCache.Get(ctx, code, &entry)
	if err != nil || !hit {
		return 0, hit, err
	}
	return entry.UserID, true, nil
}

// DeleteDiscoveryIndex 轮换 code 后删除旧映射
func DeleteDiscoveryIndex(ctx context.Context, code string) error {
	return DiscoveryProtectedCache.Delete(ctx, code)
}
