package cache

import (
	"context"
	"strconv"

	"StillOK/internal/model"
)

// 档案快照缓存，worker/scheduler 取推送令牌和打卡设置时优先走缓存

// SetProfileSnapshot 写入档案快照
func SetProfileSnapshot(ctx context.Context, profile *model.UserProfile) error {
	key := strconv.FormatInt(profile.PublicID, 10)
	return ProfileProtectedCache.Set(ctx, key, profile)
}

// GetProfileSnapshot 读取档案快照，未命中返回 (nil, nil)
func GetProfileSnapshot(ctx context.Context, userID int64) (*model.UserProfile, error) {
	key := strconv.FormatInt(userID, 10)

	var profile model.UserProfile
	hit, err := ProfileProtectedCache.Get(ctx, key, &profile)
	if err != nil || !hit {
		return nil, err
	}
	return &profile, nil
}

// InvalidateProfile 档案变更后删除快照
func InvalidateProfile(ctx context.Context, userID int64) error {
	key := strconv.FormatInt(userID, 10)
	return ProfileProtectedCache.Delete(ctx, key)
}
