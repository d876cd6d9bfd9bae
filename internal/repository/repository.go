// Package repository 定义存储访问接口，由具体后端实现
package repository

import (
	"context"
	"time"

	"StillOK/internal/model"
)

// ProfileRepository 用户档案存取
type ProfileRepository interface {
	Create(ctx context.Context, profile *model.UserProfile) error
	GetByPublicID(ctx context.Context, publicID int64) (*model.UserProfile, error)
	GetByPhoneHash(ctx context.Context, phoneHash string) (*model.UserProfile, error)
	GetByDiscoveryCode(ctx context.Context, code string) (*model.UserProfile, error)
	// UpdateFields 按字段更新，避免整行覆盖并发写入
	UpdateFields(ctx context.Context, publicID int64, fields map[string]interface{}) error
	// ListWithDeadlineBetween 查询推导到期时间落在 [from, to) 内的档案，调度扫描用
	ListWithDeadlineBetween(ctx context.Context, from, to time.Time) ([]model.UserProfile, error)
}

// ContactRepository 联系人关系存取
// 双行写入必须在同一事务内完成，不允许出现单侧关系
type ContactRepository interface {
	// CreatePair 同一事务写入正反两行
	CreatePair(ctx context.Context, owner, mirror *model.ContactRelation) error
	// DeletePair 同一事务删除正反两行
	DeletePair(ctx context.Context, ownerID, contactID int64) error
	Get(ctx context.Context, ownerID, contactID int64) (*model.ContactRelation, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]model.ContactRelation, error)
	// ListResponders 返回 owner 的全部守护人关系（is_responder = true）
	ListResponders(ctx context.Context, ownerID int64) ([]model.ContactRelation, error)
	// UpdateRolesPair 乐观锁更新正反两行的角色，版本不匹配时返回 ErrVersionConflict
	UpdateRolesPair(ctx context.Context, owner, mirror *model.ContactRelation) error
}

// PingRepository 确认请求存取
type PingRepository interface {
	Create(ctx context.Context, ping *model.PingRequest) error
	GetByPublicID(ctx context.Context, publicID int64) (*model.PingRequest, error)
	// GetSentByPair 查询 (sender, recipient) 间处于 Sent 状态的请求
	GetSentByPair(ctx context.Context, senderID, recipientID int64) (*model.PingRequest, error)
	ListByUser(ctx context.Context, userID int64) ([]model.PingRequest, error)
	ListSentToRecipient(ctx context.Context, recipientID int64) ([]model.PingRequest, error)
	// TransitionStatus 条件状态迁移，仅当当前状态为 from 时生效，返回是否命中
	TransitionStatus(ctx context.Context, publicID int64, from, to model.PingStatus, at time.Time) (bool, error)
}

// NotificationRepository 通知历史存取
type NotificationRepository interface {
	Create(ctx context.Context, item *model.NotificationItem) error
	GetByPublicID(ctx context.Context, userID, publicID int64) (*model.NotificationItem, error)
	// ListByUser 按创建时间倒序分页，cursor 为上一页最后一条的 public_id，0 表示首页
	ListByUser(ctx context.Context, userID, cursor int64, limit int) ([]model.NotificationItem, error)
	// MarkRead 幂等置已读，返回是否存在该通知
	MarkRead(ctx context.Context, userID, publicID int64) (bool, error)
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
}

// PendingActionRepository 离线待补投动作存取
type PendingActionRepository interface {
	Create(ctx context.Context, action *model.PendingNotificationAction) error
	// ListOldestFirst 按创建时间升序取一批，重试扫描用
	ListOldestFirst(ctx context.Context, limit int) ([]model.PendingNotificationAction, error)
	IncrementAttempt(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
}
