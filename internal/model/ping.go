package model

import "time"

// PingStatus 确认请求状态枚举
type PingStatus string

const (
	PingStatusSent      PingStatus = "sent"      // 已发出，等待对方确认
	PingStatusResponded PingStatus = "responded" // 对方已确认
	PingStatusCanceled  PingStatus = "canceled"  // 发送方撤回
)

// IsTerminal Responded 和 Canceled 为终态，不再参与状态流转
func (s PingStatus) IsTerminal() bool {
	return s == PingStatusResponded || s == PingStatusCanceled
}

// PingRequest 安全确认请求
// 同一 (sender, recipient) 之间最多一条 Sent 状态的请求
type PingRequest struct {
	BaseModel
	PublicID    int64      `gorm:"uniqueIndex;not null" json:"public_id"`
	SenderID    int64      `gorm:"not null;uniqueIndex:idx_ping_requests_pair,where:status = 'sent'" json:"sender_id"`
	RecipientID int64      `gorm:"not null;uniqueIndex:idx_ping_requests_pair,where:status = 'sent';index:idx_ping_requests_recipient" json:"recipient_id"`
	Status      PingStatus `gorm:"type:varchar(16);not null;default:'sent';index" json:"status"`
	RespondedAt *time.Time `gorm:"type:timestamptz" json:"responded_at,omitempty"`
	CanceledAt  *time.Time `gorm:"type:timestamptz" json:"canceled_at,omitempty"`
}

// TableName 指定表名
func (PingRequest) TableName() string {
	return "ping_requests"
}
