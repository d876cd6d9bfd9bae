package dto

import "time"

// ========== Ping 相关 DTO ==========

// PingItem 确认请求项
type PingItem struct {
	PingID      string     `json:"ping_id"`
	SenderID    string     `json:"sender_id"`
	RecipientID string     `json:"recipient_id"`
	Status      string     `json:"status"`
	SentAt      time.Time  `json:"sent_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
	CanceledAt  *time.Time `json:"canceled_at,omitempty"`
}

// SendPingRequest 发送确认请求
type SendPingRequest struct {
	RecipientID string `json:"recipient_id" binding:"required"`
}
