package dto

import "time"

// ========== Contact 相关 DTO ==========

// ContactItem 联系人项，附带对方档案的展示字段
type ContactItem struct {
	UserID         string     `json:"user_id"`
	DisplayName    string     `json:"display_name"`
	MaskedPhone    string     `json:"masked_phone"`
	Note           string     `json:"note,omitempty"`
	IsResponder    bool       `json:"is_responder"`
	IsDependent    bool       `json:"is_dependent"`
	EmergencyAlert bool       `json:"emergency_alert"`
	LastCheckInAt  *time.Time `json:"last_check_in_at,omitempty"`
	ExpiryAt       *time.Time `json:"expiry_at,omitempty"`
	AddedAt        time.Time  `json:"added_at"`
}

// AddContactRequest 添加联系人请求
type AddContactRequest struct {
	DiscoveryCode string `json:"discovery_code" binding:"required"`
	AsResponder   bool   `json:"as_responder"`
	AsDependent   bool   `json:"as_dependent"`
}

// ToggleRoleRequest 切换角色请求
type ToggleRoleRequest struct {
	Role string `json:"role" binding:"required"` // responder | dependent
}
