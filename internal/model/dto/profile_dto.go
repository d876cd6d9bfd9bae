package dto

import "time"

// ========== Profile 相关 DTO ==========

// ProfileSnapshot 用户档案快照
type ProfileSnapshot struct {
	ID                string     `json:"id"`
	DisplayName       string     `json:"display_name"`
	PhoneMasked       string     `json:"phone_masked"`
	PhoneRegion       string     `json:"phone_region"`
	Note              string     `json:"note"`
	CheckInIntervalMs int64      `json:"check_in_interval_ms"`
	LastCheckInAt     *time.Time `json:"last_check_in_at,omitempty"`
	ExpiryAt          *time.Time `json:"expiry_at,omitempty"`
	LeadTimeMs        int64      `json:"lead_time_ms"`
	EmergencyAlert    bool       `json:"emergency_alert"`
	EmergencyAlertAt  *time.Time `json:"emergency_alert_at,omitempty"`
	DiscoveryCode     string     `json:"discovery_code"`
}

// UpdateProfileRequest 更新档案请求，nil 字段不变
type UpdateProfileRequest struct {
	DisplayName *string `json:"display_name,omitempty"`
	PhoneRegion *string `json:"phone_region,omitempty"`
	Note        *string `json:"note,omitempty"`
	LeadTimeMs  *int64  `json:"lead_time_ms,omitempty"`
}

// RegisterPushTokenRequest 注册推送令牌请求
type RegisterPushTokenRequest struct {
	PushToken string `json:"push_token" binding:"required"`
}

// RotateDiscoveryCodeResponse 轮换二维码标识响应
type RotateDiscoveryCodeResponse struct {
	DiscoveryCode string `json:"discovery_code"`
}
