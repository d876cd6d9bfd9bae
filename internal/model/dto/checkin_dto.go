package dto

import "time"

// ========== CheckIn 相关 DTO ==========

// CheckInRequest 打卡请求，At 为空时取服务端当前时间
type CheckInRequest struct {
	At *time.Time `json:"at,omitempty"`
}

// CheckInStatusData 打卡状态数据
type CheckInStatusData struct {
	Status            string     `json:"status"` // on_time | due_soon | overdue
	LastCheckInAt     *time.Time `json:"last_check_in_at,omitempty"`
	ExpiryAt          *time.Time `json:"expiry_at,omitempty"`
	CheckInIntervalMs int64      `json:"check_in_interval_ms"`
	LeadTimeMs        int64      `json:"lead_time_ms"`
	EmergencyAlert    bool       `json:"emergency_alert"`
	EmergencyAlertAt  *time.Time `json:"emergency_alert_at,omitempty"`
}

// SetIntervalRequest 设置打卡间隔请求
type SetIntervalRequest struct {
	IntervalMs int64 `json:"interval_ms" binding:"required"`
}

// SetAlertRequest 设置紧急求救请求
type SetAlertRequest struct {
	Enabled bool `json:"enabled"`
}
