package model

import "time"

// UserProfile 用户档案模型
// 到期时间永远由 (LastCheckInAt, CheckInIntervalMs) 推导，不单独存储
type UserProfile struct {
	BaseModel
	PublicID    int64   `gorm:"uniqueIndex;not null" json:"public_id"`
	DisplayName string  `gorm:"type:varchar(64);not null;default:''" json:"display_name"`
	PhoneCipher []byte  `gorm:"type:bytea" json:"-"`                // 手机号密文，不对外暴露
	PhoneHash   *string `gorm:"uniqueIndex;type:char(64)" json:"-"` // 手机号哈希，用于查询
	PhoneRegion string  `gorm:"type:varchar(8);not null;default:''" json:"phone_region"`
	Note        string  `gorm:"type:varchar(255);not null;default:''" json:"note"`

	// 打卡设置，间隔与提前量以毫秒存储
	CheckInIntervalMs int64      `gorm:"not null;default:86400000" json:"check_in_interval_ms"`
	LastCheckInAt     *time.Time `gorm:"type:timestamptz" json:"last_check_in_at,omitempty"`
	LeadTimeMs        int64      `gorm:"not null;default:0" json:"lead_time_ms"` // 0 表示关闭提前提醒

	// 紧急求救，标志为 false 时激活时间必须为空
	EmergencyAlert   bool       `gorm:"not null;default:false" json:"emergency_alert"`
	EmergencyAlertAt *time.Time `gorm:"type:timestamptz" json:"emergency_alert_at,omitempty"`

	DiscoveryCode string `gorm:"uniqueIndex;type:varchar(36);not null" json:"discovery_code"` // 可轮换的二维码标识
	SessionID     string `gorm:"type:varchar(36);not null;default:''" json:"-"`               // 当前有效会话，跨设备登录检测
	PushToken     string `gorm:"type:varchar(255);not null;default:''" json:"-"`
}

// TableName 指定表名
func (UserProfile) TableName() string {
	return "user_profiles"
}

func (u *UserProfile) CheckInInterval() time.Duration {
	return time.Duration(u.CheckInIntervalMs) * time.Millisecond
}

func (u *UserProfile) LeadTime() time.Duration {
	return time.Duration(u.LeadTimeMs) * time.Millisecond
}

// ExpiryAt 推导到期时间，尚未打过卡时返回 nil
func (u *UserProfile) ExpiryAt() *time.Time {
	if u.LastCheckInAt == nil {
		return nil
	}
	expiry := u.LastCheckInAt.Add(u.CheckInInterval())
	return &expiry
}
