package model

import "time"

// NotificationType 通知类型枚举，封闭集合
type NotificationType string

const (
	NotificationTypeAlertActive            NotificationType = "alert_active"             // 本人开启紧急求救
	NotificationTypeAlertInactive          NotificationType = "alert_inactive"           // 本人解除紧急求救
	NotificationTypeDependentAlertActive   NotificationType = "dependent_alert_active"   // 被守护人开启紧急求救
	NotificationTypeDependentAlertInactive NotificationType = "dependent_alert_inactive" // 被守护人解除紧急求救
	NotificationTypeNonResponsive          NotificationType = "non_responsive"           // 本人打卡超期
	NotificationTypeDependentNonResponsive NotificationType = "dependent_non_responsive" // 被守护人打卡超期
	NotificationTypeNonResponsiveResolved  NotificationType = "non_responsive_resolved"  // 超期后重新打卡
	NotificationTypeContactAdded           NotificationType = "contact_added"
	NotificationTypeContactRemoved         NotificationType = "contact_removed"
	NotificationTypeRoleChanged            NotificationType = "role_changed"
	NotificationTypePingSent               NotificationType = "ping_sent"     // 发送方留档
	NotificationTypePingReceived           NotificationType = "ping_received" // 接收方收到确认请求
	NotificationTypePingResponded          NotificationType = "ping_responded"
	NotificationTypePingCanceled           NotificationType = "ping_canceled"
	NotificationTypePingClearAll           NotificationType = "ping_clear_all"
	NotificationTypeSystemSuccess          NotificationType = "system_success"
	NotificationTypeSystemError            NotificationType = "system_error"
	NotificationTypeSystemInfo             NotificationType = "system_info"
)

// NotificationPriority 投递优先级，决定重试耐心和推送渠道的紧迫程度
type NotificationPriority string

const (
	NotificationPriorityLow      NotificationPriority = "low"
	NotificationPriorityStandard NotificationPriority = "standard"
	NotificationPriorityHigh     NotificationPriority = "high"
	NotificationPriorityCritical NotificationPriority = "critical"
)

// NotificationItem 通知历史记录
// 创建后除 Read 标志外不可变，按创建时间倒序排列
type NotificationItem struct {
	BaseModel
	PublicID         int64            `gorm:"uniqueIndex;not null" json:"public_id"`
	UserID           int64            `gorm:"not null;index:idx_notification_items_user" json:"user_id"`
	Type             NotificationType `gorm:"type:varchar(32);not null" json:"type"`
	Title            string           `gorm:"type:varchar(128);not null" json:"title"`
	Message          string           `gorm:"type:varchar(512);not null" json:"message"`
	Read             bool             `gorm:"not null;default:false" json:"read"`
	RelatedContactID *int64           `gorm:"index" json:"related_contact_id,omitempty"`
	Metadata         JSONB            `gorm:"type:jsonb;default:'{}'" json:"metadata"`
}

// TableName 指定表名
func (NotificationItem) TableName() string {
	return "notification_items"
}

// PendingOperation 待补投操作类型
type PendingOperation string

const (
	PendingOperationCreate   PendingOperation = "create"    // 远端投递通知
	PendingOperationMarkRead PendingOperation = "mark_read" // 远端同步已读
	PendingOperationClear    PendingOperation = "clear"     // 远端撤销已排期推送
)

// PendingNotificationAction 离线待补投动作
// 远端调用因连接问题失败时入队，由重试扫描消费，送达或过期后删除
type PendingNotificationAction struct {
	ID           string               `gorm:"primaryKey;type:varchar(36)" json:"id"` // uuid
	Operation    PendingOperation     `gorm:"type:varchar(16);not null" json:"operation"`
	Payload      JSONB                `gorm:"type:jsonb;not null" json:"payload"`
	Priority     NotificationPriority `gorm:"type:varchar(16);not null;default:'standard'" json:"priority"`
	AttemptCount int                  `gorm:"type:smallint;not null;default:0" json:"attempt_count"`
	MaxAttempts  int                  `gorm:"type:smallint;not null;default:5" json:"max_attempts"`
	CreatedAt    time.Time            `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt    time.Time            `gorm:"not null;default:now()" json:"updated_at"`
}

// TableName 指定表名
func (PendingNotificationAction) TableName() string {
	return "pending_notification_actions"
}

// CanRetry 尝试次数未用尽
func (a *PendingNotificationAction) CanRetry() bool {
	return a.AttemptCount < a.MaxAttempts
}

// IsExpired 超过优先级对应的存活上限
// critical 动作的上限远高于其它优先级
func (a *PendingNotificationAction) IsExpired(now time.Time, standardTTL, criticalTTL time.Duration) bool {
	ttl := standardTTL
	if a.Priority == NotificationPriorityCritical {
		ttl = criticalTTL
	}
	return now.Sub(a.CreatedAt) > ttl
}
