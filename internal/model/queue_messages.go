package model

// DeliveryMessage 推送投递任务消息
type DeliveryMessage struct {
	MessageID      string            `json:"message_id"` // 消息唯一ID，用于幂等性检查
	UserID         int64             `json:"user_id"`
	NotificationID int64             `json:"notification_id"` // NotificationItem.PublicID
	Type           string            `json:"type"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	Priority       string            `json:"priority"`
	PushToken      string            `json:"push_token"`
	Data           map[string]string `json:"data,omitempty"`
	ScheduledAt    string            `json:"scheduled_at"`
}

// StreamTag 通知流消息标签
type StreamTag string

const (
	StreamTagInitialHistory StreamTag = "initial_history" // 订阅建立时的历史批次
	StreamTagUpdate         StreamTag = "update"          // 订阅期间的增量更新
)

// StreamNotification 通知流中的单条通知
type StreamNotification struct {
	NotificationID int64  `json:"notification_id"`
	Type           string `json:"type"`
	Title          string `json:"title"`
	Message        string `json:"message"`
	Read           bool   `json:"read"`
}

// NotificationStreamMessage 推送网关通知流消息
// 先到一批历史，再到逐条更新；按到达顺序应用，靠 NotificationID 去重
type NotificationStreamMessage struct {
	MessageID string               `json:"message_id"` // 消息唯一ID，用于幂等性检查
	UserID    int64                `json:"user_id"`
	Tag       StreamTag            `json:"tag"`
	Items     []StreamNotification `json:"items"`
}

// OverdueDeadlineMessage 打卡到期延迟消息
// ExpiryAtMs 为发布时的到期时间快照：消费时与档案当前推导到期时间比较，
// 不一致说明用户已重新打卡或改过间隔，消息作废
type OverdueDeadlineMessage struct {
	MessageID   string `json:"message_id"` // 消息唯一ID，用于幂等性检查
	UserID      int64  `json:"user_id"`
	ExpiryAtMs  int64  `json:"expiry_at_ms"`
	ScheduledAt string `json:"scheduled_at"`
}
