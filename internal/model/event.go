package model

import "time"

// Event 领域事件
// ContactGraph / CheckInEngine / PingCoordinator 状态变更时产生，
// 由 NotificationDispatcher 消费并转化为通知
type Event struct {
	Type             NotificationType       `json:"type"`
	ActorID          int64                  `json:"actor_id"`  // 触发方
	TargetID         int64                  `json:"target_id"` // 通知接收方
	Title            string                 `json:"title"`
	Message          string                 `json:"message"`
	Priority         NotificationPriority   `json:"priority"`
	RelatedContactID *int64                 `json:"related_contact_id,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	OccurredAt       time.Time              `json:"occurred_at"`
}
