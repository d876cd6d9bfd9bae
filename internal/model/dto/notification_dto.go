package dto

import "time"

// ========== Notification 相关 DTO ==========

// NotificationItemData 通知项
type NotificationItemData struct {
	ID               string                 `json:"id"`
	Type             string                 `json:"type"`
	Title            string                 `json:"title"`
	Message          string                 `json:"message"`
	Read             bool                   `json:"read"`
	RelatedContactID string                 `json:"related_contact_id,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

// NotificationListQuery 通知历史查询参数
type NotificationListQuery struct {
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit"`
}

// NotificationListResponse 通知历史响应，按创建时间倒序
type NotificationListResponse struct {
	Items      []NotificationItemData `json:"items"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}
