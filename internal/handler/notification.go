package handler

import (
	"context"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"

	"StillOK/internal/middleware"
	"StillOK/internal/model/dto"
	"StillOK/internal/service"
	pkgerrors "StillOK/pkg/errors"
	"StillOK/pkg/response"
)

// ListNotifications 通知历史，游标分页
// GET /v1/notifications
func ListNotifications(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserIDInt64(ctx, c)
	if !ok {
		response.Error(ctx, c, pkgerrors.Unauthorized)
		return
	}

	var query dto.NotificationListQuery
	if err := c.BindQuery(&query); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	result, err := service.Notification().History(ctx, userID, query)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, result)
}

// MarkNotificationRead 单条已读
// POST /v1/notifications/:notification_id/read
func MarkNotificationRead(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserIDInt64(ctx, c)
	if !ok {
		response.Error(ctx, c, pkgerrors.Unauthorized)
		return
	}

	notificationID, err := strconv.ParseInt(c.Param("notification_id"), 10, 64)
	if err != nil {
		response.Error(ctx, c, pkgerrors.NotificationNotFound)
		return
	}

	if err := service.Notification().MarkRead(ctx, userID, notificationID); err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.NoContent(ctx, c)
}

// MarkAllNotificationsRead 全部已读
// POST /v1/notifications/read-all
func MarkAllNotificationsRead(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserIDInt64(ctx, c)
	if !ok {
		response.Error(ctx, c, pkgerrors.Unauthorized)
		return
	}

	count, err := service.Notification().MarkAllRead(ctx, userID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, map[string]interface{}{"marked": count})
}
