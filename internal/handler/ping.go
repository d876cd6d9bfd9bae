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

// ListPings 我发出和收到的问询
// GET /v1/pings
func ListPings(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserIDInt64(ctx, c)
	if !ok {
		response.Error(ctx, c, pkgerrors.Unauthorized)
		return
	}

	result, err := service.Ping().ListPings(ctx, userID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, result)
}

// SendPing 向联系人发起问询
// POST /v1/pings
func SendPing(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserIDInt64(ctx, c)
	if !ok {
		response.Error(ctx, c, pkgerrors.Unauthorized)
		return
	}

	var req dto.SendPingRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	recipientID, err := strconv.ParseInt(req.RecipientID, 10, 64)
	if err != nil {
		response.Error(ctx, c, pkgerrors.InvalidUserID)
		return
	}

	result, err := service.Ping().SendPing(ctx, userID, recipientID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, result)
}

// RespondToPing 确认平安
// POST /v1/pings/:ping_id/respond
func RespondToPing(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserIDInt64(ctx, c)
	if !ok {
		response.Error(ctx, c, pkgerrors.Unauthorized)
		return
	}

	pingID, err := strconv.ParseInt(c.Param("ping_id"), 10, 64)
	if err != nil {
		response.Error(ctx, c, pkgerrors.PingNotFound)
		return
	}

	result, err := service.Ping().RespondToPing(ctx, userID, pingID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, result)
}

// CancelPing 撤回问询
// POST /v1/pings/:ping_id/cancel
func CancelPing(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserIDInt64(ctx, c)
	if !ok {
		response.Error(ctx, c, pkgerrors.Unauthorized)
		return
	}

	pingID, err := strconv.ParseInt(c.Param("ping_id"), 10, 64)
	if err != nil {
		response.Error(ctx, c, pkgerrors.PingNotFound)
		return
	}

	result, err := service.Ping().CancelPing(ctx, userID, pingID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, result)
}

// ClearAllPings 批量确认所有发给我的未决问询
// POST /v1/pings/clear-all
func ClearAllPings(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserIDInt64(ctx, c)
	if !ok {
		response.Error(ctx, c, pkgerrors.Unauthorized)
		return
	}

	cleared, err := service.Ping().ClearAllReceivedPings(ctx, userID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, map[string]interface{}{"cleared": cleared})
}
