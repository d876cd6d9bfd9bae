package handler

import (
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app"

	"StillOK/internal/middleware"
	"StillOK/internal/model/dto"
	"StillOK/internal/service"
	pkgerrors "StillOK/pkg/errors"
	"StillOK/pkg/response"
)

// GetCheckInStatus 当前打卡状态
// GET /v1/check-ins/status
func GetCheckInStatus(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserIDInt64(ctx, c)
	if !ok {
		response.Error(ctx, c, pkgerrors.Unauthorized)
		return
	}

	result, err := service.CheckIn().Status(ctx, userID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, result)
}

// PerformCheckIn 打卡
// POST /v1/check-ins
func PerformCheckIn(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserIDInt64(ctx, c)
	if !ok {
		response.Error(ctx, c, pkgerrors.Unauthorized)
		return
	}

	var req dto.CheckInRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	result, err := service.CheckIn().PerformCheckIn(ctx, userID, req.At)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, result)
}

// SetCheckInInterval 设置打卡间隔
// PUT /v1/check-ins/interval
func SetCheckInInterval(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserIDInt64(ctx, c)
	if !ok {
		response.Error(ctx, c, pkgerrors.Unauthorized)
		return
	}

	var req dto.SetIntervalRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	result, err := service.CheckIn().SetInterval(ctx, userID, time.Duration(req.IntervalMs)*time.Millisecond)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, result)
}

// SetEmergencyAlert 紧急求救开关
// PUT /v1/alert
func SetEmergencyAlert(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserIDInt64(ctx, c)
	if !ok {
		response.Error(ctx, c, pkgerrors.Unauthorized)
		return
	}

	var req dto.SetAlertRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	result, err := service.CheckIn().SetEmergencyAlert(ctx, userID, req.Enabled)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, result)
}
