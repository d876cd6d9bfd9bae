package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"

	"StillOK/internal/middleware"
	"StillOK/internal/model/dto"
	"StillOK/internal/service"
	pkgerrors "StillOK/pkg/errors"
	"StillOK/pkg/response"
)

// SendCode 发送验证码
// POST /v1/auth/phone/send-code
func SendCode(ctx context.Context, c *app.RequestContext) {
	var req dto.SendCodeRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	result, err := service.Verification().SendCode(ctx, &req)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, result)
}

// VerifyCode 验证码登录
// POST /v1/auth/phone/verify
func VerifyCode(ctx context.Context, c *app.RequestContext) {
	var req dto.VerifyCodeRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	result, err := service.Session().Authenticate(ctx, &req)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, result)
}

// RefreshToken 刷新访问令牌
// POST /v1/auth/token/refresh
func RefreshToken(ctx context.Context, c *app.RequestContext) {
	var req dto.RefreshTokenRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	result, err := service.Session().Refresh(ctx, &req)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, result)
}

// SignOut 登出
// POST /v1/auth/sign-out
func SignOut(ctx context.Context, c *app.RequestContext) {
	userID, ok := middleware.GetUserIDInt64(ctx, c)
	if !ok {
		response.Error(ctx, c, pkgerrors.Unauthorized)
		return
	}

	service.Session().SignOut(ctx, userID)
	response.NoContent(ctx, c)
}
