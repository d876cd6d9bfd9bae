package response

import (
	"context"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"

	"StillOK/pkg/errors"
)

// ErrorResponse 统一的错误响应格式
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Details map[string]interface{} `json:"details,omitempty"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
}

// SuccessResponse 统一的成功响应格式
type SuccessResponse struct {
	Data interface{}            `json:"data"`
	Meta map[string]interface{} `json:"meta,omitempty"`
}

func errorToHTTPStatus(err error) int {
	def, ok := err.(errors.Definition)
	if !ok {
		return http.StatusInternalServerError
	}

	// 根据错误码映射 HTTP 状态码
	switch def.Code {
	case "CAPTCHA_RATE_LIMITED", "TOO_MANY_REQUESTS":
		return http.StatusTooManyRequests // 429
	case "SESSION_EXPIRED", "SESSION_CONFLICT", "UNAUTHORIZED":
		return http.StatusUnauthorized // 401
	case "CONTACT_NOT_FOUND", "PING_NOT_FOUND", "NOTIFICATION_NOT_FOUND",
		"USER_NOT_FOUND", "DISCOVERY_CODE_UNKNOWN":
		return http.StatusNotFound // 404
	case "CONTACT_DUPLICATE", "PING_DUPLICATE", "RELATION_CONFLICT":
		return http.StatusConflict // 409
	case "PING_NOT_SENDER", "PING_NOT_RECIPIENT":
		return http.StatusForbidden // 403
	case "VERIFICATION_CODE_EXPIRED", "VERIFICATION_CODE_INVALID",
		"PHONE_ALREADY_REGISTERED", "INVALID_REQUEST", "INVALID_PHONE",
		"INVALID_USER_ID", "INVALID_ROLE_STATE", "CONTACT_SELF_ADD",
		"CHECKIN_INTERVAL_INVALID", "LEAD_TIME_INVALID",
		"PING_INVALID_STATE", "PENDING_PAYLOAD_BAD":
		return http.StatusBadRequest // 400
	default:
		return http.StatusInternalServerError // 500
	}
}

// Error 返回错误响应
func Error(ctx context.Context, c *app.RequestContext, err error) {
	statusCode := errorToHTTPStatus(err)

	var code, message string
	if def, ok := err.(errors.Definition); ok {
		code = def.Code
		message = def.Message
	} else {
		code = "INTERNAL_ERROR"
		message = err.Error()
	}

	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

func ErrorWithDetails(ctx context.Context, c *app.RequestContext, err error, details map[string]interface{}) {
	statusCode := errorToHTTPStatus(err)

	var code, message string
	if def, ok := err.(errors.Definition); ok {
		code = def.Code
		message = def.Message
	} else {
		code = "INTERNAL_ERROR"
		message = err.Error()
	}

	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func Success(ctx context.Context, c *app.RequestContext, data interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{
		Data: data,
	})
}

func SuccessWithMeta(ctx context.Context, c *app.RequestContext, data interface{}, meta map[string]interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{
		Data: data,
		Meta: meta,
	})
}

func BindError(ctx context.Context, c *app.RequestContext, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		},
	})
}

// NoContent 返回 204 No Content（用于 DELETE 等操作）
func NoContent(ctx context.Context, c *app.RequestContext) {
	c.Status(http.StatusNoContent)
}
