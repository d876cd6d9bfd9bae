package dto

import "time"

// ========== Auth 相关 DTO ==========

// SendCodeRequest 发送验证码请求
type SendCodeRequest struct {
	Phone       string `json:"phone" binding:"required"`
	PhoneRegion string `json:"phone_region,omitempty"`
}

// SendCodeResponse 发送验证码响应
type SendCodeResponse struct {
	VerificationID string    `json:"verification_id"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// VerifyCodeRequest 验证码验证请求
type VerifyCodeRequest struct {
	VerificationID string     `json:"verification_id" binding:"required"`
	Code           string     `json:"code" binding:"required"`
	Device         DeviceInfo `json:"device"`
}

// DeviceInfo 设备信息
type DeviceInfo struct {
	Platform   string `json:"platform"`
	Model      string `json:"model"`
	AppVersion string `json:"app_version"`
}

// VerifyCodeResponse 验证码验证响应
// 验证成功后返回新的 JWT token 对和用户快照
type VerifyCodeResponse struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresIn    int             `json:"expires_in"`
	SessionID    string          `json:"session_id"`
	User         ProfileSnapshot `json:"user"`
}

// RefreshTokenRequest 刷新 token 请求
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
	SessionID    string `json:"session_id" binding:"required"`
}

// RefreshTokenResponse 刷新 token 响应
type RefreshTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}
