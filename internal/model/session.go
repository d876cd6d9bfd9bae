package model

import "time"

// AuthPhase 会话认证阶段
type AuthPhase string

const (
	AuthPhaseUnauthenticated AuthPhase = "unauthenticated"
	AuthPhaseAuthenticating  AuthPhase = "authenticating"
	AuthPhaseAuthenticated   AuthPhase = "authenticated"
	AuthPhaseError           AuthPhase = "error"
)

// SessionState 会话状态，序列化后存 redis
type SessionState struct {
	EntityID     int64     `json:"entity_id"`
	SessionID    string    `json:"session_id"` // 设备会话标识，跨设备登录检测
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Phase        AuthPhase `json:"phase"`
}

// CurrentPhase 会话阶段，无记录视为未认证
func (s *SessionState) CurrentPhase() AuthPhase {
	if s == nil || s.Phase == "" {
		return AuthPhaseUnauthenticated
	}
	return s.Phase
}

// IsAuthenticated 仅当阶段为 authenticated 且未过期时令牌有效
func (s *SessionState) IsAuthenticated(now time.Time) bool {
	if s == nil || s.Phase != AuthPhaseAuthenticated {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}
