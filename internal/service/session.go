package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"StillOK/config"
	"StillOK/internal/cache"
	"StillOK/internal/model"
	"StillOK/internal/model/dto"
	"StillOK/internal/repository"
	pkgerrors "StillOK/pkg/errors"
	"StillOK/pkg/logger"
	"StillOK/pkg/snowflake"
	"StillOK/pkg/token"
	"StillOK/storage/database"
)

var (
	sessionService *SessionService
	sessionOnce    sync.Once
)

// 缓存入口集中为包级变量，单测替换为内存实现
var (
	setRefreshToken        = cache.SetRefreshToken
	deleteRefreshToken     = cache.DeleteRefreshToken
	validateRefreshToken   = cache.ValidateRefreshTokenExists
	setCurrentSessionID    = cache.SetCurrentSessionID
	getCurrentSessionID    = cache.GetCurrentSessionID
	deleteCurrentSessionID = cache.DeleteCurrentSessionID
	setSessionState        = cache.SetSessionState
	getSessionState        = cache.GetSessionState
	deleteSessionState     = cache.DeleteSessionState
	tryRefreshLock         = cache.TryLock
	unlockRefreshLock      = cache.Unlock
)

// 跨实例刷新锁被占时的短暂等待，等对端把结果写回缓存
var (
	refreshLockRetries    = 4
	refreshLockRetryDelay = 250 * time.Millisecond
)

func Session() *SessionService {
	sessionOnce.Do(func() {
		db := database.DB()
		sessionService = NewSessionService(
			repository.NewProfileRepo(db),
			Verification(),
		)
	})
	return sessionService
}

// CodeVerifier 验证码校验入口
type CodeVerifier interface {
	Verify(ctx context.Context, verificationID, code string) (*cache.VerificationEntry, error)
}

// SessionService 会话账本
// 每用户同一时刻只有一个有效会话；刷新按用户串行，
// 并发重复刷新合并为一次签发
type SessionService struct {
	profiles repository.ProfileRepository
	verifier CodeVerifier

	mu       sync.Mutex
	inflight map[int64]*refreshCall
}

type refreshCall struct {
	done chan struct{}
	resp *dto.RefreshTokenResponse
	err  error
}

func NewSessionService(profiles repository.ProfileRepository, verifier CodeVerifier) *SessionService {
	return &SessionService{
		profiles: profiles,
		verifier: verifier,
		inflight: make(map[int64]*refreshCall),
	}
}

// Authenticate 验证码登录
// 手机号未注册则顺手建档；每次登录轮换 session_id，旧设备的会话随之失效
func (s *SessionService) Authenticate(ctx context.Context, req *dto.VerifyCodeRequest) (*dto.VerifyCodeResponse, error) {
	entry, err := s.verifier.Verify(ctx, req.VerificationID, req.Code)
	if err != nil {
		return nil, err
	}

	profile, err := s.profiles.GetByPhoneHash(ctx, entry.PhoneHash)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to load profile: %w", err)
		}
		profile, err = s.registerProfile(ctx, entry)
		if err != nil {
			return nil, err
		}
	}

	s.markAuthPhase(ctx, profile.PublicID, model.AuthPhaseAuthenticating)

	sessionID := uuid.NewString()
	if err := s.profiles.UpdateFields(ctx, profile.PublicID, map[string]interface{}{
		"session_id": sessionID,
	}); err != nil {
		s.markAuthPhase(ctx, profile.PublicID, model.AuthPhaseError)
		return nil, fmt.Errorf("failed to rotate session: %w", err)
	}
	profile.SessionID = sessionID

	pair, err := token.GeneratePair(strconv.FormatInt(profile.PublicID, 10), sessionID)
	if err != nil {
		s.markAuthPhase(ctx, profile.PublicID, model.AuthPhaseError)
		return nil, fmt.Errorf("failed to generate token pair: %w", err)
	}

	s.persistSession(ctx, profile.PublicID, sessionID, pair)

	if err := invalidateProfileCache(ctx, profile.PublicID); err != nil {
		logger.Logger.Warn("Failed to invalidate profile cache",
			zap.Int64("user_id", profile.PublicID),
			zap.Error(err),
		)
	}

	logger.Logger.Info("User authenticated",
		zap.Int64("user_id", profile.PublicID),
		zap.String("session_id", sessionID),
		zap.String("platform", req.Device.Platform),
	)

	return &dto.VerifyCodeResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		SessionID:    sessionID,
		User:         *profileSnapshot(profile),
	}, nil
}

// Refresh 刷新 token 对
// 同用户并发刷新共享同一次签发结果；session_id 与当前记录不符视为异地登录，强制下线
func (s *SessionService) Refresh(ctx context.Context, req *dto.RefreshTokenRequest) (*dto.RefreshTokenResponse, error) {
	entityID, sid, err := token.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		return nil, pkgerrors.SessionExpired
	}

	userID, err := strconv.ParseInt(entityID, 10, 64)
	if err != nil {
		return nil, pkgerrors.SessionExpired
	}

	if req.SessionID != "" && req.SessionID != sid {
		return nil, pkgerrors.SessionConflict
	}

	s.mu.Lock()
	if call, ok := s.inflight[userID]; ok {
		s.mu.Unlock()
		select {
		case <-call.done:
			return call.resp, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	s.inflight[userID] = call
	s.mu.Unlock()

	call.resp, call.err = s.doRefresh(ctx, userID, sid, req.RefreshToken)
	close(call.done)

	s.mu.Lock()
	delete(s.inflight, userID)
	s.mu.Unlock()

	return call.resp, call.err
}

func (s *SessionService) doRefresh(ctx context.Context, userID int64, sid, refreshToken string) (*dto.RefreshTokenResponse, error) {
	lockKey := fmt.Sprintf("refresh:%d", userID)
	locked, err := s.acquireRefreshLock(ctx, lockKey)
	if err != nil {
		return nil, err
	}
	if !locked {
		// 等了几轮还被另一实例占着，放弃这次刷新
		return nil, pkgerrors.SessionExpired
	}
	defer func() {
		if err := unlockRefreshLock(context.WithoutCancel(ctx), lockKey); err != nil {
			logger.Logger.Warn("Failed to release refresh lock",
				zap.Int64("user_id", userID),
				zap.Error(err),
			)
		}
	}()

	current, err := getCurrentSessionID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load current session: %w", err)
	}
	if current == "" {
		// 缓存缺失时回源档案表
		profile, err := s.profiles.GetByPublicID(ctx, userID)
		if err != nil {
			return nil, pkgerrors.SessionExpired
		}
		current = profile.SessionID
	}
	if current != sid {
		// 异地登录后旧设备还拿着旧会话刷新，强制下线
		s.ClearSession(ctx, userID)
		return nil, pkgerrors.SessionConflict
	}

	if !validateRefreshToken(ctx, userID, refreshToken) {
		return nil, pkgerrors.SessionExpired
	}

	pair, err := token.GeneratePair(strconv.FormatInt(userID, 10), sid)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token pair: %w", err)
	}

	s.persistSession(ctx, userID, sid, pair)

	return &dto.RefreshTokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	}, nil
}

// acquireRefreshLock 拿跨实例刷新锁，被占时短暂等待几轮再试
func (s *SessionService) acquireRefreshLock(ctx context.Context, lockKey string) (bool, error) {
	for attempt := 0; ; attempt++ {
		locked, err := tryRefreshLock(ctx, lockKey, 10*time.Second)
		if err != nil {
			return false, fmt.Errorf("failed to acquire refresh lock: %w", err)
		}
		if locked {
			return true, nil
		}
		if attempt >= refreshLockRetries {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(refreshLockRetryDelay):
		}
	}
}

// SignOut 登出，幂等
func (s *SessionService) SignOut(ctx context.Context, userID int64) {
	s.ClearSession(ctx, userID)

	if err := s.profiles.UpdateFields(ctx, userID, map[string]interface{}{
		"session_id": "",
	}); err != nil {
		logger.Logger.Warn("Failed to clear session on profile",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	}

	logger.Logger.Info("User signed out", zap.Int64("user_id", userID))
}

// ClearSession 清除会话缓存，缺失也视为成功
func (s *SessionService) ClearSession(ctx context.Context, userID int64) {
	for name, fn := range map[string]func(context.Context, int64) error{
		"refresh_token":      deleteRefreshToken,
		"session_state":      deleteSessionState,
		"current_session_id": deleteCurrentSessionID,
	} {
		if err := fn(ctx, userID); err != nil {
			logger.Logger.Warn("Failed to clear session entry",
				zap.Int64("user_id", userID),
				zap.String("entry", name),
				zap.Error(err),
			)
		}
	}
}

// IsAuthenticated 当前会话是否有效
func (s *SessionService) IsAuthenticated(ctx context.Context, userID int64) bool {
	state, err := getSessionState(ctx, userID)
	if err != nil {
		return false
	}
	return state.IsAuthenticated(time.Now())
}

// AuthPhase 当前会话所处的认证阶段
func (s *SessionService) AuthPhase(ctx context.Context, userID int64) model.AuthPhase {
	state, err := getSessionState(ctx, userID)
	if err != nil {
		return model.AuthPhaseUnauthenticated
	}
	return state.CurrentPhase()
}

// markAuthPhase 登录过程中的阶段落缓存，失败只记日志不影响主流程
func (s *SessionService) markAuthPhase(ctx context.Context, userID int64, phase model.AuthPhase) {
	state := &model.SessionState{
		EntityID: userID,
		Phase:    phase,
	}
	if err := setSessionState(ctx, userID, state); err != nil {
		logger.Logger.Warn("Failed to record auth phase",
			zap.Int64("user_id", userID),
			zap.String("phase", string(phase)),
			zap.Error(err),
		)
	}
}

func (s *SessionService) persistSession(ctx context.Context, userID int64, sessionID string, pair token.Pair) {
	if err := setRefreshToken(ctx, userID, pair.RefreshToken); err != nil {
		logger.Logger.Warn("Failed to store refresh token",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	}
	if err := setCurrentSessionID(ctx, userID, sessionID); err != nil {
		logger.Logger.Warn("Failed to store current session ID",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	}

	state := &model.SessionState{
		EntityID:     userID,
		SessionID:    sessionID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
		Phase:        model.AuthPhaseAuthenticated,
	}
	if err := setSessionState(ctx, userID, state); err != nil {
		logger.Logger.Warn("Failed to store session state",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	}
}

// registerProfile 首次登录建档
func (s *SessionService) registerProfile(ctx context.Context, entry *cache.VerificationEntry) (*model.UserProfile, error) {
	publicID, err := snowflake.NextID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate user ID: %w", err)
	}

	phoneHash := entry.PhoneHash
	profile := &model.UserProfile{
		PublicID:          publicID,
		PhoneCipher:       entry.PhoneCipher,
		PhoneHash:         &phoneHash,
		PhoneRegion:       entry.PhoneRegion,
		CheckInIntervalMs: int64(config.Cfg.CheckInDefaultIntervalHours) * time.Hour.Milliseconds(),
		DiscoveryCode:     uuid.NewString(),
	}

	if err := s.profiles.Create(ctx, profile); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// 并发注册撞车，读已存在的那份
			existing, getErr := s.profiles.GetByPhoneHash(ctx, phoneHash)
			if getErr == nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	logger.Logger.Info("New user registered", zap.Int64("user_id", publicID))

	return profile, nil
}
