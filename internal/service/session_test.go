package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StillOK/internal/cache"
	"StillOK/internal/model"
	"StillOK/internal/model/dto"
	pkgerrors "StillOK/pkg/errors"
)

type sessionFixture struct {
	svc      *SessionService
	profiles *fakeProfileRepo
	verifier *fakeVerifier
}

func newSessionFixture() *sessionFixture {
	sessionCache.reset()
	f := &sessionFixture{
		profiles: newFakeProfileRepo(),
		verifier: &fakeVerifier{},
	}
	f.svc = NewSessionService(f.profiles, f.verifier)
	return f
}

func (f *sessionFixture) seedUser(id int64, phoneHash string) {
	hash := phoneHash
	f.profiles.put(&model.UserProfile{
		PublicID:          id,
		PhoneHash:         &hash,
		DisplayName:       "小安",
		CheckInIntervalMs: (24 * time.Hour).Milliseconds(),
		SessionID:         "session-old",
	})
}

func verifyReq() *dto.VerifyCodeRequest {
	return &dto.VerifyCodeRequest{
		VerificationID: "v-1",
		Code:           "123456",
		Device:         dto.DeviceInfo{Platform: "ios"},
	}
}

func TestAuthenticateRotatesSession(t *testing.T) {
	f := newSessionFixture()
	f.seedUser(1, "hash-1")
	f.verifier.entry = &cache.VerificationEntry{PhoneHash: "hash-1", PhoneRegion: "+86"}

	resp, err := f.svc.Authenticate(context.Background(), verifyReq())
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.NotEqual(t, "session-old", resp.SessionID)

	stored, err := f.profiles.GetByPublicID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, resp.SessionID, stored.SessionID, "old device session invalidated")

	state := sessionCache.state(1)
	require.NotNil(t, state)
	assert.Equal(t, model.AuthPhaseAuthenticated, state.CurrentPhase())
	assert.True(t, f.svc.IsAuthenticated(context.Background(), 1))
}

func TestAuthenticateRegistersNewUser(t *testing.T) {
	f := newSessionFixture()
	f.verifier.entry = &cache.VerificationEntry{
		PhoneHash:   "hash-new",
		PhoneCipher: []byte("cipher"),
		PhoneRegion: "+86",
	}

	resp, err := f.svc.Authenticate(context.Background(), verifyReq())
	require.NoError(t, err)
	assert.NotEmpty(t, resp.User.ID)

	created, err := f.profiles.GetByPhoneHash(context.Background(), "hash-new")
	require.NoError(t, err)
	assert.NotEmpty(t, created.DiscoveryCode)
	assert.Positive(t, created.CheckInIntervalMs)
}

func TestAuthenticateFailureSetsErrorPhase(t *testing.T) {
	f := newSessionFixture()
	f.seedUser(1, "hash-1")
	f.verifier.entry = &cache.VerificationEntry{PhoneHash: "hash-1"}
	f.profiles.updateErr = errors.New("db down")

	_, err := f.svc.Authenticate(context.Background(), verifyReq())
	require.Error(t, err)

	state := sessionCache.state(1)
	require.NotNil(t, state)
	assert.Equal(t, model.AuthPhaseError, state.CurrentPhase())
	assert.False(t, f.svc.IsAuthenticated(context.Background(), 1))
	assert.Equal(t, model.AuthPhaseError, f.svc.AuthPhase(context.Background(), 1))
}

func TestAuthenticateVerifyFailureLeavesNoState(t *testing.T) {
	f := newSessionFixture()
	f.seedUser(1, "hash-1")
	f.verifier.err = pkgerrors.VerificationCodeInvalid

	_, err := f.svc.Authenticate(context.Background(), verifyReq())
	assert.ErrorIs(t, err, pkgerrors.VerificationCodeInvalid)
	assert.Nil(t, sessionCache.state(1), "unknown caller, nothing to record")
}

func TestRefreshIssuesNewPair(t *testing.T) {
	f := newSessionFixture()
	f.seedUser(1, "hash-1")
	f.verifier.entry = &cache.VerificationEntry{PhoneHash: "hash-1"}

	auth, err := f.svc.Authenticate(context.Background(), verifyReq())
	require.NoError(t, err)

	resp, err := f.svc.Refresh(context.Background(), &dto.RefreshTokenRequest{
		RefreshToken: auth.RefreshToken,
		SessionID:    auth.SessionID,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.True(t, sessionCache.validateRefreshToken(context.Background(), 1, resp.RefreshToken),
		"new refresh token persisted")
	assert.True(t, f.svc.IsAuthenticated(context.Background(), 1))
}

func TestRefreshSessionConflictForcesSignOut(t *testing.T) {
	f := newSessionFixture()
	f.seedUser(1, "hash-1")
	f.verifier.entry = &cache.VerificationEntry{PhoneHash: "hash-1"}

	auth, err := f.svc.Authenticate(context.Background(), verifyReq())
	require.NoError(t, err)

	// 异地登录轮换了会话，旧设备还拿着旧 token 刷新
	require.NoError(t, sessionCache.setCurrentSessionID(context.Background(), 1, "session-elsewhere"))

	_, err = f.svc.Refresh(context.Background(), &dto.RefreshTokenRequest{
		RefreshToken: auth.RefreshToken,
		SessionID:    auth.SessionID,
	})
	assert.ErrorIs(t, err, pkgerrors.SessionConflict)
	assert.False(t, sessionCache.validateRefreshToken(context.Background(), 1, auth.RefreshToken),
		"stale session cleared")
}

func TestRefreshWaitsOutCrossProcessLock(t *testing.T) {
	f := newSessionFixture()
	f.seedUser(1, "hash-1")
	f.verifier.entry = &cache.VerificationEntry{PhoneHash: "hash-1"}

	auth, err := f.svc.Authenticate(context.Background(), verifyReq())
	require.NoError(t, err)

	savedDelay := refreshLockRetryDelay
	refreshLockRetryDelay = time.Millisecond
	defer func() { refreshLockRetryDelay = savedDelay }()

	// 前两轮锁被另一实例占用，等待后拿到锁完成刷新
	sessionCache.lockBusy = 2
	resp, err := f.svc.Refresh(context.Background(), &dto.RefreshTokenRequest{
		RefreshToken: auth.RefreshToken,
		SessionID:    auth.SessionID,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
}

func TestRefreshGivesUpWhenLockStaysBusy(t *testing.T) {
	f := newSessionFixture()
	f.seedUser(1, "hash-1")
	f.verifier.entry = &cache.VerificationEntry{PhoneHash: "hash-1"}

	auth, err := f.svc.Authenticate(context.Background(), verifyReq())
	require.NoError(t, err)

	savedDelay := refreshLockRetryDelay
	refreshLockRetryDelay = time.Millisecond
	defer func() { refreshLockRetryDelay = savedDelay }()

	sessionCache.lockBusy = 100
	_, err = f.svc.Refresh(context.Background(), &dto.RefreshTokenRequest{
		RefreshToken: auth.RefreshToken,
		SessionID:    auth.SessionID,
	})
	assert.ErrorIs(t, err, pkgerrors.SessionExpired)
}

func TestSignOutClearsSession(t *testing.T) {
	f := newSessionFixture()
	f.seedUser(1, "hash-1")
	f.verifier.entry = &cache.VerificationEntry{PhoneHash: "hash-1"}

	_, err := f.svc.Authenticate(context.Background(), verifyReq())
	require.NoError(t, err)
	require.True(t, f.svc.IsAuthenticated(context.Background(), 1))

	f.svc.SignOut(context.Background(), 1)

	assert.False(t, f.svc.IsAuthenticated(context.Background(), 1))
	assert.Equal(t, model.AuthPhaseUnauthenticated, f.svc.AuthPhase(context.Background(), 1))

	stored, err := f.profiles.GetByPublicID(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, stored.SessionID)

	// 再次登出幂等
	f.svc.SignOut(context.Background(), 1)
}
