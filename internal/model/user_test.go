package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserProfileExpiryAt(t *testing.T) {
	profile := &UserProfile{CheckInIntervalMs: (24 * time.Hour).Milliseconds()}
	assert.Nil(t, profile.ExpiryAt(), "no check-in means no deadline")

	last := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	profile.LastCheckInAt = &last

	expiry := profile.ExpiryAt()
	require.NotNil(t, expiry)
	assert.Equal(t, last.Add(24*time.Hour), *expiry)

	// 间隔变更后到期时间随之重算，打卡时钟不变
	profile.CheckInIntervalMs = (8 * time.Hour).Milliseconds()
	expiry = profile.ExpiryAt()
	require.NotNil(t, expiry)
	assert.Equal(t, last.Add(8*time.Hour), *expiry)
}

func TestPingStatusTerminal(t *testing.T) {
	assert.False(t, PingStatusSent.IsTerminal())
	assert.True(t, PingStatusResponded.IsTerminal())
	assert.True(t, PingStatusCanceled.IsTerminal())
}

func TestContactRoleValid(t *testing.T) {
	assert.True(t, ContactRoleResponder.Valid())
	assert.True(t, ContactRoleDependent.Valid())
	assert.False(t, ContactRole("guardian").Valid())
}
