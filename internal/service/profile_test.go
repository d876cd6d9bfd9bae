package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StillOK/internal/model"
	"StillOK/internal/model/dto"
	pkgerrors "StillOK/pkg/errors"
)

type profileFixture struct {
	svc      *ProfileService
	profiles *fakeProfileRepo
	notifier *notificationFixture
}

func newProfileFixture() *profileFixture {
	f := &profileFixture{
		profiles: newFakeProfileRepo(),
		notifier: newNotificationFixture(),
	}
	// 档案服务和通知服务共享同一份档案仓储
	f.notifier.profiles = f.profiles
	f.notifier.svc = NewNotificationService(
		f.notifier.notifications, f.notifier.pending, f.profiles,
		f.notifier.push, f.notifier.producer, f.notifier.schedules,
	)
	f.svc = NewProfileService(f.profiles, f.notifier.svc)
	return f
}

func (f *profileFixture) seedUser(id int64) {
	last := time.Now().Add(-1 * time.Hour)
	f.profiles.put(&model.UserProfile{
		PublicID:          id,
		DisplayName:       "小安",
		DiscoveryCode:     "code-old",
		PushToken:         "device-token",
		CheckInIntervalMs: (24 * time.Hour).Milliseconds(),
		LeadTimeMs:        0,
		LastCheckInAt:     &last,
	})
}

func strPtr(s string) *string { return &s }

func int64Ptr(v int64) *int64 { return &v }

func TestGetMe(t *testing.T) {
	f := newProfileFixture()
	f.seedUser(1)

	snap, err := f.svc.GetMe(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "1", snap.ID)
	assert.Equal(t, "小安", snap.DisplayName)
	require.NotNil(t, snap.ExpiryAt)

	_, err = f.svc.GetMe(context.Background(), 404)
	assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)
}

func TestUpdateMePartialFields(t *testing.T) {
	f := newProfileFixture()
	f.seedUser(1)

	snap, err := f.svc.UpdateMe(context.Background(), 1, &dto.UpdateProfileRequest{
		DisplayName: strPtr("平安"),
	})
	require.NoError(t, err)
	assert.Equal(t, "平安", snap.DisplayName)

	stored, err := f.profiles.GetByPublicID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "平安", stored.DisplayName)
	assert.Equal(t, "code-old", stored.DiscoveryCode, "untouched fields stay put")
}

func TestUpdateMeEmptyRequestIsNoop(t *testing.T) {
	f := newProfileFixture()
	f.seedUser(1)

	snap, err := f.svc.UpdateMe(context.Background(), 1, &dto.UpdateProfileRequest{})
	require.NoError(t, err)
	assert.Equal(t, "小安", snap.DisplayName)
}

func TestUpdateMeLeadTimeTiers(t *testing.T) {
	f := newProfileFixture()
	f.seedUser(1)

	// 档位之外的提前量拒绝
	_, err := f.svc.UpdateMe(context.Background(), 1, &dto.UpdateProfileRequest{
		LeadTimeMs: int64Ptr(900000),
	})
	assert.ErrorIs(t, err, pkgerrors.LeadTimeInvalid)

	// 合法档位并触发提前提醒排期
	snap, err := f.svc.UpdateMe(context.Background(), 1, &dto.UpdateProfileRequest{
		LeadTimeMs: int64Ptr(7200000),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7200000), snap.LeadTimeMs)

	scheduleID, err := f.notifier.schedules.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.NotEmpty(t, scheduleID, "enabling lead time schedules a due-soon push")

	// 关闭后撤销排期
	_, err = f.svc.UpdateMe(context.Background(), 1, &dto.UpdateProfileRequest{
		LeadTimeMs: int64Ptr(0),
	})
	require.NoError(t, err)

	scheduleID, err = f.notifier.schedules.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, scheduleID)
}

func TestRegisterPushToken(t *testing.T) {
	f := newProfileFixture()
	f.seedUser(1)

	require.NoError(t, f.svc.RegisterPushToken(context.Background(), 1, "new-token"))

	stored, err := f.profiles.GetByPublicID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "new-token", stored.PushToken)
}

func TestRotateDiscoveryCode(t *testing.T) {
	f := newProfileFixture()
	f.seedUser(1)

	resp, err := f.svc.RotateDiscoveryCode(context.Background(), 1)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.DiscoveryCode)
	assert.NotEqual(t, "code-old", resp.DiscoveryCode)

	stored, err := f.profiles.GetByPublicID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, resp.DiscoveryCode, stored.DiscoveryCode)
}
