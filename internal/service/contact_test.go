package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StillOK/internal/model"
	"StillOK/internal/model/dto"
	"StillOK/internal/repository"
	pkgerrors "StillOK/pkg/errors"
)

type contactFixture struct {
	svc        *ContactService
	profiles   *fakeProfileRepo
	contacts   *fakeContactRepo
	dispatcher *fakeDispatcher
}

func newContactFixture() *contactFixture {
	f := &contactFixture{
		profiles:   newFakeProfileRepo(),
		contacts:   newFakeContactRepo(),
		dispatcher: &fakeDispatcher{},
	}
	f.svc = NewContactService(f.contacts, f.profiles, f.dispatcher)
	return f
}

func (f *contactFixture) seedUser(id int64, name, discoveryCode string) {
	last := time.Now().Add(-1 * time.Hour)
	f.profiles.put(&model.UserProfile{
		PublicID:          id,
		DisplayName:       name,
		DiscoveryCode:     discoveryCode,
		CheckInIntervalMs: (24 * time.Hour).Milliseconds(),
		LastCheckInAt:     &last,
	})
}

func TestAddContactCreatesMirroredPair(t *testing.T) {
	f := newContactFixture()
	f.seedUser(1, "阿明", "code-a")
	f.seedUser(2, "阿芳", "code-b")

	item, err := f.svc.AddContact(context.Background(), 1, &dto.AddContactRequest{
		DiscoveryCode: "code-b",
		AsResponder:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "2", item.UserID)
	assert.True(t, item.IsResponder)
	assert.False(t, item.IsDependent)

	// 镜像行角色互换
	mirror, err := f.contacts.Get(context.Background(), 2, 1)
	require.NoError(t, err)
	assert.False(t, mirror.IsResponder)
	assert.True(t, mirror.IsDependent)

	added := f.dispatcher.byType(model.NotificationTypeContactAdded)
	require.Len(t, added, 1)
	assert.Equal(t, int64(2), added[0].TargetID)
}

func TestAddContactRejectsSelf(t *testing.T) {
	f := newContactFixture()
	f.seedUser(1, "阿明", "code-a")

	_, err := f.svc.AddContact(context.Background(), 1, &dto.AddContactRequest{
		DiscoveryCode: "code-a",
		AsDependent:   true,
	})
	assert.ErrorIs(t, err, pkgerrors.ContactSelfAdd)
}

func TestAddContactRequiresRole(t *testing.T) {
	f := newContactFixture()
	f.seedUser(1, "阿明", "code-a")
	f.seedUser(2, "阿芳", "code-b")

	_, err := f.svc.AddContact(context.Background(), 1, &dto.AddContactRequest{
		DiscoveryCode: "code-b",
	})
	assert.ErrorIs(t, err, pkgerrors.InvalidRoleState)
}

func TestAddContactUnknownDiscoveryCode(t *testing.T) {
	f := newContactFixture()
	f.seedUser(1, "阿明", "code-a")

	_, err := f.svc.AddContact(context.Background(), 1, &dto.AddContactRequest{
		DiscoveryCode: "no-such-code",
		AsResponder:   true,
	})
	assert.ErrorIs(t, err, pkgerrors.DiscoveryCodeUnknown)
}

func TestAddContactDuplicate(t *testing.T) {
	f := newContactFixture()
	f.seedUser(1, "阿明", "code-a")
	f.seedUser(2, "阿芳", "code-b")

	req := &dto.AddContactRequest{DiscoveryCode: "code-b", AsResponder: true}
	_, err := f.svc.AddContact(context.Background(), 1, req)
	require.NoError(t, err)

	_, err = f.svc.AddContact(context.Background(), 1, req)
	assert.ErrorIs(t, err, pkgerrors.ContactDuplicate)
}

func TestRemoveContactRoundTrip(t *testing.T) {
	f := newContactFixture()
	f.seedUser(1, "阿明", "code-a")
	f.seedUser(2, "阿芳", "code-b")

	req := &dto.AddContactRequest{DiscoveryCode: "code-b", AsResponder: true, AsDependent: true}
	_, err := f.svc.AddContact(context.Background(), 1, req)
	require.NoError(t, err)

	require.NoError(t, f.svc.RemoveContact(context.Background(), 1, 2))

	// 两侧关系同时消失
	_, err = f.contacts.Get(context.Background(), 1, 2)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = f.contacts.Get(context.Background(), 2, 1)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	// 删除后可以重新添加
	_, err = f.svc.AddContact(context.Background(), 1, req)
	assert.NoError(t, err)

	removed := f.dispatcher.byType(model.NotificationTypeContactRemoved)
	require.Len(t, removed, 1)
	assert.Equal(t, int64(2), removed[0].TargetID)
}

func TestRemoveContactNotFound(t *testing.T) {
	f := newContactFixture()
	f.seedUser(1, "阿明", "code-a")

	err := f.svc.RemoveContact(context.Background(), 1, 99)
	assert.ErrorIs(t, err, pkgerrors.ContactNotFound)
}

func TestToggleRoleFlipsBothSides(t *testing.T) {
	f := newContactFixture()
	f.seedUser(1, "阿明", "code-a")
	f.seedUser(2, "阿芳", "code-b")

	_, err := f.svc.AddContact(context.Background(), 1, &dto.AddContactRequest{
		DiscoveryCode: "code-b",
		AsResponder:   true,
	})
	require.NoError(t, err)

	item, err := f.svc.ToggleRole(context.Background(), 1, 2, model.ContactRoleDependent)
	require.NoError(t, err)
	assert.True(t, item.IsResponder)
	assert.True(t, item.IsDependent)

	mirror, err := f.contacts.Get(context.Background(), 2, 1)
	require.NoError(t, err)
	assert.True(t, mirror.IsResponder)
	assert.True(t, mirror.IsDependent)

	events := f.dispatcher.byType(model.NotificationTypeRoleChanged)
	require.Len(t, events, 1)
	assert.Equal(t, int64(2), events[0].TargetID)
}

func TestToggleRoleKeepsAtLeastOneRole(t *testing.T) {
	f := newContactFixture()
	f.seedUser(1, "阿明", "code-a")
	f.seedUser(2, "阿芳", "code-b")

	_, err := f.svc.AddContact(context.Background(), 1, &dto.AddContactRequest{
		DiscoveryCode: "code-b",
		AsResponder:   true,
	})
	require.NoError(t, err)

	// 唯一的角色不允许摘掉
	_, err = f.svc.ToggleRole(context.Background(), 1, 2, model.ContactRoleResponder)
	assert.ErrorIs(t, err, pkgerrors.InvalidRoleState)

	relation, err := f.contacts.Get(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.True(t, relation.IsResponder, "failed toggle must not mutate the relation")
}

func TestToggleRoleInvalidRole(t *testing.T) {
	f := newContactFixture()

	_, err := f.svc.ToggleRole(context.Background(), 1, 2, model.ContactRole("guardian"))
	assert.ErrorIs(t, err, pkgerrors.InvalidRoleState)
}

func TestToggleRoleVersionConflict(t *testing.T) {
	f := newContactFixture()
	f.seedUser(1, "阿明", "code-a")
	f.seedUser(2, "阿芳", "code-b")

	_, err := f.svc.AddContact(context.Background(), 1, &dto.AddContactRequest{
		DiscoveryCode: "code-b",
		AsResponder:   true,
		AsDependent:   true,
	})
	require.NoError(t, err)

	// 模拟并发写入抢先推进了版本号
	f.contacts.mu.Lock()
	f.contacts.relations[contactKey{1, 2}].Version++
	f.contacts.mu.Unlock()

	svcRelationStale := &model.ContactRelation{OwnerID: 1, ContactID: 2, IsResponder: true, Version: 0}
	mirrorStale := &model.ContactRelation{OwnerID: 2, ContactID: 1, IsDependent: true, Version: 0}
	err = f.contacts.UpdateRolesPair(context.Background(), svcRelationStale, mirrorStale)
	assert.Error(t, err)
}

func TestListContactsSkipsDeletedProfiles(t *testing.T) {
	f := newContactFixture()
	f.seedUser(1, "阿明", "code-a")
	f.seedUser(2, "阿芳", "code-b")
	f.seedUser(3, "阿强", "code-c")

	for _, code := range []string{"code-b", "code-c"} {
		_, err := f.svc.AddContact(context.Background(), 1, &dto.AddContactRequest{
			DiscoveryCode: code,
			AsResponder:   true,
		})
		require.NoError(t, err)
	}

	// 其中一位注销账号，残留关系行被跳过
	f.profiles.mu.Lock()
	delete(f.profiles.profiles, 3)
	f.profiles.mu.Unlock()

	items, err := f.svc.ListContacts(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "2", items[0].UserID)
}
