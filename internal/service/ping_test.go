package service

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StillOK/internal/model"
	pkgerrors "StillOK/pkg/errors"
)

type pingFixture struct {
	svc        *PingService
	pings      *fakePingRepo
	contacts   *fakeContactRepo
	profiles   *fakeProfileRepo
	dispatcher *fakeDispatcher
}

func newPingFixture() *pingFixture {
	f := &pingFixture{
		pings:      newFakePingRepo(),
		contacts:   newFakeContactRepo(),
		profiles:   newFakeProfileRepo(),
		dispatcher: &fakeDispatcher{},
	}
	f.svc = NewPingService(f.pings, f.contacts, f.profiles, f.dispatcher)
	return f
}

func (f *pingFixture) seedPair(a, b int64) {
	last := time.Now().Add(-1 * time.Hour)
	for _, id := range []int64{a, b} {
		f.profiles.put(&model.UserProfile{
			PublicID:          id,
			DisplayName:       "用户",
			CheckInIntervalMs: (24 * time.Hour).Milliseconds(),
			LastCheckInAt:     &last,
		})
	}
	f.contacts.relations[contactKey{a, b}] = &model.ContactRelation{OwnerID: a, ContactID: b, IsDependent: true}
	f.contacts.relations[contactKey{b, a}] = &model.ContactRelation{OwnerID: b, ContactID: a, IsResponder: true}
}

func TestSendPingEmitsBothSides(t *testing.T) {
	f := newPingFixture()
	f.seedPair(1, 2)

	item, err := f.svc.SendPing(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, string(model.PingStatusSent), item.Status)

	received := f.dispatcher.byType(model.NotificationTypePingReceived)
	require.Len(t, received, 1)
	assert.Equal(t, int64(2), received[0].TargetID)
	assert.Equal(t, model.NotificationPriorityHigh, received[0].Priority)
	assert.Equal(t, item.PingID, received[0].Metadata["ping_id"])

	sent := f.dispatcher.byType(model.NotificationTypePingSent)
	require.Len(t, sent, 1)
	assert.Equal(t, int64(1), sent[0].TargetID)
	assert.Equal(t, model.NotificationPriorityLow, sent[0].Priority)
}

func TestSendPingRejectsSelf(t *testing.T) {
	f := newPingFixture()
	f.seedPair(1, 2)

	_, err := f.svc.SendPing(context.Background(), 1, 1)
	assert.ErrorIs(t, err, pkgerrors.ContactSelfAdd)
}

func TestSendPingRequiresRelation(t *testing.T) {
	f := newPingFixture()

	_, err := f.svc.SendPing(context.Background(), 1, 2)
	assert.ErrorIs(t, err, pkgerrors.ContactNotFound)
}

func TestSendPingDuplicateOutstanding(t *testing.T) {
	f := newPingFixture()
	f.seedPair(1, 2)

	_, err := f.svc.SendPing(context.Background(), 1, 2)
	require.NoError(t, err)

	_, err = f.svc.SendPing(context.Background(), 1, 2)
	assert.ErrorIs(t, err, pkgerrors.PingDuplicate)
}

func TestSendPingAllowedAfterResponse(t *testing.T) {
	f := newPingFixture()
	f.seedPair(1, 2)

	item, err := f.svc.SendPing(context.Background(), 1, 2)
	require.NoError(t, err)

	pingID := mustParseID(t, item.PingID)
	_, err = f.svc.RespondToPing(context.Background(), 2, pingID)
	require.NoError(t, err)

	// 前一条已进入终态，可以再次问询
	_, err = f.svc.SendPing(context.Background(), 1, 2)
	assert.NoError(t, err)
}

func TestRespondToPing(t *testing.T) {
	f := newPingFixture()
	f.seedPair(1, 2)

	item, err := f.svc.SendPing(context.Background(), 1, 2)
	require.NoError(t, err)
	pingID := mustParseID(t, item.PingID)

	responded, err := f.svc.RespondToPing(context.Background(), 2, pingID)
	require.NoError(t, err)
	assert.Equal(t, string(model.PingStatusResponded), responded.Status)
	require.NotNil(t, responded.RespondedAt)

	events := f.dispatcher.byType(model.NotificationTypePingResponded)
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].TargetID, "sender gets notified")
}

func TestRespondToPingOnlyRecipient(t *testing.T) {
	f := newPingFixture()
	f.seedPair(1, 2)

	item, err := f.svc.SendPing(context.Background(), 1, 2)
	require.NoError(t, err)
	pingID := mustParseID(t, item.PingID)

	_, err = f.svc.RespondToPing(context.Background(), 1, pingID)
	assert.ErrorIs(t, err, pkgerrors.PingNotRecipient)
}

func TestRespondToPingTerminalState(t *testing.T) {
	f := newPingFixture()
	f.seedPair(1, 2)

	item, err := f.svc.SendPing(context.Background(), 1, 2)
	require.NoError(t, err)
	pingID := mustParseID(t, item.PingID)

	_, err = f.svc.CancelPing(context.Background(), 1, pingID)
	require.NoError(t, err)

	_, err = f.svc.RespondToPing(context.Background(), 2, pingID)
	assert.ErrorIs(t, err, pkgerrors.PingInvalidState)
}

func TestCancelPingOnlySender(t *testing.T) {
	f := newPingFixture()
	f.seedPair(1, 2)

	item, err := f.svc.SendPing(context.Background(), 1, 2)
	require.NoError(t, err)
	pingID := mustParseID(t, item.PingID)

	_, err = f.svc.CancelPing(context.Background(), 2, pingID)
	assert.ErrorIs(t, err, pkgerrors.PingNotSender)

	canceled, err := f.svc.CancelPing(context.Background(), 1, pingID)
	require.NoError(t, err)
	assert.Equal(t, string(model.PingStatusCanceled), canceled.Status)

	events := f.dispatcher.byType(model.NotificationTypePingCanceled)
	require.Len(t, events, 1)
	assert.Equal(t, int64(2), events[0].TargetID, "recipient learns about the withdrawal")
}

func TestCancelPingNotFound(t *testing.T) {
	f := newPingFixture()

	_, err := f.svc.CancelPing(context.Background(), 1, 424242)
	assert.ErrorIs(t, err, pkgerrors.PingNotFound)
}

func TestClearAllReceivedPings(t *testing.T) {
	f := newPingFixture()
	f.seedPair(1, 9)
	f.seedPair(2, 9)
	f.seedPair(3, 9)

	// 发送者 1 和 2 各有未决问询，3 的问询已撤回
	_, err := f.svc.SendPing(context.Background(), 1, 9)
	require.NoError(t, err)
	_, err = f.svc.SendPing(context.Background(), 2, 9)
	require.NoError(t, err)
	item, err := f.svc.SendPing(context.Background(), 3, 9)
	require.NoError(t, err)
	_, err = f.svc.CancelPing(context.Background(), 3, mustParseID(t, item.PingID))
	require.NoError(t, err)

	f.dispatcher.mu.Lock()
	f.dispatcher.events = nil
	f.dispatcher.mu.Unlock()

	cleared, err := f.svc.ClearAllReceivedPings(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, 2, cleared)

	// 每位原发送者一条汇总事件
	events := f.dispatcher.byType(model.NotificationTypePingClearAll)
	require.Len(t, events, 2)
	targets := map[int64]bool{}
	for _, e := range events {
		targets[e.TargetID] = true
	}
	assert.True(t, targets[1])
	assert.True(t, targets[2])

	// 再次清空是空操作
	cleared, err = f.svc.ClearAllReceivedPings(context.Background(), 9)
	require.NoError(t, err)
	assert.Zero(t, cleared)
}

func mustParseID(t *testing.T, s string) int64 {
	t.Helper()
	id, err := strconv.ParseInt(s, 10, 64)
	require.NoError(t, err)
	return id
}
