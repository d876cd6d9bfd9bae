package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StillOK/internal/model"
	"StillOK/internal/model/dto"
	pkgerrors "StillOK/pkg/errors"
	"StillOK/pkg/push"
)

type notificationFixture struct {
	svc           *NotificationService
	notifications *fakeNotificationRepo
	pending       *fakePendingRepo
	profiles      *fakeProfileRepo
	push          *push.MockClient
	producer      *fakeDeliveryProducer
	schedules     *fakeScheduleStore
}

func newNotificationFixture() *notificationFixture {
	f := &notificationFixture{
		notifications: newFakeNotificationRepo(),
		pending:       newFakePendingRepo(),
		profiles:      newFakeProfileRepo(),
		push:          push.NewMockClient(),
		producer:      &fakeDeliveryProducer{},
		schedules:     newFakeScheduleStore(),
	}
	f.svc = NewNotificationService(f.notifications, f.pending, f.profiles, f.push, f.producer, f.schedules)
	return f
}

func (f *notificationFixture) seedUser(id int64, pushToken string) {
	last := time.Now().Add(-1 * time.Hour)
	f.profiles.put(&model.UserProfile{
		PublicID:          id,
		DisplayName:       "小安",
		PushToken:         pushToken,
		CheckInIntervalMs: (24 * time.Hour).Milliseconds(),
		LeadTimeMs:        (2 * time.Hour).Milliseconds(),
		LastCheckInAt:     &last,
	})
}

func alertEvent(targetID int64) model.Event {
	return model.Event{
		Type:       model.NotificationTypeDependentAlertActive,
		ActorID:    1,
		TargetID:   targetID,
		Title:      "紧急求救",
		Message:    "有人需要你的帮助",
		Priority:   model.NotificationPriorityCritical,
		OccurredAt: time.Now(),
	}
}

func TestRecordPersistsThenPublishes(t *testing.T) {
	f := newNotificationFixture()
	f.seedUser(2, "device-token")

	item, err := f.svc.Record(context.Background(), alertEvent(2))
	require.NoError(t, err)
	require.NotZero(t, item.PublicID)

	stored, err := f.notifications.GetByPublicID(context.Background(), 2, item.PublicID)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationTypeDependentAlertActive, stored.Type)
	assert.False(t, stored.Read)

	require.Len(t, f.producer.messages, 1)
	msg := f.producer.messages[0]
	assert.Equal(t, item.PublicID, msg.NotificationID)
	assert.Equal(t, "device-token", msg.PushToken)
	assert.Equal(t, string(model.NotificationPriorityCritical), msg.Priority)
}

func TestRecordWithoutPushTokenStaysLocal(t *testing.T) {
	f := newNotificationFixture()
	f.seedUser(2, "")

	_, err := f.svc.Record(context.Background(), alertEvent(2))
	require.NoError(t, err)

	assert.Empty(t, f.producer.messages)
	count, err := f.pending.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRecordPublishFailureQueuesPending(t *testing.T) {
	f := newNotificationFixture()
	f.seedUser(2, "device-token")
	f.producer.err = errors.New("broker unavailable")

	item, err := f.svc.Record(context.Background(), alertEvent(2))
	require.NoError(t, err, "publish failure must not fail the business operation")
	require.NotNil(t, item)

	actions, err := f.pending.ListOldestFirst(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, model.PendingOperationCreate, actions[0].Operation)
	assert.Equal(t, model.NotificationPriorityCritical, actions[0].Priority)
}

func TestMarkRead(t *testing.T) {
	f := newNotificationFixture()
	f.seedUser(2, "")
	require.NoError(t, f.notifications.Create(context.Background(), &model.NotificationItem{
		PublicID: 77, UserID: 2, Type: model.NotificationTypeSystemInfo,
	}))

	require.NoError(t, f.svc.MarkRead(context.Background(), 2, 77))

	stored, err := f.notifications.GetByPublicID(context.Background(), 2, 77)
	require.NoError(t, err)
	assert.True(t, stored.Read)

	// 重复置已读幂等
	assert.NoError(t, f.svc.MarkRead(context.Background(), 2, 77))

	err = f.svc.MarkRead(context.Background(), 2, 404)
	assert.ErrorIs(t, err, pkgerrors.NotificationNotFound)
}

func TestMarkAllReadReturnsCount(t *testing.T) {
	f := newNotificationFixture()
	f.seedUser(2, "")
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, f.notifications.Create(context.Background(), &model.NotificationItem{
			PublicID: i, UserID: 2, Type: model.NotificationTypeSystemInfo,
		}))
	}

	count, err := f.svc.MarkAllRead(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	count, err = f.svc.MarkAllRead(context.Background(), 2)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestHistoryPagination(t *testing.T) {
	f := newNotificationFixture()
	for i := int64(1); i <= 25; i++ {
		require.NoError(t, f.notifications.Create(context.Background(), &model.NotificationItem{
			PublicID: i, UserID: 2, Type: model.NotificationTypeSystemInfo,
		}))
	}

	page, err := f.svc.History(context.Background(), 2, dto.NotificationListQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 10)
	assert.Equal(t, "25", page.Items[0].ID, "newest first")
	assert.Equal(t, "16", page.NextCursor)

	page, err = f.svc.History(context.Background(), 2, dto.NotificationListQuery{Limit: 10, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Items, 10)
	assert.Equal(t, "15", page.Items[0].ID)

	page, err = f.svc.History(context.Background(), 2, dto.NotificationListQuery{Limit: 10, Cursor: page.NextCursor})
	require.NoError(t, err)
	assert.Len(t, page.Items, 5)
	assert.Empty(t, page.NextCursor)
}

func TestScheduleDueSoonReplacesExisting(t *testing.T) {
	f := newNotificationFixture()
	f.seedUser(2, "device-token")

	profile, err := f.profiles.GetByPublicID(context.Background(), 2)
	require.NoError(t, err)

	f.svc.ScheduleDueSoon(context.Background(), profile)
	first, err := f.schedules.Get(context.Background(), 2)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	f.svc.ScheduleDueSoon(context.Background(), profile)
	second, err := f.schedules.Get(context.Background(), 2)
	require.NoError(t, err)
	require.NotEmpty(t, second)
	assert.NotEqual(t, first, second, "re-scheduling cancels the previous push")
	assert.Contains(t, f.push.Canceled, first)

	f.svc.CancelDueSoon(context.Background(), 2)
	remaining, err := f.schedules.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestScheduleDueSoonSkipsWhenLeadDisabled(t *testing.T) {
	f := newNotificationFixture()
	f.seedUser(2, "device-token")

	profile, err := f.profiles.GetByPublicID(context.Background(), 2)
	require.NoError(t, err)
	profile.LeadTimeMs = 0

	f.svc.ScheduleDueSoon(context.Background(), profile)

	id, err := f.schedules.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Empty(t, f.push.Scheduled)
}

func deliveryPayload(token string) map[string]interface{} {
	return map[string]interface{}{
		"user_id":         float64(2),
		"notification_id": float64(99),
		"type":            "dependent_alert_active",
		"title":           "紧急求救",
		"body":            "有人需要你的帮助",
		"priority":        "critical",
		"push_token":      token,
	}
}

func seedPending(t *testing.T, f *notificationFixture, id string, op model.PendingOperation, priority model.NotificationPriority, age time.Duration, payload map[string]interface{}) {
	t.Helper()
	require.NoError(t, f.pending.Create(context.Background(), &model.PendingNotificationAction{
		ID:          id,
		Operation:   op,
		Payload:     model.JSONB(payload),
		Priority:    priority,
		MaxAttempts: 5,
		CreatedAt:   time.Now().Add(-age),
	}))
}

func TestRetrySweepCriticalWindow(t *testing.T) {
	f := newNotificationFixture()

	// critical 动作 24 小时内保留，之后丢弃
	seedPending(t, f, "fresh", model.PendingOperationCreate, model.NotificationPriorityCritical,
		23*time.Hour+59*time.Minute, deliveryPayload("tok"))
	seedPending(t, f, "stale", model.PendingOperationCreate, model.NotificationPriorityCritical,
		24*time.Hour+1*time.Minute, deliveryPayload("tok"))

	require.NoError(t, f.svc.RetrySweep(context.Background(), time.Now()))

	assert.Nil(t, f.pending.get("fresh"), "delivered action leaves the queue")
	assert.Nil(t, f.pending.get("stale"), "expired action is dropped")
	require.Len(t, f.push.Sent, 1, "only the retryable action reaches the gateway")
	assert.Equal(t, "tok", f.push.Sent[0].DeviceToken)
}

func TestRetrySweepStandardWindow(t *testing.T) {
	f := newNotificationFixture()

	seedPending(t, f, "fresh", model.PendingOperationCreate, model.NotificationPriorityStandard,
		59*time.Minute, deliveryPayload("tok"))
	seedPending(t, f, "stale", model.PendingOperationCreate, model.NotificationPriorityStandard,
		61*time.Minute, deliveryPayload("tok"))

	require.NoError(t, f.svc.RetrySweep(context.Background(), time.Now()))

	assert.Nil(t, f.pending.get("fresh"))
	assert.Nil(t, f.pending.get("stale"))
	assert.Len(t, f.push.Sent, 1)
}

func TestRetrySweepTransientFailureCountsAttempt(t *testing.T) {
	f := newNotificationFixture()
	seedPending(t, f, "a1", model.PendingOperationCreate, model.NotificationPriorityCritical,
		time.Minute, deliveryPayload("tok"))
	f.push.FailNext = true

	require.NoError(t, f.svc.RetrySweep(context.Background(), time.Now()))

	action := f.pending.get("a1")
	require.NotNil(t, action, "transient failure keeps the action queued")
	assert.Equal(t, 1, action.AttemptCount)

	// 下一轮成功送达后出队
	require.NoError(t, f.svc.RetrySweep(context.Background(), time.Now()))
	assert.Nil(t, f.pending.get("a1"))
}

func TestRetrySweepDropsWhenAttemptsExhausted(t *testing.T) {
	f := newNotificationFixture()
	require.NoError(t, f.pending.Create(context.Background(), &model.PendingNotificationAction{
		ID:           "a1",
		Operation:    model.PendingOperationCreate,
		Payload:      model.JSONB(deliveryPayload("tok")),
		Priority:     model.NotificationPriorityCritical,
		AttemptCount: 4,
		MaxAttempts:  5,
		CreatedAt:    time.Now().Add(-time.Minute),
	}))
	f.push.FailNext = true

	require.NoError(t, f.svc.RetrySweep(context.Background(), time.Now()))

	assert.Nil(t, f.pending.get("a1"), "final failed attempt uses up the last retry")
}

func TestRetrySweepDropsPermanentFailures(t *testing.T) {
	f := newNotificationFixture()

	// 负载损坏
	seedPending(t, f, "bad", model.PendingOperationCreate, model.NotificationPriorityStandard,
		time.Minute, map[string]interface{}{})
	// 目标用户已不存在
	seedPending(t, f, "gone", model.PendingOperationMarkRead, model.NotificationPriorityLow,
		time.Minute, map[string]interface{}{"user_id": float64(404)})

	require.NoError(t, f.svc.RetrySweep(context.Background(), time.Now()))

	assert.Nil(t, f.pending.get("bad"))
	assert.Nil(t, f.pending.get("gone"))
	assert.Empty(t, f.push.Sent)
}

func TestRetrySweepDeliversReadSync(t *testing.T) {
	f := newNotificationFixture()
	f.seedUser(2, "device-token")

	seedPending(t, f, "rs", model.PendingOperationMarkRead, model.NotificationPriorityLow,
		time.Minute, map[string]interface{}{"user_id": float64(2)})

	require.NoError(t, f.svc.RetrySweep(context.Background(), time.Now()))

	require.Len(t, f.push.Sent, 1)
	assert.Equal(t, "read_sync", f.push.Sent[0].Notification.Data["type"])
	assert.Nil(t, f.pending.get("rs"))
}

func TestApplyStreamInitialHistoryHydrates(t *testing.T) {
	f := newNotificationFixture()

	msg := model.NotificationStreamMessage{
		MessageID: "stream-1",
		UserID:    1,
		Tag:       model.StreamTagInitialHistory,
		Items: []model.StreamNotification{
			{NotificationID: 101, Type: "system_info", Title: "历史一", Message: "first"},
			{NotificationID: 102, Type: "system_info", Title: "历史二", Message: "second"},
			{NotificationID: 103, Type: "ping_received", Title: "历史三", Message: "third", Read: true},
		},
	}
	require.NoError(t, f.svc.ApplyStream(context.Background(), msg))

	resp, err := f.svc.History(context.Background(), 1, dto.NotificationListQuery{})
	require.NoError(t, err)
	require.Len(t, resp.Items, 3)
	assert.Equal(t, "103", resp.Items[0].ID)
	assert.True(t, resp.Items[0].Read)
	assert.Equal(t, "101", resp.Items[2].ID)

	// 重放同一批次不产生重复
	require.NoError(t, f.svc.ApplyStream(context.Background(), msg))
	resp, err = f.svc.History(context.Background(), 1, dto.NotificationListQuery{})
	require.NoError(t, err)
	assert.Len(t, resp.Items, 3)
}

func TestApplyStreamUpdateAppendsAndMergesRead(t *testing.T) {
	f := newNotificationFixture()

	require.NoError(t, f.svc.ApplyStream(context.Background(), model.NotificationStreamMessage{
		MessageID: "stream-1",
		UserID:    1,
		Tag:       model.StreamTagInitialHistory,
		Items: []model.StreamNotification{
			{NotificationID: 101, Type: "system_info", Title: "历史", Message: "old"},
		},
	}))

	// 增量更新：追加一条新通知，同时带来旧通知的远端已读
	require.NoError(t, f.svc.ApplyStream(context.Background(), model.NotificationStreamMessage{
		MessageID: "stream-2",
		UserID:    1,
		Tag:       model.StreamTagUpdate,
		Items: []model.StreamNotification{
			{NotificationID: 102, Type: "ping_received", Title: "新来的", Message: "new"},
			{NotificationID: 101, Type: "system_info", Title: "历史", Message: "old", Read: true},
		},
	}))

	resp, err := f.svc.History(context.Background(), 1, dto.NotificationListQuery{})
	require.NoError(t, err)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "102", resp.Items[0].ID)
	assert.True(t, resp.Items[1].Read, "remote read flag merged into local copy")

	// 本地已读不被未读的重放回退
	require.NoError(t, f.svc.MarkRead(context.Background(), 1, 102))
	require.NoError(t, f.svc.ApplyStream(context.Background(), model.NotificationStreamMessage{
		MessageID: "stream-3",
		UserID:    1,
		Tag:       model.StreamTagUpdate,
		Items: []model.StreamNotification{
			{NotificationID: 102, Type: "ping_received", Title: "新来的", Message: "new"},
		},
	}))
	item, err := f.notifications.GetByPublicID(context.Background(), 1, 102)
	require.NoError(t, err)
	assert.True(t, item.Read)
}

func TestApplyStreamRejectsUnknownTag(t *testing.T) {
	f := newNotificationFixture()

	err := f.svc.ApplyStream(context.Background(), model.NotificationStreamMessage{
		MessageID: "stream-1",
		UserID:    1,
		Tag:       "snapshot",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsPermanent(err), "unknown tag is not retryable")
}

func TestApplyStreamRejectsItemWithoutID(t *testing.T) {
	f := newNotificationFixture()

	err := f.svc.ApplyStream(context.Background(), model.NotificationStreamMessage{
		MessageID: "stream-1",
		UserID:    1,
		Tag:       model.StreamTagUpdate,
		Items:     []model.StreamNotification{{Title: "缺主键"}},
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsPermanent(err))

	resp, err := f.svc.History(context.Background(), 1, dto.NotificationListQuery{})
	require.NoError(t, err)
	assert.Empty(t, resp.Items)
}
