package service

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"StillOK/internal/cache"
	"StillOK/internal/model"
	"StillOK/internal/repository"
	"StillOK/pkg/logger"
	"StillOK/pkg/snowflake"
	"StillOK/pkg/token"
)

func TestMain(m *testing.M) {
	logger.Init()
	if err := snowflake.Init(1, 1); err != nil {
		panic(err)
	}

	// 缓存入口替换为内存空实现，单测不依赖 Redis
	invalidateProfileCache = func(ctx context.Context, userID int64) error { return nil }
	getProfileSnapshot = func(ctx context.Context, userID int64) (*model.UserProfile, error) { return nil, nil }
	setProfileSnapshot = func(ctx context.Context, profile *model.UserProfile) error { return nil }
	deleteDiscoveryIndex = func(ctx context.Context, code string) error { return nil }
	indexDiscoveryCode = func(ctx context.Context, code string, userID int64) error { return nil }
	markDiscoveryUnknown = func(ctx context.Context, code string) error { return nil }
	resolveDiscoveryIndex = func(ctx context.Context, code string) (int64, bool, error) { return 0, false, nil }

	if err := token.Init(); err != nil {
		panic(err)
	}

	// 会话缓存替换为内存实现
	sessionCache.reset()
	setRefreshToken = sessionCache.setRefreshToken
	deleteRefreshToken = sessionCache.deleteRefreshToken
	validateRefreshToken = sessionCache.validateRefreshToken
	setCurrentSessionID = sessionCache.setCurrentSessionID
	getCurrentSessionID = sessionCache.getCurrentSessionID
	deleteCurrentSessionID = sessionCache.deleteCurrentSessionID
	setSessionState = sessionCache.setSessionState
	getSessionState = sessionCache.getSessionState
	deleteSessionState = sessionCache.deleteSessionState
	tryRefreshLock = sessionCache.tryLock
	unlockRefreshLock = sessionCache.unlock

	os.Exit(m.Run())
}

// ========== Profile 仓储 ==========

type fakeProfileRepo struct {
	mu        sync.Mutex
	profiles  map[int64]*model.UserProfile
	updateErr error
}

func newFakeProfileRepo() *fakeProfileRepo {
	return &fakeProfileRepo{profiles: make(map[int64]*model.UserProfile)}
}

func (f *fakeProfileRepo) put(p *model.UserProfile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.profiles[p.PublicID] = &cp
}

func (f *fakeProfileRepo) Create(ctx context.Context, profile *model.UserProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.profiles {
		if profile.PhoneHash != nil && existing.PhoneHash != nil && *existing.PhoneHash == *profile.PhoneHash {
			return repository.ErrDuplicate
		}
	}
	cp := *profile
	f.profiles[profile.PublicID] = &cp
	return nil
}

func (f *fakeProfileRepo) GetByPublicID(ctx context.Context, publicID int64) (*model.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[publicID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProfileRepo) GetByPhoneHash(ctx context.Context, phoneHash string) (*model.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.profiles {
		if p.PhoneHash != nil && *p.PhoneHash == phoneHash {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeProfileRepo) GetByDiscoveryCode(ctx context.Context, code string) (*model.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.profiles {
		if p.DiscoveryCode == code {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeProfileRepo) UpdateFields(ctx context.Context, publicID int64, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	p, ok := f.profiles[publicID]
	if !ok {
		return repository.ErrNotFound
	}
	for k, v := range fields {
		switch k {
		case "last_check_in_at":
			t := v.(time.Time)
			p.LastCheckInAt = &t
		case "check_in_interval_ms":
			p.CheckInIntervalMs = v.(int64)
		case "lead_time_ms":
			p.LeadTimeMs = v.(int64)
		case "emergency_alert":
			p.EmergencyAlert = v.(bool)
		case "emergency_alert_at":
			if v == nil {
				p.EmergencyAlertAt = nil
			} else {
				t := v.(time.Time)
				p.EmergencyAlertAt = &t
			}
		case "display_name":
			p.DisplayName = v.(string)
		case "phone_region":
			p.PhoneRegion = v.(string)
		case "note":
			p.Note = v.(string)
		case "discovery_code":
			p.DiscoveryCode = v.(string)
		case "push_token":
			p.PushToken = v.(string)
		case "session_id":
			p.SessionID = v.(string)
		}
	}
	return nil
}

func (f *fakeProfileRepo) ListWithDeadlineBetween(ctx context.Context, from, to time.Time) ([]model.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.UserProfile
	for _, p := range f.profiles {
		expiry := p.ExpiryAt()
		if expiry == nil {
			continue
		}
		if !expiry.Before(from) && expiry.Before(to) {
			out = append(out, *p)
		}
	}
	return out, nil
}

// ========== Contact 仓储 ==========

type contactKey struct {
	owner, contact int64
}

type fakeContactRepo struct {
	mu        sync.Mutex
	relations map[contactKey]*model.ContactRelation
}

func newFakeContactRepo() *fakeContactRepo {
	return &fakeContactRepo{relations: make(map[contactKey]*model.ContactRelation)}
}

func (f *fakeContactRepo) CreatePair(ctx context.Context, relation, mirror *model.ContactRelation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := contactKey{relation.OwnerID, relation.ContactID}
	if _, ok := f.relations[key]; ok {
		return repository.ErrDuplicate
	}
	r, m := *relation, *mirror
	f.relations[key] = &r
	f.relations[contactKey{mirror.OwnerID, mirror.ContactID}] = &m
	return nil
}

func (f *fakeContactRepo) DeletePair(ctx context.Context, ownerID, contactID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.relations, contactKey{ownerID, contactID})
	delete(f.relations, contactKey{contactID, ownerID})
	return nil
}

func (f *fakeContactRepo) Get(ctx context.Context, ownerID, contactID int64) (*model.ContactRelation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.relations[contactKey{ownerID, contactID}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeContactRepo) ListByOwner(ctx context.Context, ownerID int64) ([]model.ContactRelation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ContactRelation
	for key, r := range f.relations {
		if key.owner == ownerID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContactID < out[j].ContactID })
	return out, nil
}

func (f *fakeContactRepo) ListResponders(ctx context.Context, ownerID int64) ([]model.ContactRelation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ContactRelation
	for key, r := range f.relations {
		if key.owner == ownerID && r.IsResponder {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContactID < out[j].ContactID })
	return out, nil
}

func (f *fakeContactRepo) UpdateRolesPair(ctx context.Context, owner, mirror *model.ContactRelation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rel := range []*model.ContactRelation{owner, mirror} {
		stored, ok := f.relations[contactKey{rel.OwnerID, rel.ContactID}]
		if !ok || stored.Version != rel.Version {
			return repository.ErrVersionConflict
		}
	}
	for _, rel := range []*model.ContactRelation{owner, mirror} {
		stored := f.relations[contactKey{rel.OwnerID, rel.ContactID}]
		stored.IsResponder = rel.IsResponder
		stored.IsDependent = rel.IsDependent
		stored.Version++
	}
	return nil
}

// ========== Ping 仓储 ==========

type fakePingRepo struct {
	mu    sync.Mutex
	pings map[int64]*model.PingRequest
}

func newFakePingRepo() *fakePingRepo {
	return &fakePingRepo{pings: make(map[int64]*model.PingRequest)}
}

func (f *fakePingRepo) Create(ctx context.Context, ping *model.PingRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.pings {
		if p.SenderID == ping.SenderID && p.RecipientID == ping.RecipientID && p.Status == model.PingStatusSent {
			return repository.ErrDuplicate
		}
	}
	cp := *ping
	cp.CreatedAt = time.Now()
	f.pings[ping.PublicID] = &cp
	return nil
}

func (f *fakePingRepo) GetByPublicID(ctx context.Context, publicID int64) (*model.PingRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pings[publicID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePingRepo) GetSentByPair(ctx context.Context, senderID, recipientID int64) (*model.PingRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.pings {
		if p.SenderID == senderID && p.RecipientID == recipientID && p.Status == model.PingStatusSent {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakePingRepo) ListByUser(ctx context.Context, userID int64) ([]model.PingRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.PingRequest
	for _, p := range f.pings {
		if p.SenderID == userID || p.RecipientID == userID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublicID < out[j].PublicID })
	return out, nil
}

func (f *fakePingRepo) ListSentToRecipient(ctx context.Context, recipientID int64) ([]model.PingRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.PingRequest
	for _, p := range f.pings {
		if p.RecipientID == recipientID && p.Status == model.PingStatusSent {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublicID < out[j].PublicID })
	return out, nil
}

func (f *fakePingRepo) TransitionStatus(ctx context.Context, publicID int64, from, to model.PingStatus, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pings[publicID]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	switch to {
	case model.PingStatusResponded:
		p.RespondedAt = &at
	case model.PingStatusCanceled:
		p.CanceledAt = &at
	}
	return true, nil
}

// ========== Notification 仓储 ==========

type fakeNotificationRepo struct {
	mu    sync.Mutex
	items map[int64]*model.NotificationItem
}

func newFakeNotificationRepo() *fakeNotificationRepo {
	return &fakeNotificationRepo{items: make(map[int64]*model.NotificationItem)}
}

func (f *fakeNotificationRepo) Create(ctx context.Context, item *model.NotificationItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *item
	cp.CreatedAt = time.Now()
	f.items[item.PublicID] = &cp
	return nil
}

func (f *fakeNotificationRepo) GetByPublicID(ctx context.Context, userID, publicID int64) (*model.NotificationItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[publicID]
	if !ok || item.UserID != userID {
		return nil, repository.ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (f *fakeNotificationRepo) ListByUser(ctx context.Context, userID int64, cursor int64, limit int) ([]model.NotificationItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.NotificationItem
	for _, item := range f.items {
		if item.UserID != userID {
			continue
		}
		if cursor > 0 && item.PublicID >= cursor {
			continue
		}
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublicID > out[j].PublicID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeNotificationRepo) MarkRead(ctx context.Context, userID, publicID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[publicID]
	if !ok || item.UserID != userID {
		return false, nil
	}
	item.Read = true
	return true, nil
}

func (f *fakeNotificationRepo) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, item := range f.items {
		if item.UserID == userID && !item.Read {
			item.Read = true
			count++
		}
	}
	return count, nil
}

// ========== 待处理动作仓储 ==========

type fakePendingRepo struct {
	mu      sync.Mutex
	actions map[string]*model.PendingNotificationAction
}

func newFakePendingRepo() *fakePendingRepo {
	return &fakePendingRepo{actions: make(map[string]*model.PendingNotificationAction)}
}

func (f *fakePendingRepo) Create(ctx context.Context, action *model.PendingNotificationAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *action
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	f.actions[action.ID] = &cp
	return nil
}

func (f *fakePendingRepo) ListOldestFirst(ctx context.Context, limit int) ([]model.PendingNotificationAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.PendingNotificationAction
	for _, a := range f.actions {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakePendingRepo) IncrementAttempt(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.actions[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.AttemptCount++
	return nil
}

func (f *fakePendingRepo) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.actions, id)
	return nil
}

func (f *fakePendingRepo) Count(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.actions)), nil
}

func (f *fakePendingRepo) get(id string) *model.PendingNotificationAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.actions[id]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

// ========== 事件与投递桩 ==========

type recordedEvent = model.Event

type fakeDispatcher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeDispatcher) Record(ctx context.Context, event model.Event) (*model.NotificationItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return &model.NotificationItem{UserID: event.TargetID, Type: event.Type}, nil
}

func (f *fakeDispatcher) byType(t model.NotificationType) []recordedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedEvent
	for _, e := range f.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeDeliveryProducer struct {
	mu       sync.Mutex
	messages []model.DeliveryMessage
	err      error
}

func (f *fakeDeliveryProducer) PublishDelivery(msg model.DeliveryMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msg)
	return nil
}

type fakeScheduleStore struct {
	mu  sync.Mutex
	ids map[int64]string
}

func newFakeScheduleStore() *fakeScheduleStore {
	return &fakeScheduleStore{ids: make(map[int64]string)}
}

func (f *fakeScheduleStore) Set(ctx context.Context, userID int64, scheduleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids[userID] = scheduleID
	return nil
}

func (f *fakeScheduleStore) Get(ctx context.Context, userID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ids[userID], nil
}

func (f *fakeScheduleStore) Delete(ctx context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ids, userID)
	return nil
}

// ========== 打卡相关桩 ==========

type fakeOverdueMarks struct {
	mu     sync.Mutex
	fired  map[string]bool
	active map[int64]bool
}

func newFakeOverdueMarks() *fakeOverdueMarks {
	return &fakeOverdueMarks{fired: make(map[string]bool), active: make(map[int64]bool)}
}

func (f *fakeOverdueMarks) TryMarkFired(ctx context.Context, userID, expiryAtMs int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := markKey(userID, expiryAtMs)
	if f.fired[key] {
		return false, nil
	}
	f.fired[key] = true
	return true, nil
}

func (f *fakeOverdueMarks) SetActive(ctx context.Context, userID, expiryAtMs int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[userID] = true
	return nil
}

func (f *fakeOverdueMarks) IsActive(ctx context.Context, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[userID], nil
}

func (f *fakeOverdueMarks) ClearActive(ctx context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, userID)
	return nil
}

func markKey(userID, expiryAtMs int64) string {
	return fmt.Sprintf("%d:%d", userID, expiryAtMs)
}

type fakeDeadlineScheduler struct {
	mu    sync.Mutex
	calls []time.Time
}

func (f *fakeDeadlineScheduler) ScheduleDeadlineIfDue(ctx context.Context, userID int64, expiryAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, expiryAt)
	return true, nil
}

// ========== 会话缓存 ==========

var sessionCache = &fakeSessionCache{}

type fakeSessionCache struct {
	mu       sync.Mutex
	refresh  map[int64]string
	current  map[int64]string
	states   map[int64]*model.SessionState
	locks    map[string]bool
	lockBusy int // 前 N 次 tryLock 视为锁被另一实例占用
}

func (f *fakeSessionCache) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh = make(map[int64]string)
	f.current = make(map[int64]string)
	f.states = make(map[int64]*model.SessionState)
	f.locks = make(map[string]bool)
	f.lockBusy = 0
}

func (f *fakeSessionCache) setRefreshToken(ctx context.Context, userID int64, refreshToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[userID] = refreshToken
	return nil
}

func (f *fakeSessionCache) deleteRefreshToken(ctx context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, userID)
	return nil
}

func (f *fakeSessionCache) validateRefreshToken(ctx context.Context, userID int64, refreshToken string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refresh[userID] == refreshToken
}

func (f *fakeSessionCache) setCurrentSessionID(ctx context.Context, userID int64, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current[userID] = sessionID
	return nil
}

func (f *fakeSessionCache) getCurrentSessionID(ctx context.Context, userID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current[userID], nil
}

func (f *fakeSessionCache) deleteCurrentSessionID(ctx context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.current, userID)
	return nil
}

func (f *fakeSessionCache) setSessionState(ctx context.Context, userID int64, state *model.SessionState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *state
	f.states[userID] = &cp
	return nil
}

func (f *fakeSessionCache) getSessionState(ctx context.Context, userID int64) (*model.SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[userID]
	if !ok {
		return nil, nil
	}
	cp := *state
	return &cp, nil
}

func (f *fakeSessionCache) deleteSessionState(ctx context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.states, userID)
	return nil
}

func (f *fakeSessionCache) tryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lockBusy > 0 {
		f.lockBusy--
		return false, nil
	}
	if f.locks[key] {
		return false, nil
	}
	f.locks[key] = true
	return true, nil
}

func (f *fakeSessionCache) unlock(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locks, key)
	return nil
}

func (f *fakeSessionCache) state(userID int64) *model.SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[userID]
}

// ========== 验证码校验 ==========

type fakeVerifier struct {
	entry *cache.VerificationEntry
	err   error
}

func (f *fakeVerifier) Verify(ctx context.Context, verificationID, code string) (*cache.VerificationEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.entry, nil
}
