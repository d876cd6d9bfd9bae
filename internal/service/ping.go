package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"StillOK/internal/model"
	"StillOK/internal/model/dto"
	"StillOK/internal/repository"
	pkgerrors "StillOK/pkg/errors"
	"StillOK/pkg/logger"
	"StillOK/pkg/snowflake"
	"StillOK/storage/database"
)

var (
	pingService *PingService
	pingOnce    sync.Once
)

func Ping() *PingService {
	pingOnce.Do(func() {
		db := database.DB()
		pingService = NewPingService(
			repository.NewPingRepo(db),
			repository.NewContactRepo(db),
			repository.NewProfileRepo(db),
			Notification(),
		)
	})
	return pingService
}

// PingService 主动问询协调器
// 同一 (发送者, 接收者) 只允许一条未决问询；状态迁移走数据库 CAS，
// 并发响应/取消最多一方成功
type PingService struct {
	pings      repository.PingRepository
	contacts   repository.ContactRepository
	profiles   repository.ProfileRepository
	dispatcher EventDispatcher
}

func NewPingService(
	pings repository.PingRepository,
	contacts repository.ContactRepository,
	profiles repository.ProfileRepository,
	dispatcher EventDispatcher,
) *PingService {
	return &PingService{
		pings:      pings,
		contacts:   contacts,
		profiles:   profiles,
		dispatcher: dispatcher,
	}
}

// SendPing 向联系人发起问询
func (s *PingService) SendPing(ctx context.Context, senderID, recipientID int64) (*dto.PingItem, error) {
	if senderID == recipientID {
		return nil, pkgerrors.ContactSelfAdd
	}

	if _, err := s.contacts.Get(ctx, senderID, recipientID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, pkgerrors.ContactNotFound
		}
		return nil, fmt.Errorf("failed to load contact relation: %w", err)
	}

	if existing, err := s.pings.GetSentByPair(ctx, senderID, recipientID); err == nil && existing != nil {
		return nil, pkgerrors.PingDuplicate
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check outstanding ping: %w", err)
	}

	publicID, err := snowflake.NextID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ping ID: %w", err)
	}

	ping := &model.PingRequest{
		PublicID:    publicID,
		SenderID:    senderID,
		RecipientID: recipientID,
		Status:      model.PingStatusSent,
	}

	if err := s.pings.Create(ctx, ping); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// 并发双发撞上部分唯一索引
			return nil, pkgerrors.PingDuplicate
		}
		return nil, fmt.Errorf("failed to create ping: %w", err)
	}

	sender, err := s.profiles.GetByPublicID(ctx, senderID)
	senderName := "你的联系人"
	if err == nil {
		senderName = displayName(sender)
	}

	now := time.Now()
	related := senderID
	s.record(ctx, model.Event{
		Type:             model.NotificationTypePingReceived,
		ActorID:          senderID,
		TargetID:         recipientID,
		Title:            "有人在问你是否平安",
		Message:          fmt.Sprintf("%s 想确认你是否平安，点一下报个平安吧", senderName),
		Priority:         model.NotificationPriorityHigh,
		RelatedContactID: &related,
		Metadata:         map[string]interface{}{"ping_id": fmt.Sprintf("%d", publicID)},
		OccurredAt:       now,
	})

	relatedRecipient := recipientID
	s.record(ctx, model.Event{
		Type:             model.NotificationTypePingSent,
		ActorID:          senderID,
		TargetID:         senderID,
		Title:            "问询已发出",
		Message:          "对方确认平安后会通知你",
		Priority:         model.NotificationPriorityLow,
		RelatedContactID: &relatedRecipient,
		Metadata:         map[string]interface{}{"ping_id": fmt.Sprintf("%d", publicID)},
		OccurredAt:       now,
	})

	return pingItem(ping), nil
}

// RespondToPing 接收者确认平安
func (s *PingService) RespondToPing(ctx context.Context, userID, pingID int64) (*dto.PingItem, error) {
	ping, err := s.pings.GetByPublicID(ctx, pingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, pkgerrors.PingNotFound
		}
		return nil, fmt.Errorf("failed to load ping: %w", err)
	}

	if ping.RecipientID != userID {
		return nil, pkgerrors.PingNotRecipient
	}
	if ping.Status.IsTerminal() {
		return nil, pkgerrors.PingInvalidState
	}

	now := time.Now()
	ok, err := s.pings.TransitionStatus(ctx, pingID, model.PingStatusSent, model.PingStatusResponded, now)
	if err != nil {
		return nil, fmt.Errorf("failed to transition ping: %w", err)
	}
	if !ok {
		return nil, pkgerrors.PingInvalidState // 已被响应或取消
	}

	ping.Status = model.PingStatusResponded
	ping.RespondedAt = &now

	recipient, err := s.profiles.GetByPublicID(ctx, userID)
	recipientName := "对方"
	if err == nil {
		recipientName = displayName(recipient)
	}

	related := userID
	s.record(ctx, model.Event{
		Type:             model.NotificationTypePingResponded,
		ActorID:          userID,
		TargetID:         ping.SenderID,
		Title:            "对方报平安了",
		Message:          fmt.Sprintf("%s 已确认平安", recipientName),
		Priority:         model.NotificationPriorityStandard,
		RelatedContactID: &related,
		Metadata:         map[string]interface{}{"ping_id": fmt.Sprintf("%d", pingID)},
		OccurredAt:       now,
	})

	return pingItem(ping), nil
}

// CancelPing 发送者撤回未决问询
func (s *PingService) CancelPing(ctx context.Context, userID, pingID int64) (*dto.PingItem, error) {
	ping, err := s.pings.GetByPublicID(ctx, pingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, pkgerrors.PingNotFound
		}
		return nil, fmt.Errorf("failed to load ping: %w", err)
	}

	if ping.SenderID != userID {
		return nil, pkgerrors.PingNotSender
	}
	if ping.Status.IsTerminal() {
		return nil, pkgerrors.PingInvalidState
	}

	now := time.Now()
	ok, err := s.pings.TransitionStatus(ctx, pingID, model.PingStatusSent, model.PingStatusCanceled, now)
	if err != nil {
		return nil, fmt.Errorf("failed to transition ping: %w", err)
	}
	if !ok {
		return nil, pkgerrors.PingInvalidState
	}

	ping.Status = model.PingStatusCanceled
	ping.CanceledAt = &now

	related := userID
	s.record(ctx, model.Event{
		Type:             model.NotificationTypePingCanceled,
		ActorID:          userID,
		TargetID:         ping.RecipientID,
		Title:            "问询已撤回",
		Message:          "对方撤回了问询，无需再确认",
		Priority:         model.NotificationPriorityLow,
		RelatedContactID: &related,
		Metadata:         map[string]interface{}{"ping_id": fmt.Sprintf("%d", pingID)},
		OccurredAt:       now,
	})

	return pingItem(ping), nil
}

// ClearAllReceivedPings 批量确认所有发给我的未决问询
// 按原发送者归并，每位发送者收到一条汇总事件
func (s *PingService) ClearAllReceivedPings(ctx context.Context, userID int64) (int, error) {
	pending, err := s.pings.ListSentToRecipient(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to list outstanding pings: %w", err)
	}

	recipient, err := s.profiles.GetByPublicID(ctx, userID)
	recipientName := "对方"
	if err == nil {
		recipientName = displayName(recipient)
	}

	now := time.Now()
	cleared := 0
	senders := make(map[int64]struct{})
	for i := range pending {
		ok, err := s.pings.TransitionStatus(ctx, pending[i].PublicID, model.PingStatusSent, model.PingStatusResponded, now)
		if err != nil {
			logger.Logger.Error("Failed to clear ping",
				zap.Int64("ping_id", pending[i].PublicID),
				zap.Error(err),
			)
			continue
		}
		if ok {
			cleared++
			senders[pending[i].SenderID] = struct{}{}
		}
	}

	for senderID := range senders {
		related := userID
		s.record(ctx, model.Event{
			Type:             model.NotificationTypePingClearAll,
			ActorID:          userID,
			TargetID:         senderID,
			Title:            "对方报平安了",
			Message:          fmt.Sprintf("%s 已确认平安", recipientName),
			Priority:         model.NotificationPriorityStandard,
			RelatedContactID: &related,
			OccurredAt:       now,
		})
	}

	return cleared, nil
}

// ListPings 我发出和收到的问询
func (s *PingService) ListPings(ctx context.Context, userID int64) ([]dto.PingItem, error) {
	pings, err := s.pings.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pings: %w", err)
	}

	items := make([]dto.PingItem, 0, len(pings))
	for i := range pings {
		items = append(items, *pingItem(&pings[i]))
	}
	return items, nil
}

func pingItem(ping *model.PingRequest) *dto.PingItem {
	return &dto.PingItem{
		PingID:      fmt.Sprintf("%d", ping.PublicID),
		SenderID:    fmt.Sprintf("%d", ping.SenderID),
		RecipientID: fmt.Sprintf("%d", ping.RecipientID),
		Status:      string(ping.Status),
		SentAt:      ping.CreatedAt,
		RespondedAt: ping.RespondedAt,
		CanceledAt:  ping.CanceledAt,
	}
}

func (s *PingService) record(ctx context.Context, event model.Event) {
	if _, err := s.dispatcher.Record(ctx, event); err != nil {
		logger.Logger.Error("Failed to record event",
			zap.String("type", string(event.Type)),
			zap.Int64("target_id", event.TargetID),
			zap.Error(err),
		)
	}
}
