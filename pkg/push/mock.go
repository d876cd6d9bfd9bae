package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type MockDelivery struct {
	Notification Notification
	DeviceToken  string
	Delay        time.Duration
}

// MockClient 可配置的推送客户端 mock，实现 Client 接口
type MockClient struct {
	mu         sync.Mutex
	Sent       []MockDelivery
	Scheduled  map[string]MockDelivery
	Canceled   []string
	nextID     int

	// FailNext 置为 true 时，下一次调用返回 mock 错误并自动复位
	FailNext bool
}

func NewMockClient() *MockClient {
	return &MockClient{
		Sent:      make([]MockDelivery, 0),
		Scheduled: make(map[string]MockDelivery),
	}
}

func (m *MockClient) Send(ctx context.Context, n Notification, deviceToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailNext {
		m.FailNext = false
		return errors.New("mock push send failure")
	}

	m.Sent = append(m.Sent, MockDelivery{Notification: n, DeviceToken: deviceToken})
	return nil
}

func (m *MockClient) Schedule(ctx context.Context, n Notification, delay time.Duration, deviceToken string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailNext {
		m.FailNext = false
		return "", errors.New("mock push schedule failure")
	}

	m.nextID++
	id := fmt.Sprintf("mock-schedule-%d", m.nextID)
	m.Scheduled[id] = MockDelivery{Notification: n, DeviceToken: deviceToken, Delay: delay}
	return id, nil
}

func (m *MockClient) CancelScheduled(ctx context.Context, scheduleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.Scheduled, scheduleID)
	m.Canceled = append(m.Canceled, scheduleID)
	return nil
}
