package push

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"StillOK/config"
	"StillOK/pkg/logger"
)

// Priority 投递优先级，critical 使用强提醒通道
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityStandard Priority = "standard"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Notification 推送网关的投递载荷
type Notification struct {
	ID       string                 `json:"id"`
	Title    string                 `json:"title"`
	Body     string                 `json:"body"`
	Priority Priority               `json:"priority"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// Client 推送网关客户端接口
type Client interface {
	// Send 立即投递到设备 token
	Send(ctx context.Context, n Notification, deviceToken string) error

	// Schedule 延迟投递，返回可取消的调度 ID
	Schedule(ctx context.Context, n Notification, delay time.Duration, deviceToken string) (string, error)

	// CancelScheduled 取消尚未投递的调度
	CancelScheduled(ctx context.Context, scheduleID string) error
}

var (
	pushClient Client
	pushOnce   sync.Once
	pushErr    error
)

// Init 初始化推送客户端
func Init() error {
	pushOnce.Do(func() {
		cfg := config.Cfg

		switch cfg.PushProvider {
		case "webhook":
			pushClient, pushErr = NewWebhookClient(cfg.PushGatewayURL, time.Duration(cfg.PushTimeoutSeconds)*time.Second)
		case "mock":
			pushClient = NewMockClient()
		default:
			pushErr = fmt.Errorf("unsupported push provider: %s", cfg.PushProvider)
		}

		if pushErr != nil {
			logger.Logger.Error("Failed to initialize push client", zap.Error(pushErr))
			return
		}

		logger.Logger.Info("Push client initialized successfully",
			zap.String("provider", cfg.PushProvider),
		)
	})

	return pushErr
}

func GetClient() Client {
	if pushClient == nil {
		panic("push client not initialized, call push.Init() first")
	}
	return pushClient
}

// SetClient 替换客户端实例，测试注入用
func SetClient(c Client) {
	pushClient = c
}
