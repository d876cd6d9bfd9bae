package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	hzclient "github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"go.uber.org/zap"

	"StillOK/pkg/logger"
)

// WebhookClient 将投递请求转发到推送网关的 HTTP 客户端。
// 网关负责面向 APNs/FCM 的最终投递，这里只保证带超时的可靠转发。
type WebhookClient struct {
	base    string
	timeout time.Duration
	hc      *hzclient.Client
	breaker *CircuitBreaker
}

func NewWebhookClient(baseURL string, timeout time.Duration) (*WebhookClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("push gateway URL is required")
	}

	hc, err := hzclient.NewClient(
		hzclient.WithDialTimeout(timeout),
		hzclient.WithClientReadTimeout(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create push http client: %w", err)
	}

	return &WebhookClient{
		base:    baseURL,
		timeout: timeout,
		hc:      hc,
		breaker: NewCircuitBreaker("push-gateway", 5, 30*time.Second),
	}, nil
}

type webhookRequest struct {
	Notification Notification `json:"notification"`
	DeviceToken  string       `json:"device_token,omitempty"`
	DelayMs      int64        `json:"delay_ms,omitempty"`
	ScheduleID   string       `json:"schedule_id,omitempty"`
}

type webhookResponse struct {
	ScheduleID string `json:"schedule_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (w *WebhookClient) post(ctx context.Context, path string, body webhookRequest) (*webhookResponse, error) {
	var resp *webhookResponse
	err := w.breaker.Call(func() error {
		var callErr error
		resp, callErr = w.doPost(ctx, path, body)
		return callErr
	})
	return resp, err
}

func (w *WebhookClient) doPost(ctx context.Context, path string, body webhookRequest) (*webhookResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal push payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req := &protocol.Request{}
	res := &protocol.Response{}
	req.SetMethod(consts.MethodPost)
	req.SetRequestURI(w.base + path)
	req.Header.SetContentTypeBytes([]byte("application/json"))
	req.SetBody(payload)

	if err := w.hc.Do(ctx, req, res); err != nil {
		return nil, fmt.Errorf("push gateway request failed: %w", err)
	}

	if res.StatusCode() >= 500 {
		return nil, fmt.Errorf("push gateway error: status=%d", res.StatusCode())
	}

	var parsed webhookResponse
	if len(res.Body()) > 0 {
		if err := json.Unmarshal(res.Body(), &parsed); err != nil {
			return nil, fmt.Errorf("failed to decode push gateway response: %w", err)
		}
	}

	if res.StatusCode() >= 400 {
		logger.Logger.Warn("Push gateway rejected request",
			zap.Int("status", res.StatusCode()),
			zap.String("path", path),
			zap.String("error", parsed.Error),
		)
		return nil, fmt.Errorf("push gateway rejected: status=%d %s", res.StatusCode(), parsed.Error)
	}

	return &parsed, nil
}

func (w *WebhookClient) Send(ctx context.Context, n Notification, deviceToken string) error {
	_, err := w.post(ctx, "/v1/push/send", webhookRequest{
		Notification: n,
		DeviceToken:  deviceToken,
	})
	return err
}

func (w *WebhookClient) Schedule(ctx context.Context, n Notification, delay time.Duration, deviceToken string) (string, error) {
	resp, err := w.post(ctx, "/v1/push/schedule", webhookRequest{
		Notification: n,
		DeviceToken:  deviceToken,
		DelayMs:      delay.Milliseconds(),
	})
	if err != nil {
		return "", err
	}
	return resp.ScheduleID, nil
}

func (w *WebhookClient) CancelScheduled(ctx context.Context, scheduleID string) error {
	_, err := w.post(ctx, "/v1/push/cancel", webhookRequest{
		ScheduleID: scheduleID,
	})
	return err
}
