package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// NotifyMetrics 通知投递管线的指标集合
type NotifyMetrics struct {
	DeliveredTotal      metric.Int64Counter
	DeliveryFailedTotal metric.Int64Counter
	PendingEnqueued     metric.Int64Counter
	PendingRetried      metric.Int64Counter
	PendingDropped      metric.Int64Counter
	PendingQueueLength  metric.Int64UpDownCounter
	DeliveryDuration    metric.Float64Histogram
}

var (
	notifyMetrics *NotifyMetrics

	meter = otel.Meter("stillok")
)

// InitMetrics 初始化通知管线指标
func InitMetrics() error {
	m := &NotifyMetrics{}

	var err error
	m.DeliveredTotal, err = meter.Int64Counter(
		"notify_delivered_total",
		metric.WithDescription("Notifications delivered to the push gateway"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return err
	}

	m.DeliveryFailedTotal, err = meter.Int64Counter(
		"notify_delivery_failed_total",
		metric.WithDescription("Notification delivery attempts that failed"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return err
	}

	m.PendingEnqueued, err = meter.Int64Counter(
		"notify_pending_enqueued_total",
		metric.WithDescription("Actions queued for offline retry"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return err
	}

	m.PendingRetried, err = meter.Int64Counter(
		"notify_pending_retried_total",
		metric.WithDescription("Retry attempts made by the sweep worker"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return err
	}

	m.PendingDropped, err = meter.Int64Counter(
		"notify_pending_dropped_total",
		metric.WithDescription("Pending actions dropped after expiry or attempt exhaustion"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return err
	}

	m.PendingQueueLength, err = meter.Int64UpDownCounter(
		"notify_pending_queue_length",
		metric.WithDescription("Pending actions awaiting retry"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return err
	}

	m.DeliveryDuration, err = meter.Float64Histogram(
		"notify_delivery_duration_seconds",
		metric.WithDescription("Time spent delivering to the push gateway"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	notifyMetrics = m
	return nil
}

func get() *NotifyMetrics {
	return notifyMetrics
}

// RecordDelivered 记录一次成功投递
func RecordDelivered(ctx context.Context, notifType string, duration float64) {
	m := get()
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("type", notifType))
	m.DeliveredTotal.Add(ctx, 1, attrs)
	m.DeliveryDuration.Record(ctx, duration, attrs)
}

// RecordDeliveryFailed 记录一次投递失败
func RecordDeliveryFailed(ctx context.Context, notifType, reason string) {
	m := get()
	if m == nil {
		return
	}
	m.DeliveryFailedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", notifType),
		attribute.String("reason", reason),
	))
}

// RecordPendingEnqueued 记录动作进入离线重试队列
func RecordPendingEnqueued(ctx context.Context, op, priority string) {
	m := get()
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("priority", priority),
	)
	m.PendingEnqueued.Add(ctx, 1, attrs)
	m.PendingQueueLength.Add(ctx, 1, attrs)
}

// RecordPendingRetried 记录一次重试尝试
func RecordPendingRetried(ctx context.Context, op string, success bool) {
	m := get()
	if m == nil {
		return
	}
	m.PendingRetried.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.Bool("success", success),
	))
}

// RecordPendingDropped 记录动作被丢弃（过期或次数耗尽）
func RecordPendingDropped(ctx context.Context, op, reason string) {
	m := get()
	if m == nil {
		return
	}
	m.PendingDropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("reason", reason),
	))
	m.PendingQueueLength.Add(ctx, -1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordPendingResolved 记录动作投递成功并出队
func RecordPendingResolved(ctx context.Context, op string) {
	m := get()
	if m == nil {
		return
	}
	m.PendingQueueLength.Add(ctx, -1, metric.WithAttributes(attribute.String("op", op)))
}
