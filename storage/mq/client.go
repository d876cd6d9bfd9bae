package mq

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"StillOK/config"
)

const (
	// ExchangeNotify 推送投递任务 topic 交换机
	ExchangeNotify = "notify.topic"
	// ExchangeDelayed 延迟消息交换机（x-delayed-message 插件）
	ExchangeDelayed = "deadline.delayed"

	QueueNotifyDeliver   = "notify.deliver"
	QueueNotifyStream    = "notify.stream"
	QueueDeadlineOverdue = "deadline.overdue"
)

var (
	conn   *amqp.Connection
	mqOnce sync.Once
	mqErr  error
)

func Init() error {
	mqOnce.Do(func() {
		url := config.Cfg.GetRabbitMQURL()

		conn, mqErr = amqp.Dial(url)
		if mqErr != nil {
			return
		}

		mqErr = declareTopology()
	})

	return mqErr
}

// declareTopology 声明交换机、队列和绑定，消费者和生产者共用
func declareTopology() error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(ExchangeNotify, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(ExchangeDelayed, "x-delayed-message", true, false, false, false, amqp.Table{
		"x-delayed-type": "topic",
	}); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(QueueNotifyDeliver, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.QueueBind(QueueNotifyDeliver, "notify.deliver.*", ExchangeNotify, false, nil); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(QueueNotifyStream, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.QueueBind(QueueNotifyStream, "notify.stream.*", ExchangeNotify, false, nil); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(QueueDeadlineOverdue, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.QueueBind(QueueDeadlineOverdue, "deadline.overdue", ExchangeDelayed, false, nil); err != nil {
		return err
	}

	return nil
}

func Connection() *amqp.Connection {
	return conn
}

func Close(ctx context.Context) error {
	if conn == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- conn.Close()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
