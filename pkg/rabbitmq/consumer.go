package rabbitmq

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"CondoParkPlatform/pkg/logger"
)

// MessageHandler функция для обработки сообщения
type MessageHandler func(context.Context, amqp091.Delivery) error

// Consumer подписывается на routing key через эксклюзивную очередь инстанса.
// Очередь удаляется вместе с соединением, поэтому каждый инстанс получает
// свою копию каждого сообщения.
type Consumer struct {
	conn   *Connection
	config *Config
	log    logger.Logger
}

// NewConsumer создает нового консьюмера
func NewConsumer(conn *Connection, config *Config, log logger.Logger) *Consumer {
	return &Consumer{conn: conn, config: config, log: log}
}

// Subscribe обрабатывает сообщения с указанным routing key до отмены контекста.
// После обрыва канала переподключается с интервалом ReconnectInterval.
func (c *Consumer) Subscribe(ctx context.Context, routingKey string, handler MessageHandler) error {
	for {
		err := c.consume(ctx, routingKey, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.log.Warn("rabbitmq consumer stopped, reconnecting",
			logger.String("routing_key", routingKey),
			logger.Duration("retry_in", c.config.ReconnectInterval),
			logger.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.config.ReconnectInterval):
		}
	}
}

func (c *Consumer) consume(ctx context.Context, routingKey string, handler MessageHandler) error {
	channel, err := c.conn.NewChannel()
	if err != nil {
		return err
	}
	defer channel.Close()

	if err := channel.Qos(c.config.PrefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	queue, err := channel.QueueDeclare(
		"",    // имя выдает брокер
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := channel.QueueBind(queue.Name, routingKey, c.config.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue to exchange %s: %w", c.config.Exchange, err)
	}

	msgs, err := channel.ConsumeWithContext(ctx,
		queue.Name,
		"",    // consumer
		false, // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register a consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("consumer channel closed")
			}
			c.handle(ctx, msg, handler)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg amqp091.Delivery, handler MessageHandler) {
	msgCtx, cancel := context.WithTimeout(ctx, c.config.HandlerTimeout)
	defer cancel()

	if err := handler(msgCtx, msg); err != nil {
		c.log.Error("failed to handle message",
			logger.String("routing_key", msg.RoutingKey),
			logger.String("message_id", msg.MessageId),
			logger.Error(err),
		)
		// Повторная доставка только один раз
		if nackErr := msg.Nack(false, !msg.Redelivered); nackErr != nil {
			c.log.Warn("failed to nack message", logger.Error(nackErr))
		}
		return
	}

	if err := msg.Ack(false); err != nil {
		c.log.Warn("failed to ack message", logger.Error(err))
	}
}
