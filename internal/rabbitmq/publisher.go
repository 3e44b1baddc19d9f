// Package rabbitmq publishes order events to a durable queue for deployments
// that run RabbitMQ instead of Kafka.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/orders"
	amqp "github.com/rabbitmq/amqp091-go"
)

type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	log     *slog.Logger
}

func NewPublisher(url, queue string, log *slog.Logger) (*Publisher, error) {
	if log == nil {
		log = slog.Default()
	}
	var (
		conn *amqp.Connection
		err  error
	)
	// the broker may still be starting when the api boots
	for i := 1; i <= 10; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		log.Warn("rabbitmq dial failed, retrying", "attempt", i, "error", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &Publisher{conn: conn, channel: ch, queue: queue, log: log}, nil
}

// PublishEvent makes Publisher an orders.EventPublisher. The Kafka topic name
// rides along as a header so consumers can route on it.
func (p *Publisher) PublishEvent(ctx context.Context, topic string, env orders.Envelope) error {
	msg, err := Message(topic, env)
	if err != nil {
		return err
	}
	if err := p.channel.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", env.EventType, err)
	}
	p.log.Debug("event published", "queue", p.queue, "event", env.EventType, "id", env.EventID)
	return nil
}

func Message(topic string, env orders.Envelope) (amqp.Publishing, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode envelope: %w", err)
	}
	return amqp.Publishing{
		MessageId:     env.EventID,
		CorrelationId: env.CorrelationID,
		Type:          env.EventType,
		Timestamp:     env.OccurredAt,
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Headers:       amqp.Table{"topic": topic, "event_version": int32(env.EventVersion)},
		Body:          body,
	}, nil
}

func (p *Publisher) Close() {
	if err := p.channel.Close(); err != nil {
		p.log.Warn("rabbitmq channel close", "error", err)
	}
	if err := p.conn.Close(); err != nil {
		p.log.Warn("rabbitmq connection close", "error", err)
	}
}
