// Package amqp implements messaging.Broker on RabbitMQ durable queues.
package amqp

import (
	"context"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/streadway/amqp"

	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/logger"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/messaging"
)

type Broker struct {
	conn   *amqp.Connection
	mu     sync.Mutex
	pub    *amqp.Channel
	logger *logger.Logger
}

func NewBroker(url string, log *logger.Logger) (*Broker, error) {
	if log == nil {
		log = logger.NewNop()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	return &Broker{conn: conn, pub: ch, logger: log}, nil
}

func declare(ch *amqp.Channel, topic string) (amqp.Queue, error) {
	return ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
}

func (b *Broker) Publish(ctx context.Context, topic string, message interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	q, err := declare(b.pub, topic)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", topic, err)
	}
	err = b.pub.Publish("", q.Name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe consumes topic with manual acks. A failed message is requeued
// once and dropped if it fails again on redelivery.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler messaging.Handler) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	q, err := declare(ch, topic)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("failed to declare queue %s: %w", topic, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("failed to set prefetch: %w", err)
	}
	deliveries, err := ch.Consume(
		q.Name,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				b.handle(ctx, topic, d, handler)
			}
		}
	}()

	b.logger.Info("Consuming rabbitmq queue", "queue", q.Name)
	return nil
}

func (b *Broker) handle(ctx context.Context, topic string, d amqp.Delivery, handler messaging.Handler) {
	if err := handler(ctx, d.Body); err != nil {
		requeue := !d.Redelivered
		b.logger.Error(err, "Message handler failed", "queue", topic, "requeue", requeue)
		if nackErr := d.Nack(false, requeue); nackErr != nil {
			b.logger.Error(nackErr, "Failed to nack message", "queue", topic)
		}
		return
	}
	if err := d.Ack(false); err != nil {
		b.logger.Error(err, "Failed to ack message", "queue", topic)
	}
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.pub.Close()
	return b.conn.Close()
}
