package redis

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/logger"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/messaging"
)

type RedisBroker struct {
	client redis.UniversalClient
	logger *logger.Logger
}

type Config struct {
	URL          string
	MaxRetries   int
	RetryBackoff time.Duration
	PoolSize     int
	MinIdleConns int
}

// NewClient opens a pooled Redis client and checks the connection. The same
// client backs the broker, the cycle lease and the shared rate limiter.
func NewClient(ctx context.Context, config Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pooling
	opts.MaxRetries = config.MaxRetries
	opts.MinRetryBackoff = config.RetryBackoff
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	opts.MinIdleConns = config.MinIdleConns

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisBroker publishes over Redis pub/sub. Delivery is at most once:
// messages published while no worker is subscribed are lost.
func NewRedisBroker(client redis.UniversalClient, log *logger.Logger) messaging.Broker {
	if log == nil {
		log = logger.NewNop()
	}
	return &RedisBroker{client: client, logger: log}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return b.client.Publish(ctx, channel, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, channel string, handler messaging.Handler) error {
	pubsub := b.client.Subscribe(ctx, channel)

	// Wait for confirmation that subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	msgs := make(chan []byte, 100)
	go func() {
		defer close(msgs)
		for msg := range pubsub.Channel() {
			select {
			case msgs <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		defer pubsub.Close()
		messaging.Drain(ctx, channel, msgs, handler, b.logger)
	}()

	b.logger.Info("Subscribed to redis channel", "channel", channel)
	return nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
