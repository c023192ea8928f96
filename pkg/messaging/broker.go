package messaging

import (
	"context"
	"errors"
)

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("broker closed")

// Handler processes one message body. A returned error is reported to the
// broker, which may redeliver.
type Handler func(ctx context.Context, payload []byte) error

// Broker defines the interface for message brokers
type Broker interface {
	// Publish JSON-encodes message and sends it to topic.
	Publish(ctx context.Context, topic string, message interface{}) error
	// Subscribe starts delivering topic's messages to handler in a background
	// goroutine until ctx is done. It returns once the subscription is live.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}
