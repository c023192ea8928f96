package messaging

import (
	"context"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/logger"
)

// MemoryBroker delivers messages within one process. Publishing to a topic
// with no subscriber drops the message.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string][]chan []byte
	closed bool
	logger *logger.Logger
}

func NewMemoryBroker(log *logger.Logger) *MemoryBroker {
	if log == nil {
		log = logger.NewNop()
	}
	return &MemoryBroker{subs: make(map[string][]chan []byte), logger: log}
}

func (b *MemoryBroker) Publish(ctx context.Context, topic string, message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, ch := range b.subs[topic] {
		select {
		case ch <- payload:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, topic string, handler Handler) error {
	ch := make(chan []byte, 64)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	go Drain(ctx, topic, ch, handler, b.logger)
	return nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	return nil
}
