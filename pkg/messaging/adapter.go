package messaging

import (
	"context"

	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/logger"
)

// Drain feeds every payload from msgs to handler until ctx is done or msgs
// is closed. Handler errors are logged and the loop continues.
func Drain(ctx context.Context, topic string, msgs <-chan []byte, handler Handler, log *logger.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgs:
			if !ok {
				return
			}
			if err := handler(ctx, payload); err != nil {
				log.Error(err, "Message handler failed", "topic", topic)
			}
		}
	}
}
