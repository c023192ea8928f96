package worker

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/model"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/service/notification"
	apperrors "github.com/joaopba/hcc-med-pay-flow-sub001/pkg/errors"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/logger"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/messaging"
)

type FanOuter interface {
	FanOut(ctx context.Context, event model.DomainEvent) (*notification.FanOutResult, error)
}

// EventConsumer runs notification fan-out for domain events read from the
// broker.
type EventConsumer struct {
	broker messaging.Broker
	topic  string
	fanout FanOuter
	logger *logger.Logger
}

func NewEventConsumer(broker messaging.Broker, topic string, fanout FanOuter, log *logger.Logger) *EventConsumer {
	if log == nil {
		log = logger.NewNop()
	}
	return &EventConsumer{broker: broker, topic: topic, fanout: fanout, logger: log}
}

func (c *EventConsumer) Start(ctx context.Context) error {
	if err := c.broker.Subscribe(ctx, c.topic, c.Handle); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.topic, err)
	}
	return nil
}

// Handle processes one event payload. Malformed events and events whose
// record no longer exists are dropped; other failures are returned so the
// broker can redeliver.
func (c *EventConsumer) Handle(ctx context.Context, payload []byte) error {
	var event model.DomainEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		c.logger.Warn("Dropping malformed event", "error", err.Error())
		return nil
	}
	if err := event.Validate(); err != nil {
		c.logger.Warn("Dropping invalid event", "error", err.Error())
		return nil
	}

	result, err := c.fanout.FanOut(ctx, event)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrNotFound) || apperrors.HasCode(err, apperrors.ErrBadRequest) {
			c.logger.Warn("Dropping event", "event", string(event.Type), "record_id", event.RecordID.String(), "error", err.Error())
			return nil
		}
		return err
	}

	c.logger.Info("Event processed",
		"event", string(event.Type),
		"record_id", event.RecordID.String(),
		"sent", result.Sent,
		"failed", result.Failed)
	return nil
}
