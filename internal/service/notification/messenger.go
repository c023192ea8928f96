package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/model"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/repository"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/service/settings"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/whatsapp"
	apperrors "github.com/joaopba/hcc-med-pay-flow-sub001/pkg/errors"
)

type Mode string

const (
	// ModeDirect calls the channel provider immediately.
	ModeDirect Mode = "direct"
	// ModeQueue stores an outbound message for the dispatcher.
	ModeQueue Mode = "queue"
)

type Sender interface {
	Send(ctx context.Context, settings *model.ChannelSettings, msg *model.OutboundMessage) error
}

// Messenger delivers single WhatsApp messages either directly or through the
// outbound queue.
type Messenger struct {
	mode        Mode
	sender      Sender
	resolver    settings.Resolver
	queue       repository.MessageRepository
	maxAttempts int
	now         func() time.Time
}

func NewMessenger(mode Mode, sender Sender, resolver settings.Resolver, queue repository.MessageRepository, maxAttempts int) (*Messenger, error) {
	switch mode {
	case ModeDirect:
		if sender == nil || resolver == nil {
			return nil, fmt.Errorf("direct mode needs a sender and a settings resolver")
		}
	case ModeQueue:
		if queue == nil {
			return nil, fmt.Errorf("queue mode needs a message repository")
		}
	default:
		return nil, fmt.Errorf("unknown notification mode %q", mode)
	}
	if maxAttempts <= 0 {
		maxAttempts = model.DefaultMaxAttempts
	}
	return &Messenger{
		mode:        mode,
		sender:      sender,
		resolver:    resolver,
		queue:       queue,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}, nil
}

func (m *Messenger) Mode() Mode { return m.mode }

// Settings resolves channel settings for direct delivery. Queue mode needs
// none and returns nil.
func (m *Messenger) Settings(ctx context.Context) (*model.ChannelSettings, error) {
	if m.mode != ModeDirect {
		return nil, nil
	}
	cfg, err := m.resolver.Resolve(ctx)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrConfiguration) {
			return nil, err
		}
		return nil, apperrors.Configuration("channel settings unavailable", err)
	}
	return cfg, nil
}

// Deliver sends payload to phone. cfg may be nil, in which case settings are
// resolved per call. A duplicate response from the provider counts as delivered.
func (m *Messenger) Deliver(ctx context.Context, cfg *model.ChannelSettings, phone string, payload model.Payload) error {
	msg, err := model.NewOutboundMessage(phone, payload, model.DefaultPriority, m.maxAttempts, m.now())
	if err != nil {
		return apperrors.BadRequest("invalid message", err)
	}

	if m.mode == ModeQueue {
		if err := m.queue.Enqueue(ctx, msg); err != nil {
			return fmt.Errorf("failed to enqueue message: %w", err)
		}
		return nil
	}

	if cfg == nil {
		if cfg, err = m.Settings(ctx); err != nil {
			return err
		}
	}
	if err := m.sender.Send(ctx, cfg, msg); !whatsapp.Delivered(err) {
		return err
	}
	return nil
}

func (m *Messenger) SendText(ctx context.Context, phone, body string) error {
	return m.Deliver(ctx, nil, phone, model.TextPayload(body))
}
