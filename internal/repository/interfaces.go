package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/model"
)

var (
	// ErrRecordNotFound is returned when a lookup by id finds no row.
	ErrRecordNotFound = errors.New("record not found")
	// ErrStateConflict is returned when a conditional update matched no row
	// because the record is no longer in the expected prior state.
	ErrStateConflict = errors.New("record state changed concurrently")
)

// All repository interfaces in one file
type (
	// MessageRepository stores the outbound WhatsApp queue
	MessageRepository interface {
		Enqueue(ctx context.Context, msg *model.OutboundMessage) error
		Get(ctx context.Context, id uuid.UUID) (*model.OutboundMessage, error)
		// ListDue returns pending records with next_attempt_at <= now,
		// ordered by priority then created_at.
		ListDue(ctx context.Context, now time.Time, limit int) ([]*model.OutboundMessage, error)
		// Transition persists msg's mutable fields only if the stored state
		// still equals from. Returns ErrStateConflict otherwise.
		Transition(ctx context.Context, msg *model.OutboundMessage, from model.MessageState) error
		List(ctx context.Context, filters *model.MessageFilters) ([]*model.OutboundMessage, error)
		DeleteSentBefore(ctx context.Context, before time.Time) (int64, error)
		// ReclaimStale returns in_flight records last touched before the given
		// time to pending, for attempts whose process died mid-send.
		ReclaimStale(ctx context.Context, before time.Time) (int64, error)
	}

	InvoiceRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Invoice, error)
		// UpdateStatus moves an invoice out of from. Returns ErrStateConflict
		// when the invoice was no longer in that status.
		UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.InvoiceStatus, reason *string, at time.Time) error
		UpdateExtraction(ctx context.Context, invoice *model.Invoice) error
	}

	PaymentRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Payment, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.PaymentStatus) error
	}

	DoctorRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Doctor, error)
	}

	ManagerRepository interface {
		// ListNotifiable returns the organization's managers with notifications enabled.
		ListNotifiable(ctx context.Context, organizationID uuid.UUID) ([]*model.Manager, error)
	}

	SettingsRepository interface {
		// GetChannelSettings returns ErrRecordNotFound when no row exists.
		GetChannelSettings(ctx context.Context) (*model.ChannelSettings, error)
	}
)
