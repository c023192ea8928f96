package model

import (
	"fmt"

	"github.com/google/uuid"
)

type EventType string

const (
	EventNewInvoice       EventType = "new_invoice"
	EventPaymentCompleted EventType = "payment_completed"
)

// DomainEvent is what the portal publishes when an invoice is uploaded or a
// payment is marked paid. RecordID is the invoice id or payment id respectively.
type DomainEvent struct {
	Type     EventType `json:"type" binding:"required,oneof=new_invoice payment_completed"`
	RecordID uuid.UUID `json:"record_id" binding:"required"`
}

func (e DomainEvent) Validate() error {
	switch e.Type {
	case EventNewInvoice, EventPaymentCompleted:
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.RecordID == uuid.Nil {
		return fmt.Errorf("record id is required")
	}
	return nil
}
