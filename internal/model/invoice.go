package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceStatusPending  InvoiceStatus = "pending"
	InvoiceStatusApproved InvoiceStatus = "approved"
	InvoiceStatusRejected InvoiceStatus = "rejected"
)

type PaymentStatus string

const (
	PaymentStatusAwaitingInvoice  PaymentStatus = "awaiting_invoice"
	PaymentStatusInvoiceSubmitted PaymentStatus = "invoice_submitted"
	PaymentStatusApproved         PaymentStatus = "approved"
	PaymentStatusInvoiceRejected  PaymentStatus = "invoice_rejected"
	PaymentStatusPaid             PaymentStatus = "paid"
)

// Invoice is a doctor's service invoice (NFS-e) attached to a payment.
type Invoice struct {
	ID              uuid.UUID           `db:"id" json:"id"`
	PaymentID       uuid.UUID           `db:"payment_id" json:"payment_id"`
	DoctorID        uuid.UUID           `db:"doctor_id" json:"doctor_id"`
	OrganizationID  uuid.UUID           `db:"organization_id" json:"organization_id"`
	Status          InvoiceStatus       `db:"status" json:"status"`
	FileURL         *string             `db:"file_url" json:"file_url,omitempty"`
	FileName        *string             `db:"file_name" json:"file_name,omitempty"`
	InvoiceNumber   *string             `db:"invoice_number" json:"invoice_number,omitempty"`
	GrossValue      decimal.NullDecimal `db:"gross_value" json:"gross_value"`
	NetValue        decimal.NullDecimal `db:"net_value" json:"net_value"`
	ISSRetained     bool                `db:"iss_retained" json:"iss_retained"`
	RejectionReason *string             `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time           `db:"updated_at" json:"updated_at"`
	ApprovedAt      *time.Time          `db:"approved_at" json:"approved_at,omitempty"`
	RejectedAt      *time.Time          `db:"rejected_at" json:"rejected_at,omitempty"`
}

type Payment struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	DoctorID       uuid.UUID       `db:"doctor_id" json:"doctor_id"`
	OrganizationID uuid.UUID       `db:"organization_id" json:"organization_id"`
	Competence     string          `db:"competence" json:"competence"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	Status         PaymentStatus   `db:"status" json:"status"`
	PaidAt         *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

type Doctor struct {
	ID    uuid.UUID `db:"id" json:"id"`
	Name  string    `db:"name" json:"name"`
	Phone *string   `db:"phone" json:"phone,omitempty"`
	Email *string   `db:"email" json:"email,omitempty"`
}

type Manager struct {
	ID                   uuid.UUID `db:"id" json:"id"`
	OrganizationID       uuid.UUID `db:"organization_id" json:"organization_id"`
	Name                 string    `db:"name" json:"name"`
	Phone                *string   `db:"phone" json:"phone,omitempty"`
	Email                *string   `db:"email" json:"email,omitempty"`
	NotificationsEnabled bool      `db:"notifications_enabled" json:"notifications_enabled"`
}
