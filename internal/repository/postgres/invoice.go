package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/model"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/repository"
)

type invoiceRepository struct {
	db *sqlx.DB
}

type paymentRepository struct {
	db *sqlx.DB
}

func NewInvoiceRepository(db *sqlx.DB) repository.InvoiceRepository {
	return &invoiceRepository{db: db}
}

func NewPaymentRepository(db *sqlx.DB) repository.PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *invoiceRepository) Get(ctx context.Context, id uuid.UUID) (*model.Invoice, error) {
	query := `
		SELECT id, payment_id, doctor_id, organization_id, status, file_url, file_name,
			invoice_number, gross_value, net_value, iss_retained, rejection_reason,
			created_at, updated_at, approved_at, rejected_at
		FROM invoices
		WHERE id = $1
	`
	var inv model.Invoice
	if err := getOne(ctx, r.db, &inv, query, id); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *invoiceRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.InvoiceStatus, reason *string, at time.Time) error {
	query := `
		UPDATE invoices
		SET status = $1,
			rejection_reason = COALESCE($2, rejection_reason),
			approved_at = CASE WHEN $1 = 'approved' THEN $3 ELSE approved_at END,
			rejected_at = CASE WHEN $1 = 'rejected' THEN $3 ELSE rejected_at END,
			updated_at = $3
		WHERE id = $4 AND status = $5
	`
	err := execConditional(ctx, r.db, query, to, reason, at, id, from)
	if err == repository.ErrStateConflict {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to update invoice status: %w", err)
	}
	return nil
}

func (r *invoiceRepository) UpdateExtraction(ctx context.Context, inv *model.Invoice) error {
	query := `
		UPDATE invoices
		SET invoice_number = $1,
			gross_value = $2,
			net_value = $3,
			iss_retained = $4,
			updated_at = NOW()
		WHERE id = $5
	`
	res, err := r.db.ExecContext(ctx, query,
		inv.InvoiceNumber,
		inv.GrossValue,
		inv.NetValue,
		inv.ISSRetained,
		inv.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update invoice extraction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrRecordNotFound
	}
	return nil
}

func (r *paymentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	query := `
		SELECT id, doctor_id, organization_id, competence, amount, status, paid_at, updated_at
		FROM payments
		WHERE id = $1
	`
	var p model.Payment
	if err := getOne(ctx, r.db, &p, query, id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.PaymentStatus) error {
	query := `
		UPDATE payments
		SET status = $1,
			paid_at = CASE WHEN $1 = 'paid' THEN NOW() ELSE paid_at END,
			updated_at = NOW()
		WHERE id = $2
	`
	res, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrRecordNotFound
	}
	return nil
}
