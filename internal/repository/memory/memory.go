// Package memory holds map-backed repositories for tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/model"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/repository"
)

type MessageRepository struct {
	mu       sync.Mutex
	messages map[uuid.UUID]model.OutboundMessage
	// ListErr, when set, is returned by ListDue.
	ListErr error
}

func NewMessageRepository() *MessageRepository {
	return &MessageRepository{messages: make(map[uuid.UUID]model.OutboundMessage)}
}

func (r *MessageRepository) Enqueue(_ context.Context, msg *model.OutboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[msg.ID] = *msg
	return nil
}

func (r *MessageRepository) Get(_ context.Context, id uuid.UUID) (*model.OutboundMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[id]
	if !ok {
		return nil, repository.ErrRecordNotFound
	}
	return &msg, nil
}

func (r *MessageRepository) ListDue(_ context.Context, now time.Time, limit int) ([]*model.OutboundMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ListErr != nil {
		return nil, r.ListErr
	}

	var due []*model.OutboundMessage
	for _, msg := range r.messages {
		msg := msg
		if msg.Due(now) {
			due = append(due, &msg)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority < due[j].Priority
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *MessageRepository) Transition(_ context.Context, msg *model.OutboundMessage, from model.MessageState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.messages[msg.ID]
	if !ok || stored.State != from {
		return repository.ErrStateConflict
	}
	r.messages[msg.ID] = *msg
	return nil
}

func (r *MessageRepository) List(_ context.Context, filters *model.MessageFilters) ([]*model.OutboundMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.OutboundMessage
	for _, msg := range r.messages {
		msg := msg
		if filters != nil {
			if filters.State != "" && msg.State != filters.State {
				continue
			}
			if filters.Destination != "" && msg.Destination != filters.Destination {
				continue
			}
		}
		out = append(out, &msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filters != nil && filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, nil
}

func (r *MessageRepository) DeleteSentBefore(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, msg := range r.messages {
		if msg.State == model.MessageStateSent && msg.SentAt != nil && msg.SentAt.Before(before) {
			delete(r.messages, id)
			n++
		}
	}
	return n, nil
}

func (r *MessageRepository) ReclaimStale(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, msg := range r.messages {
		if msg.State == model.MessageStateInFlight && msg.UpdatedAt.Before(before) {
			msg.State = model.MessageStatePending
			r.messages[id] = msg
			n++
		}
	}
	return n, nil
}

// All returns a snapshot of every stored record.
func (r *MessageRepository) All() []model.OutboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.OutboundMessage, 0, len(r.messages))
	for _, msg := range r.messages {
		out = append(out, msg)
	}
	return out
}

// Store backs the invoice, payment, doctor, manager and settings
// repositories with one lock.
type Store struct {
	mu       sync.Mutex
	invoices map[uuid.UUID]model.Invoice
	payments map[uuid.UUID]model.Payment
	doctors  map[uuid.UUID]model.Doctor
	managers []model.Manager
	settings *model.ChannelSettings

	paymentUpdates int
}

func NewStore() *Store {
	return &Store{
		invoices: make(map[uuid.UUID]model.Invoice),
		payments: make(map[uuid.UUID]model.Payment),
		doctors:  make(map[uuid.UUID]model.Doctor),
	}
}

func (s *Store) PutInvoice(inv model.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices[inv.ID] = inv
}

func (s *Store) PutPayment(p model.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.ID] = p
}

func (s *Store) PutDoctor(d model.Doctor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doctors[d.ID] = d
}

func (s *Store) PutManager(m model.Manager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.managers = append(s.managers, m)
}

func (s *Store) PutSettings(cfg *model.ChannelSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = cfg
}

// PaymentUpdates counts payment status writes.
func (s *Store) PaymentUpdates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paymentUpdates
}

func (s *Store) Invoices() repository.InvoiceRepository  { return invoiceRepo{s} }
func (s *Store) Payments() repository.PaymentRepository  { return paymentRepo{s} }
func (s *Store) Doctors() repository.DoctorRepository    { return doctorRepo{s} }
func (s *Store) Managers() repository.ManagerRepository  { return managerRepo{s} }
func (s *Store) Settings() repository.SettingsRepository { return settingsRepo{s} }

type invoiceRepo struct{ s *Store }

func (r invoiceRepo) Get(_ context.Context, id uuid.UUID) (*model.Invoice, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv, ok := r.s.invoices[id]
	if !ok {
		return nil, repository.ErrRecordNotFound
	}
	return &inv, nil
}

func (r invoiceRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to model.InvoiceStatus, reason *string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv, ok := r.s.invoices[id]
	if !ok || inv.Status != from {
		return repository.ErrStateConflict
	}
	inv.Status = to
	if reason != nil {
		inv.RejectionReason = reason
	}
	switch to {
	case model.InvoiceStatusApproved:
		inv.ApprovedAt = &at
	case model.InvoiceStatusRejected:
		inv.RejectedAt = &at
	}
	inv.UpdatedAt = at
	r.s.invoices[id] = inv
	return nil
}

func (r invoiceRepo) UpdateExtraction(_ context.Context, in *model.Invoice) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv, ok := r.s.invoices[in.ID]
	if !ok {
		return repository.ErrRecordNotFound
	}
	inv.InvoiceNumber = in.InvoiceNumber
	inv.GrossValue = in.GrossValue
	inv.NetValue = in.NetValue
	inv.ISSRetained = in.ISSRetained
	r.s.invoices[in.ID] = inv
	return nil
}

type paymentRepo struct{ s *Store }

func (r paymentRepo) Get(_ context.Context, id uuid.UUID) (*model.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok {
		return nil, repository.ErrRecordNotFound
	}
	return &p, nil
}

func (r paymentRepo) UpdateStatus(_ context.Context, id uuid.UUID, status model.PaymentStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok {
		return repository.ErrRecordNotFound
	}
	p.Status = status
	r.s.payments[id] = p
	r.s.paymentUpdates++
	return nil
}

type doctorRepo struct{ s *Store }

func (r doctorRepo) Get(_ context.Context, id uuid.UUID) (*model.Doctor, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.doctors[id]
	if !ok {
		return nil, repository.ErrRecordNotFound
	}
	return &d, nil
}

type managerRepo struct{ s *Store }

func (r managerRepo) ListNotifiable(_ context.Context, organizationID uuid.UUID) ([]*model.Manager, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Manager
	for _, m := range r.s.managers {
		m := m
		if m.OrganizationID == organizationID && m.NotificationsEnabled {
			out = append(out, &m)
		}
	}
	return out, nil
}

type settingsRepo struct{ s *Store }

func (r settingsRepo) GetChannelSettings(_ context.Context) (*model.ChannelSettings, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.settings == nil {
		return nil, repository.ErrRecordNotFound
	}
	cfg := *r.s.settings
	return &cfg, nil
}
