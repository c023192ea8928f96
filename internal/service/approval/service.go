package approval

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/model"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/repository"
	apperrors "github.com/joaopba/hcc-med-pay-flow-sub001/pkg/errors"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/logger"
)

type NotificationStatus string

const (
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
	NotificationSkipped NotificationStatus = "skipped"
)

// Notifier delivers a plain text WhatsApp message to a phone number.
type Notifier interface {
	SendText(ctx context.Context, phone, body string) error
}

type ActionRequest struct {
	InvoiceID uuid.UUID
	Action    Action
	Token     string
	Reason    string
	// Submit is true for the POST of the rejection form.
	Submit bool
}

// Outcome is what the approval page shows. Notification reports the doctor
// message separately; it never changes Status.
type Outcome struct {
	Status        int
	HTML          string
	InvoiceStatus model.InvoiceStatus
	Notification  NotificationStatus
}

type Service interface {
	HandleAction(ctx context.Context, req ActionRequest) (*Outcome, error)
	ApprovalLinks(inv *model.Invoice) (approve, reject string)
}

type service struct {
	invoices repository.InvoiceRepository
	payments repository.PaymentRepository
	doctors  repository.DoctorRepository
	tokens   *Tokens
	links    *Links
	notifier Notifier
	logger   *logger.Logger
	now      func() time.Time
}

func NewService(
	invoices repository.InvoiceRepository,
	payments repository.PaymentRepository,
	doctors repository.DoctorRepository,
	tokens *Tokens,
	links *Links,
	notifier Notifier,
	log *logger.Logger,
) Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &service{
		invoices: invoices,
		payments: payments,
		doctors:  doctors,
		tokens:   tokens,
		links:    links,
		notifier: notifier,
		logger:   log,
		now:      time.Now,
	}
}

func (s *service) ApprovalLinks(inv *model.Invoice) (string, string) {
	return s.links.For(inv)
}

func (s *service) HandleAction(ctx context.Context, req ActionRequest) (*Outcome, error) {
	inv, err := s.invoices.Get(ctx, req.InvoiceID)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return nil, apperrors.NotFound("invoice", err)
		}
		return nil, apperrors.Internal(fmt.Errorf("failed to load invoice: %w", err))
	}

	if !s.tokens.Verify(inv.ID, inv.CreatedAt, req.Action, req.Token) {
		s.logger.Warn("Rejected approval link with invalid token", "invoice_id", inv.ID.String(), "action", string(req.Action))
		return nil, apperrors.Forbidden("invalid approval token")
	}

	if inv.Status != model.InvoiceStatusPending {
		return alreadyProcessed(inv.Status), nil
	}

	switch req.Action {
	case ActionApprove:
		return s.approve(ctx, inv)
	case ActionReject:
		if !req.Submit {
			return s.rejectForm(inv, req.Token, "", "", http.StatusOK), nil
		}
		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			return s.rejectForm(inv, req.Token, req.Reason, "O motivo da rejeição é obrigatório.", http.StatusBadRequest), nil
		}
		return s.reject(ctx, inv, reason)
	}
	return nil, apperrors.BadRequest("unknown action", nil)
}

func (s *service) approve(ctx context.Context, inv *model.Invoice) (*Outcome, error) {
	if err := s.invoices.UpdateStatus(ctx, inv.ID, model.InvoiceStatusPending, model.InvoiceStatusApproved, nil, s.now()); err != nil {
		return s.transitionFailed(ctx, inv.ID, err)
	}
	s.cascade(ctx, inv.PaymentID, model.PaymentStatusApproved)

	s.logger.Info("Invoice approved", "invoice_id", inv.ID.String())
	notified := s.notifyDoctor(ctx, inv, "foi aprovada. O pagamento seguirá para processamento.")

	return &Outcome{
		Status:        http.StatusOK,
		InvoiceStatus: model.InvoiceStatusApproved,
		Notification:  notified,
		HTML: render(resultPage, resultData{
			Title:   "Nota fiscal aprovada",
			Message: "A nota fiscal foi aprovada com sucesso.",
			Class:   "ok",
			Notice:  noticeText(notified),
		}),
	}, nil
}

func (s *service) reject(ctx context.Context, inv *model.Invoice, reason string) (*Outcome, error) {
	if err := s.invoices.UpdateStatus(ctx, inv.ID, model.InvoiceStatusPending, model.InvoiceStatusRejected, &reason, s.now()); err != nil {
		return s.transitionFailed(ctx, inv.ID, err)
	}
	s.cascade(ctx, inv.PaymentID, model.PaymentStatusInvoiceRejected)

	s.logger.Info("Invoice rejected", "invoice_id", inv.ID.String())
	notified := s.notifyDoctor(ctx, inv, "foi rejeitada. Motivo: "+reason+". Envie uma nova nota pelo portal.")

	return &Outcome{
		Status:        http.StatusOK,
		InvoiceStatus: model.InvoiceStatusRejected,
		Notification:  notified,
		HTML: render(resultPage, resultData{
			Title:   "Nota fiscal rejeitada",
			Message: "A rejeição foi registrada e o médico será avisado.",
			Class:   "warn",
			Notice:  noticeText(notified),
		}),
	}, nil
}

// transitionFailed handles a conditional update that lost a race. The
// invoice is reloaded so the page shows the status that won.
func (s *service) transitionFailed(ctx context.Context, id uuid.UUID, err error) (*Outcome, error) {
	if !errors.Is(err, repository.ErrStateConflict) {
		return nil, apperrors.Internal(fmt.Errorf("failed to update invoice status: %w", err))
	}
	current, getErr := s.invoices.Get(ctx, id)
	if getErr != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to reload invoice: %w", getErr))
	}
	return alreadyProcessed(current.Status), nil
}

func (s *service) cascade(ctx context.Context, paymentID uuid.UUID, status model.PaymentStatus) {
	if err := s.payments.UpdateStatus(ctx, paymentID, status); err != nil {
		s.logger.Error(err, "Failed to update payment after invoice decision",
			"payment_id", paymentID.String(), "status", string(status))
	}
}

func (s *service) notifyDoctor(ctx context.Context, inv *model.Invoice, decision string) NotificationStatus {
	if s.notifier == nil {
		return NotificationSkipped
	}
	doctor, err := s.doctors.Get(ctx, inv.DoctorID)
	if err != nil {
		s.logger.Warn("Could not load doctor for notification", "doctor_id", inv.DoctorID.String(), "error", err.Error())
		return NotificationSkipped
	}
	if doctor.Phone == nil || *doctor.Phone == "" {
		return NotificationSkipped
	}

	subject := "Sua nota fiscal"
	if inv.InvoiceNumber != nil {
		subject += " nº " + *inv.InvoiceNumber
	}
	body := "Olá " + doctor.Name + "! " + subject + " " + decision

	if err := s.notifier.SendText(ctx, *doctor.Phone, body); err != nil {
		s.logger.Error(err, "Failed to notify doctor", "doctor_id", doctor.ID.String(), "invoice_id", inv.ID.String())
		return NotificationFailed
	}
	return NotificationSent
}

func (s *service) rejectForm(inv *model.Invoice, token, reason, formErr string, status int) *Outcome {
	number := ""
	if inv.InvoiceNumber != nil {
		number = *inv.InvoiceNumber
	}
	return &Outcome{
		Status:        status,
		InvoiceStatus: inv.Status,
		Notification:  NotificationSkipped,
		HTML: render(rejectForm, formData{
			Title:         "Rejeitar nota fiscal",
			InvoiceNumber: number,
			Action:        fmt.Sprintf("/approval/%s/reject", inv.ID),
			Token:         token,
			Reason:        reason,
			Error:         formErr,
		}),
	}
}

func alreadyProcessed(status model.InvoiceStatus) *Outcome {
	label := "aprovada"
	if status == model.InvoiceStatusRejected {
		label = "rejeitada"
	}
	return &Outcome{
		Status:        http.StatusOK,
		InvoiceStatus: status,
		Notification:  NotificationSkipped,
		HTML: render(resultPage, resultData{
			Title:   "Nota fiscal já processada",
			Message: "Esta nota fiscal já foi " + label + " anteriormente. Nenhuma alteração foi feita.",
			Class:   "warn",
		}),
	}
}

func noticeText(status NotificationStatus) string {
	switch status {
	case NotificationSent:
		return "O médico foi notificado via WhatsApp."
	case NotificationFailed:
		return "Não foi possível notificar o médico via WhatsApp."
	}
	return ""
}
