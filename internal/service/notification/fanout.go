package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/email"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/model"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/repository"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/shortener"
	apperrors "github.com/joaopba/hcc-med-pay-flow-sub001/pkg/errors"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/logger"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/metrics"
)

const defaultConcurrency = 4

type (
	AttachmentResolver interface {
		Resolve(ctx context.Context, att model.Attachment) (model.Attachment, error)
	}

	LinkBuilder interface {
		For(inv *model.Invoice) (approve, reject string)
	}
)

type Repositories struct {
	Invoices repository.InvoiceRepository
	Payments repository.PaymentRepository
	Doctors  repository.DoctorRepository
	Managers repository.ManagerRepository
}

type Config struct {
	Concurrency  int
	EmailEnabled bool
}

type RecipientFailure struct {
	Recipient string `json:"recipient"`
	Error     string `json:"error"`
}

type FanOutResult struct {
	Event      model.EventType    `json:"event"`
	Recipients int                `json:"recipients"`
	Sent       int                `json:"sent"`
	Failed     int                `json:"failed"`
	EmailSent  int                `json:"email_sent"`
	Failures   []RecipientFailure `json:"failures,omitempty"`
}

// delivery is one recipient's message. payload is shared read-only between
// deliveries of the same event.
type delivery struct {
	name    string
	phone   string
	email   string
	payload model.Payload
	subject string
	html    string
}

type Service struct {
	repos       Repositories
	messenger   *Messenger
	attachments AttachmentResolver
	links       LinkBuilder
	shortener   shortener.Shortener
	mailer      email.Service
	config      Config
	logger      *logger.Logger
	metrics     *metrics.Metrics
}

func NewService(
	repos Repositories,
	messenger *Messenger,
	attachments AttachmentResolver,
	links LinkBuilder,
	short shortener.Shortener,
	mailer email.Service,
	config Config,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	if config.Concurrency <= 0 {
		config.Concurrency = defaultConcurrency
	}
	if short == nil {
		short = shortener.Noop{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		repos:       repos,
		messenger:   messenger,
		attachments: attachments,
		links:       links,
		shortener:   short,
		mailer:      mailer,
		config:      config,
		logger:      log,
		metrics:     m,
	}
}

// FanOut notifies every recipient of event. Per-recipient failures are
// counted in the result; only lookup and configuration problems return an
// error.
func (s *Service) FanOut(ctx context.Context, event model.DomainEvent) (*FanOutResult, error) {
	if err := event.Validate(); err != nil {
		return nil, apperrors.BadRequest(err.Error(), err)
	}

	var (
		deliveries []delivery
		err        error
	)
	switch event.Type {
	case model.EventNewInvoice:
		deliveries, err = s.newInvoiceDeliveries(ctx, event.RecordID)
	case model.EventPaymentCompleted:
		deliveries, err = s.paymentDeliveries(ctx, event.RecordID)
	}
	if err != nil {
		return nil, err
	}

	result := &FanOutResult{Event: event.Type, Recipients: len(deliveries)}
	if len(deliveries) == 0 {
		s.logger.Info("No recipients for event", "event", string(event.Type), "record_id", event.RecordID.String())
		return result, nil
	}

	cfg, err := s.messenger.Settings(ctx)
	if err != nil {
		return nil, err
	}

	errs := make([]error, len(deliveries))
	emailed := make([]bool, len(deliveries))

	p := pool.New().WithMaxGoroutines(s.config.Concurrency)
	for i, d := range deliveries {
		p.Go(func() {
			errs[i] = s.deliver(ctx, cfg, d)
			emailed[i] = s.sendEmail(ctx, d)
		})
	}
	p.Wait()

	for i, d := range deliveries {
		if emailed[i] {
			result.EmailSent++
		}
		if errs[i] != nil {
			result.Failed++
			result.Failures = append(result.Failures, RecipientFailure{Recipient: d.phone, Error: errs[i].Error()})
			s.logger.Error(errs[i], "Failed to notify recipient", "event", string(event.Type), "recipient", d.name)
			s.count(event.Type, "failed")
			continue
		}
		result.Sent++
		s.count(event.Type, "sent")
	}

	s.logger.Info("Event fan-out finished",
		"event", string(event.Type),
		"record_id", event.RecordID.String(),
		"recipients", result.Recipients,
		"sent", result.Sent,
		"failed", result.Failed)
	return result, nil
}

func (s *Service) deliver(ctx context.Context, cfg *model.ChannelSettings, d delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while notifying %s: %v", d.phone, r)
		}
	}()
	return s.messenger.Deliver(ctx, cfg, d.phone, d.payload)
}

// sendEmail runs on the same pool goroutine as deliver, so a panicking mailer
// must not escape p.Wait.
func (s *Service) sendEmail(ctx context.Context, d delivery) (sent bool) {
	if !s.config.EmailEnabled || s.mailer == nil || d.email == "" || d.html == "" {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("Panic while sending notification email", "recipient", d.name, "panic", fmt.Sprint(r))
			sent = false
		}
	}()
	if err := s.mailer.SendCustom(ctx, d.email, d.subject, d.html); err != nil {
		s.logger.Warn("Failed to send notification email", "recipient", d.name, "error", err.Error())
		return false
	}
	return true
}

func (s *Service) count(event model.EventType, status string) {
	if s.metrics != nil {
		s.metrics.NotificationsTotal.WithLabelValues(string(event), status).Inc()
	}
}

func (s *Service) newInvoiceDeliveries(ctx context.Context, invoiceID uuid.UUID) ([]delivery, error) {
	inv, err := s.repos.Invoices.Get(ctx, invoiceID)
	if err != nil {
		return nil, lookupError("invoice", err)
	}

	managers, err := s.repos.Managers.ListNotifiable(ctx, inv.OrganizationID)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to list managers: %w", err))
	}
	var recipients []*model.Manager
	for _, m := range managers {
		if m.Phone != nil && strings.TrimSpace(*m.Phone) != "" {
			recipients = append(recipients, m)
		}
	}
	if len(recipients) == 0 {
		return nil, nil
	}

	doctorName := "médico"
	if doctor, err := s.repos.Doctors.Get(ctx, inv.DoctorID); err == nil {
		doctorName = doctor.Name
	}
	competence := ""
	var amount decimal.Decimal
	if payment, err := s.repos.Payments.Get(ctx, inv.PaymentID); err == nil {
		competence = payment.Competence
		amount = payment.Amount
	}

	approveURL, rejectURL := s.links.For(inv)
	approveURL = s.shortener.Shorten(ctx, approveURL)
	rejectURL = s.shortener.Shorten(ctx, rejectURL)

	caption := invoiceCaption(doctorName, competence, amount, approveURL, rejectURL)
	payload := s.invoicePayload(ctx, inv, caption)
	amountText := ""
	if !amount.IsZero() {
		amountText = FormatBRL(amount)
	}
	html := renderEmail(newInvoiceEmail, invoiceEmailData{
		Doctor:     doctorName,
		Competence: competence,
		Amount:     amountText,
		ApproveURL: approveURL,
		RejectURL:  rejectURL,
	})

	out := make([]delivery, 0, len(recipients))
	for _, m := range recipients {
		d := delivery{
			name:    m.Name,
			phone:   *m.Phone,
			payload: payload,
			subject: "Nova nota fiscal aguardando aprovação",
			html:    html,
		}
		if m.Email != nil {
			d.email = *m.Email
		}
		out = append(out, d)
	}
	return out, nil
}

// invoicePayload attaches the invoice PDF when one exists. In direct mode the
// file is fetched once here and every recipient reuses the bytes. A fetch
// failure degrades to a text message carrying the file link.
func (s *Service) invoicePayload(ctx context.Context, inv *model.Invoice, caption string) model.Payload {
	if inv.FileURL == nil || *inv.FileURL == "" {
		return model.TextPayload(caption)
	}
	name := ""
	if inv.FileName != nil {
		name = *inv.FileName
	}
	att := model.NewURLAttachment(*inv.FileURL, name, "application/pdf")

	if s.messenger.Mode() == ModeQueue || s.attachments == nil {
		return model.DocumentPayload(att, caption)
	}

	resolved, err := s.attachments.Resolve(ctx, att)
	if err != nil {
		s.logger.Warn("Could not fetch invoice file, sending link instead", "invoice_id", inv.ID.String(), "error", err.Error())
		return model.TextPayload(caption + "\n\nArquivo: " + *inv.FileURL)
	}
	return model.DocumentPayload(resolved, caption)
}

func (s *Service) paymentDeliveries(ctx context.Context, paymentID uuid.UUID) ([]delivery, error) {
	payment, err := s.repos.Payments.Get(ctx, paymentID)
	if err != nil {
		return nil, lookupError("payment", err)
	}
	doctor, err := s.repos.Doctors.Get(ctx, payment.DoctorID)
	if err != nil {
		return nil, lookupError("doctor", err)
	}
	if doctor.Phone == nil || strings.TrimSpace(*doctor.Phone) == "" {
		return nil, nil
	}

	amount := FormatBRL(payment.Amount)
	d := delivery{
		name:    doctor.Name,
		phone:   *doctor.Phone,
		payload: model.TextPayload(paymentText(doctor.Name, payment.Competence, amount)),
		subject: "Pagamento realizado",
		html: renderEmail(paymentEmail, paymentEmailData{
			Doctor:     doctor.Name,
			Competence: payment.Competence,
			Amount:     amount,
		}),
	}
	if doctor.Email != nil {
		d.email = *doctor.Email
	}
	return []delivery{d}, nil
}

func lookupError(resource string, err error) error {
	if errors.Is(err, repository.ErrRecordNotFound) {
		return apperrors.NotFound(resource, err)
	}
	return apperrors.Internal(fmt.Errorf("failed to load %s: %w", resource, err))
}
