package notification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/model"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/repository/memory"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/service/settings"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/whatsapp"
	apperrors "github.com/joaopba/hcc-med-pay-flow-sub001/pkg/errors"
)

var channel = &model.ChannelSettings{APIBaseURL: "http://channel.local", AuthToken: "token"}

type fakeSender struct {
	mu      sync.Mutex
	sent    map[string]*model.OutboundMessage
	failFor map[string]error
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: map[string]*model.OutboundMessage{}, failFor: map[string]error{}}
}

func (f *fakeSender) Send(_ context.Context, _ *model.ChannelSettings, msg *model.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[msg.Destination]; ok {
		return err
	}
	f.sent[msg.Destination] = msg
	return nil
}

type fakeResolver struct{ calls int32 }

func (r *fakeResolver) Resolve(_ context.Context, att model.Attachment) (model.Attachment, error) {
	atomic.AddInt32(&r.calls, 1)
	return model.NewInlineAttachment([]byte("%PDF-1.4"), att.FileName, att.MimeType), nil
}

type staticLinks struct{}

func (staticLinks) For(inv *model.Invoice) (string, string) {
	return "https://portal/a/" + inv.ID.String(), "https://portal/r/" + inv.ID.String()
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []string
	// panicFor makes SendCustom panic for that address.
	panicFor string
}

func (m *recordingMailer) SendCustom(_ context.Context, to, _, _ string) error {
	if m.panicFor != "" && to == m.panicFor {
		panic("smtp connection reset")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to)
	return nil
}

func strPtr(s string) *string { return &s }

type fanOutFixture struct {
	store    *memory.Store
	sender   *fakeSender
	resolver *fakeResolver
	invoice  model.Invoice
	payment  model.Payment
	doctor   model.Doctor
	orgID    uuid.UUID
}

func newFanOutFixture() *fanOutFixture {
	store := memory.NewStore()
	orgID := uuid.New()
	doctor := model.Doctor{ID: uuid.New(), Name: "Dr. Bruno", Phone: strPtr("5511900000001"), Email: strPtr("bruno@example.com")}
	payment := model.Payment{
		ID: uuid.New(), DoctorID: doctor.ID, OrganizationID: orgID,
		Competence: "2024-04", Amount: decimal.RequireFromString("12345.6"),
		Status: model.PaymentStatusPaid,
	}
	invoice := model.Invoice{
		ID: uuid.New(), PaymentID: payment.ID, DoctorID: doctor.ID, OrganizationID: orgID,
		Status: model.InvoiceStatusPending, FileURL: strPtr("https://files.example/nf.pdf"),
	}
	store.PutDoctor(doctor)
	store.PutPayment(payment)
	store.PutInvoice(invoice)

	return &fanOutFixture{
		store:    store,
		sender:   newFakeSender(),
		resolver: &fakeResolver{},
		invoice:  invoice,
		payment:  payment,
		doctor:   doctor,
		orgID:    orgID,
	}
}

func (f *fanOutFixture) addManager(name, phone string) {
	m := model.Manager{ID: uuid.New(), OrganizationID: f.orgID, Name: name, NotificationsEnabled: true}
	if phone != "" {
		m.Phone = strPtr(phone)
	}
	f.store.PutManager(m)
}

func (f *fanOutFixture) service(t *testing.T, mailer *recordingMailer) *Service {
	t.Helper()
	messenger, err := NewMessenger(ModeDirect, f.sender, settings.Static{Settings: channel}, nil, 3)
	require.NoError(t, err)

	repos := Repositories{
		Invoices: f.store.Invoices(),
		Payments: f.store.Payments(),
		Doctors:  f.store.Doctors(),
		Managers: f.store.Managers(),
	}
	cfg := Config{Concurrency: 2}
	if mailer != nil {
		cfg.EmailEnabled = true
		return NewService(repos, messenger, f.resolver, staticLinks{}, nil, mailer, cfg, nil, nil)
	}
	return NewService(repos, messenger, f.resolver, staticLinks{}, nil, nil, cfg, nil, nil)
}

func TestFanOutIsolatesRecipientFailures(t *testing.T) {
	f := newFanOutFixture()
	f.addManager("Ana", "5511911110001")
	f.addManager("Beto", "5511911110002")
	f.addManager("Caio", "5511911110003")
	f.sender.failFor["5511911110002"] = errors.New("connection reset")

	result, err := f.service(t, nil).FanOut(context.Background(), model.DomainEvent{Type: model.EventNewInvoice, RecordID: f.invoice.ID})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Recipients)
	assert.Equal(t, 2, result.Sent)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "5511911110002", result.Failures[0].Recipient)

	assert.Contains(t, f.sender.sent, "5511911110001")
	assert.Contains(t, f.sender.sent, "5511911110003")
	assert.NotContains(t, f.sender.sent, "5511911110002")

	// the invoice file is fetched once for all recipients
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.resolver.calls))

	msg := f.sender.sent["5511911110001"]
	require.NotNil(t, msg.Payload.Document)
	assert.Equal(t, model.AttachmentSourceInline, msg.Payload.Document.Attachment.Source)
	assert.Contains(t, msg.Payload.Document.Caption, "Dr. Bruno")
	assert.Contains(t, msg.Payload.Document.Caption, "https://portal/a/"+f.invoice.ID.String())
	assert.Contains(t, msg.Payload.Document.Caption, "R$ 12.345,60")
}

func TestFanOutDuplicateCountsAsSent(t *testing.T) {
	f := newFanOutFixture()
	f.addManager("Ana", "5511911110001")
	f.sender.failFor["5511911110001"] = &whatsapp.DeliveryError{StatusCode: 409, Duplicate: true}

	result, err := f.service(t, nil).FanOut(context.Background(), model.DomainEvent{Type: model.EventNewInvoice, RecordID: f.invoice.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 0, result.Failed)
}

func TestFanOutNoRecipients(t *testing.T) {
	f := newFanOutFixture()
	f.addManager("No phone", "")

	result, err := f.service(t, nil).FanOut(context.Background(), model.DomainEvent{Type: model.EventNewInvoice, RecordID: f.invoice.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Recipients)
	assert.Equal(t, 0, result.Sent)
	assert.Zero(t, atomic.LoadInt32(&f.resolver.calls))
}

func TestFanOutPaymentCompleted(t *testing.T) {
	f := newFanOutFixture()
	mailer := &recordingMailer{}

	result, err := f.service(t, mailer).FanOut(context.Background(), model.DomainEvent{Type: model.EventPaymentCompleted, RecordID: f.payment.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 1, result.EmailSent)
	assert.Equal(t, []string{"bruno@example.com"}, mailer.sent)

	msg := f.sender.sent["5511900000001"]
	require.NotNil(t, msg)
	require.NotNil(t, msg.Payload.Text)
	assert.True(t, strings.Contains(msg.Payload.Text.Body, "competência 2024-04"))
	assert.Contains(t, msg.Payload.Text.Body, "R$ 12.345,60")
}

func TestFanOutSurvivesPanickingMailer(t *testing.T) {
	f := newFanOutFixture()
	mailer := &recordingMailer{panicFor: "bruno@example.com"}

	var (
		result *FanOutResult
		err    error
	)
	require.NotPanics(t, func() {
		result, err = f.service(t, mailer).FanOut(context.Background(), model.DomainEvent{Type: model.EventPaymentCompleted, RecordID: f.payment.ID})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 0, result.EmailSent)
	assert.Empty(t, mailer.sent)
}

func TestFanOutUnknownRecord(t *testing.T) {
	f := newFanOutFixture()

	_, err := f.service(t, nil).FanOut(context.Background(), model.DomainEvent{Type: model.EventPaymentCompleted, RecordID: uuid.New()})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))

	_, err = f.service(t, nil).FanOut(context.Background(), model.DomainEvent{Type: "other", RecordID: uuid.New()})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrBadRequest))
}

func TestFanOutQueueMode(t *testing.T) {
	f := newFanOutFixture()
	f.addManager("Ana", "5511911110001")
	f.addManager("Beto", "5511911110002")

	queue := memory.NewMessageRepository()
	messenger, err := NewMessenger(ModeQueue, nil, nil, queue, 5)
	require.NoError(t, err)
	svc := NewService(Repositories{
		Invoices: f.store.Invoices(),
		Payments: f.store.Payments(),
		Doctors:  f.store.Doctors(),
		Managers: f.store.Managers(),
	}, messenger, f.resolver, staticLinks{}, nil, nil, Config{}, nil, nil)

	result, err := svc.FanOut(context.Background(), model.DomainEvent{Type: model.EventNewInvoice, RecordID: f.invoice.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Sent)

	queued := queue.All()
	require.Len(t, queued, 2)
	for _, msg := range queued {
		assert.Equal(t, model.MessageStatePending, msg.State)
		assert.Equal(t, 5, msg.MaxAttempts)
		assert.Equal(t, model.MessageKindDocument, msg.Kind)
		assert.Equal(t, model.AttachmentSourceURL, msg.Payload.Document.Attachment.Source)
	}
	// queue mode leaves fetching to the dispatcher
	assert.Zero(t, atomic.LoadInt32(&f.resolver.calls))
}

func TestFormatBRL(t *testing.T) {
	tests := map[string]string{
		"0":          "0,00",
		"12.5":       "12,50",
		"999.99":     "999,99",
		"1000":       "1.000,00",
		"1234567.89": "1.234.567,89",
		"-1500.1":    "-1.500,10",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatBRL(decimal.RequireFromString(in)), in)
	}
}
