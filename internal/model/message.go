package model

import (
	"database/sql/driver"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

type MessageState string

const (
	MessageStatePending  MessageState = "pending"
	MessageStateInFlight MessageState = "in_flight"
	MessageStateSent     MessageState = "sent"
	MessageStateFailed   MessageState = "failed"
)

type MessageKind string

const (
	MessageKindText     MessageKind = "text"
	MessageKindTemplate MessageKind = "template"
	MessageKindDocument MessageKind = "document"
)

const (
	DefaultMaxAttempts = 3
	DefaultPriority    = 5

	// maxBackoffExponent keeps 2^attempts minutes well inside time.Duration.
	maxBackoffExponent = 20
)

// OutboundMessage is one queued message for the WhatsApp channel.
type OutboundMessage struct {
	ID            uuid.UUID    `db:"id" json:"id"`
	Destination   string       `db:"destination" json:"destination"`
	Kind          MessageKind  `db:"kind" json:"kind"`
	Payload       Payload      `db:"payload" json:"payload"`
	Priority      int          `db:"priority" json:"priority"`
	State         MessageState `db:"state" json:"state"`
	Attempts      int          `db:"attempts" json:"attempts"`
	MaxAttempts   int          `db:"max_attempts" json:"max_attempts"`
	NextAttemptAt *time.Time   `db:"next_attempt_at" json:"next_attempt_at,omitempty"`
	LastError     *string      `db:"last_error" json:"last_error,omitempty"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
	SentAt        *time.Time   `db:"sent_at" json:"sent_at,omitempty"`
	UpdatedAt     time.Time    `db:"updated_at" json:"updated_at"`
}

// NewOutboundMessage builds a pending record eligible for dispatch at now.
func NewOutboundMessage(destination string, payload Payload, priority, maxAttempts int, now time.Time) (*OutboundMessage, error) {
	kind, err := payload.Kind()
	if err != nil {
		return nil, err
	}
	if destination == "" {
		return nil, fmt.Errorf("destination is required")
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	next := now
	return &OutboundMessage{
		ID:            uuid.New(),
		Destination:   destination,
		Kind:          kind,
		Payload:       payload,
		Priority:      priority,
		State:         MessageStatePending,
		MaxAttempts:   maxAttempts,
		NextAttemptAt: &next,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// BackoffDelay is the wait before the next attempt after the given number of
// failed attempts: 2^attempts minutes.
func BackoffDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > maxBackoffExponent {
		attempts = maxBackoffExponent
	}
	return time.Duration(1<<uint(attempts)) * time.Minute
}

// MarkSent records a successful delivery. LastError is kept from any earlier attempt.
func (m *OutboundMessage) MarkSent(now time.Time) {
	m.State = MessageStateSent
	m.SentAt = &now
	m.NextAttemptAt = nil
	m.UpdatedAt = now
}

// RecordFailure applies one failed attempt: either schedules a retry with
// exponential backoff or fails the record permanently.
func (m *OutboundMessage) RecordFailure(now time.Time, cause error) {
	m.Attempts++
	msg := cause.Error()
	m.LastError = &msg
	m.UpdatedAt = now

	if m.Attempts >= m.MaxAttempts {
		m.Attempts = m.MaxAttempts
		m.State = MessageStateFailed
		m.NextAttemptAt = nil
		return
	}

	next := now.Add(BackoffDelay(m.Attempts))
	m.State = MessageStatePending
	m.NextAttemptAt = &next
}

// Due reports whether the record may be picked by a dispatch cycle at now.
func (m *OutboundMessage) Due(now time.Time) bool {
	if m.State != MessageStatePending {
		return false
	}
	return m.NextAttemptAt == nil || !m.NextAttemptAt.After(now)
}

// Payload is the channel body. Exactly one member is set and it must agree
// with the record's Kind.
type Payload struct {
	Text     *TextBody     `json:"text,omitempty"`
	Template *TemplateBody `json:"template,omitempty"`
	Document *DocumentBody `json:"document,omitempty"`
}

type TextBody struct {
	Body string `json:"body"`
}

type TemplateBody struct {
	Name       string   `json:"name"`
	Language   string   `json:"language"`
	Parameters []string `json:"parameters,omitempty"`
}

type DocumentBody struct {
	Attachment Attachment `json:"attachment"`
	Caption    string     `json:"caption,omitempty"`
}

func TextPayload(body string) Payload {
	return Payload{Text: &TextBody{Body: body}}
}

func DocumentPayload(att Attachment, caption string) Payload {
	return Payload{Document: &DocumentBody{Attachment: att, Caption: caption}}
}

// Kind derives the message kind from the populated member.
func (p Payload) Kind() (MessageKind, error) {
	var kinds []MessageKind
	if p.Text != nil {
		kinds = append(kinds, MessageKindText)
	}
	if p.Template != nil {
		kinds = append(kinds, MessageKindTemplate)
	}
	if p.Document != nil {
		kinds = append(kinds, MessageKindDocument)
	}
	if len(kinds) != 1 {
		return "", fmt.Errorf("payload must carry exactly one body, got %d", len(kinds))
	}

	switch kinds[0] {
	case MessageKindText:
		if p.Text.Body == "" {
			return "", fmt.Errorf("text body is required")
		}
	case MessageKindTemplate:
		if p.Template.Name == "" {
			return "", fmt.Errorf("template name is required")
		}
	case MessageKindDocument:
		if err := p.Document.Attachment.Validate(); err != nil {
			return "", err
		}
	}
	return kinds[0], nil
}

// Value stores the payload as JSONB.
func (p Payload) Value() (driver.Value, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return b, nil
}

// Scan decodes a JSONB payload column.
func (p *Payload) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	case nil:
		*p = Payload{}
		return nil
	default:
		return fmt.Errorf("unsupported payload column type %T", src)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

// MessageFilters narrows the admin listing of queued messages.
type MessageFilters struct {
	State       MessageState
	Destination string
	Limit       int
}
