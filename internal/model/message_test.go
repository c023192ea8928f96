package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelayDoublesPerAttempt(t *testing.T) {
	assert.Equal(t, 2*time.Minute, BackoffDelay(1))
	assert.Equal(t, 4*time.Minute, BackoffDelay(2))
	assert.Equal(t, 8*time.Minute, BackoffDelay(3))

	prev := BackoffDelay(0)
	for k := 1; k <= 30; k++ {
		d := BackoffDelay(k)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", k)
		prev = d
	}
}

func TestRecordFailureExhaustsAttempts(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	msg, err := NewOutboundMessage("5511999999999", TextPayload("hello"), 1, 3, now)
	require.NoError(t, err)

	// First failure schedules a retry two minutes out
	msg.RecordFailure(now, errors.New("boom"))
	assert.Equal(t, MessageStatePending, msg.State)
	assert.Equal(t, 1, msg.Attempts)
	require.NotNil(t, msg.NextAttemptAt)
	assert.Equal(t, now.Add(2*time.Minute), *msg.NextAttemptAt)
	assert.False(t, msg.Due(now))
	assert.True(t, msg.Due(now.Add(2*time.Minute)))

	// Second failure doubles the wait
	msg.RecordFailure(now, errors.New("boom"))
	assert.Equal(t, now.Add(4*time.Minute), *msg.NextAttemptAt)

	// Third failure is terminal
	msg.RecordFailure(now, errors.New("final"))
	assert.Equal(t, MessageStateFailed, msg.State)
	assert.Equal(t, 3, msg.Attempts)
	assert.Nil(t, msg.NextAttemptAt)
	require.NotNil(t, msg.LastError)
	assert.Equal(t, "final", *msg.LastError)
	assert.False(t, msg.Due(now.Add(time.Hour)))
}

func TestMarkSentKeepsLastError(t *testing.T) {
	now := time.Now()
	msg, err := NewOutboundMessage("5511999999999", TextPayload("hello"), 1, 3, now)
	require.NoError(t, err)

	msg.RecordFailure(now, errors.New("timeout"))
	msg.MarkSent(now)

	assert.Equal(t, MessageStateSent, msg.State)
	require.NotNil(t, msg.SentAt)
	assert.Nil(t, msg.NextAttemptAt)
	assert.Equal(t, "timeout", *msg.LastError)
}

func TestPayloadKind(t *testing.T) {
	kind, err := TextPayload("hi").Kind()
	require.NoError(t, err)
	assert.Equal(t, MessageKindText, kind)

	doc := DocumentPayload(NewURLAttachment("https://files.example.com/nf.pdf", "", ""), "NF")
	kind, err = doc.Kind()
	require.NoError(t, err)
	assert.Equal(t, MessageKindDocument, kind)

	_, err = Payload{}.Kind()
	assert.Error(t, err)

	_, err = Payload{Text: &TextBody{Body: "a"}, Template: &TemplateBody{Name: "t"}}.Kind()
	assert.Error(t, err)

	_, err = TextPayload("").Kind()
	assert.Error(t, err)
}

func TestPayloadValueScanRoundTrip(t *testing.T) {
	in := DocumentPayload(NewInlineAttachment([]byte("%PDF-1.4"), "nf.pdf", "application/pdf"), "Nota")

	raw, err := in.Value()
	require.NoError(t, err)

	var out Payload
	require.NoError(t, out.Scan(raw))
	require.NotNil(t, out.Document)
	assert.Equal(t, []byte("%PDF-1.4"), out.Document.Attachment.Data)
	assert.Equal(t, "Nota", out.Document.Caption)
}
