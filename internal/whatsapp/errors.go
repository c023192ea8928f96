package whatsapp

import (
	"errors"
	"fmt"
	"strings"
)

// DeliveryError is a non-2xx answer from the channel provider.
type DeliveryError struct {
	StatusCode int
	Body       string
	// Duplicate is set when the provider reports the message as an already
	// existing resource. The message was delivered.
	Duplicate bool
}

func (e *DeliveryError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("whatsapp api returned %d: %s", e.StatusCode, body)
}

func newDeliveryError(status int, body []byte) *DeliveryError {
	text := strings.TrimSpace(string(body))
	return &DeliveryError{
		StatusCode: status,
		Body:       text,
		Duplicate:  isDuplicateAnswer(status, text),
	}
}

// isDuplicateAnswer only trusts client errors: a 5xx mentioning "duplicate"
// is a server fault and stays retryable.
func isDuplicateAnswer(status int, body string) bool {
	if status == 409 {
		return true
	}
	return status >= 400 && status < 500 && strings.Contains(strings.ToLower(body), "duplicate")
}

// IsDuplicate reports whether err is a duplicate-resource answer.
func IsDuplicate(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Duplicate
}

// Delivered reports whether a Send outcome counts as delivered.
func Delivered(err error) bool {
	return err == nil || IsDuplicate(err)
}
