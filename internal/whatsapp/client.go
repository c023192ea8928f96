// Package whatsapp talks to the WhatsApp-style send API used by the portal.
package whatsapp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/model"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/logger"
)

const (
	pathSendText     = "/send-text"
	pathSendTemplate = "/send-template"
	pathSendDocument = "/send-document"
)

type Client struct {
	http    *http.Client
	fetcher *Fetcher
	logger  *logger.Logger
}

func NewClient(timeout time.Duration, fetcher *Fetcher, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if fetcher == nil {
		fetcher = NewFetcher(&http.Client{Timeout: timeout}, 3, 0)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		fetcher: fetcher,
		logger:  log,
	}
}

type textRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type templateRequest struct {
	Phone      string   `json:"phone"`
	Template   string   `json:"template"`
	Language   string   `json:"language"`
	Parameters []string `json:"parameters,omitempty"`
}

// Send delivers one message. A duplicate-resource answer is returned as a
// *DeliveryError with Duplicate set; use Delivered to test the outcome.
func (c *Client) Send(ctx context.Context, settings *model.ChannelSettings, msg *model.OutboundMessage) error {
	if !settings.Complete() {
		return fmt.Errorf("whatsapp channel settings are incomplete")
	}

	p := msg.Payload
	switch {
	case p.Text != nil:
		return c.postJSON(ctx, settings, pathSendText, textRequest{
			Phone:   msg.Destination,
			Message: p.Text.Body,
		})
	case p.Template != nil:
		return c.postJSON(ctx, settings, pathSendTemplate, templateRequest{
			Phone:      msg.Destination,
			Template:   p.Template.Name,
			Language:   p.Template.Language,
			Parameters: p.Template.Parameters,
		})
	case p.Document != nil:
		att, err := c.Resolve(ctx, p.Document.Attachment)
		if err != nil {
			return err
		}
		return c.postDocument(ctx, settings, msg.Destination, p.Document.Caption, att)
	default:
		return fmt.Errorf("message %s has an empty payload", msg.ID)
	}
}

// Resolve turns a URL attachment into inline bytes. Inline attachments are
// returned unchanged.
func (c *Client) Resolve(ctx context.Context, att model.Attachment) (model.Attachment, error) {
	if att.Source != model.AttachmentSourceURL {
		return att, nil
	}
	data, contentType, err := c.fetcher.Fetch(ctx, att.URL)
	if err != nil {
		return model.Attachment{}, fmt.Errorf("failed to fetch attachment %s: %w", att.URL, err)
	}
	mimeType := att.MimeType
	if mimeType == "" {
		mimeType = contentType
	}
	return model.NewInlineAttachment(data, att.FileName, mimeType), nil
}

func (c *Client) postJSON(ctx context.Context, settings *model.ChannelSettings, path string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, settings, path, "application/json", bytes.NewReader(payload))
}

func (c *Client) postDocument(ctx context.Context, settings *model.ChannelSettings, phone, caption string, att model.Attachment) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"phone", phone},
		{"caption", caption},
		{"fileName", att.FileName},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("failed to write form field %s: %w", f[0], err)
		}
	}

	mimeType := att.MimeType
	if mimeType == "" {
		mimeType = "application/pdf"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(att.FileName)))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(att.Data); err != nil {
		return fmt.Errorf("failed to write file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close multipart body: %w", err)
	}

	return c.do(ctx, settings, pathSendDocument, w.FormDataContentType(), &buf)
}

func (c *Client) do(ctx context.Context, settings *model.ChannelSettings, path, contentType string, body io.Reader) error {
	url := strings.TrimRight(settings.APIBaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+settings.AuthToken)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		de := newDeliveryError(resp.StatusCode, respBody)
		if de.Duplicate {
			c.logger.Warn("Provider reported duplicate message", "path", path, "status", resp.StatusCode)
		}
		return de
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
