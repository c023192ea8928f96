// Package ocr calls the external NFS-e extraction API.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/model"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/logger"
)

type Config struct {
	PrimaryPath  string
	FallbackPath string
	Timeout      time.Duration
}

type Client struct {
	http   *http.Client
	config Config
	logger *logger.Logger
}

// StatusError is a non-2xx answer from the OCR API.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ocr api %s returned %d: %s", e.URL, e.StatusCode, e.Body)
}

func NewClient(cfg Config, log *logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{
		http:   &http.Client{Timeout: cfg.Timeout},
		config: cfg,
		logger: log,
	}
}

// Extract uploads the PDF and returns the extraction object as raw JSON.
// A 400 or 404 from the primary endpoint is retried once on the fallback.
func (c *Client) Extract(ctx context.Context, settings *model.ChannelSettings, pdf []byte, fileName string) ([]byte, error) {
	if !settings.Complete() {
		return nil, fmt.Errorf("ocr settings are incomplete")
	}

	base := strings.TrimRight(settings.APIBaseURL, "/")
	body, err := c.upload(ctx, base+c.config.PrimaryPath, settings.AuthToken, pdf, fileName)
	if err != nil {
		var se *StatusError
		if c.config.FallbackPath == "" || !errors.As(err, &se) ||
			(se.StatusCode != http.StatusBadRequest && se.StatusCode != http.StatusNotFound) {
			return nil, err
		}
		c.logger.Warn("Primary OCR endpoint rejected upload, trying fallback",
			"status", se.StatusCode,
			"fallback", c.config.FallbackPath)

		body, err = c.upload(ctx, base+c.config.FallbackPath, settings.AuthToken, pdf, fileName)
		if err != nil {
			return nil, err
		}
	}

	return unwrapData(body)
}

func (c *Client) upload(ctx context.Context, url, token string, pdf []byte, fileName string) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(pdf); err != nil {
		return nil, fmt.Errorf("failed to write file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocr request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read ocr response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

// unwrapData accepts either the bare extraction object or one nested under
// "data" or "result".
func unwrapData(body []byte) ([]byte, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode ocr response: %w", err)
	}
	for _, key := range []string{"data", "result"} {
		if inner, ok := envelope[key]; ok && len(inner) > 0 && inner[0] == '{' {
			return inner, nil
		}
	}
	return body, nil
}
