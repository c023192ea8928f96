// Package shortener shortens approval links through an external service.
package shortener

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/circuitbreaker"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/logger"
)

type Shortener interface {
	Shorten(ctx context.Context, url string) string
}

type Client struct {
	endpoint string
	http     *http.Client
	breaker  *circuitbreaker.CircuitBreaker
	logger   *logger.Logger
}

// NewClient returns a Shortener that posts {"url": ...} to endpoint and reads
// back {"short_url": ...}. An empty endpoint yields a pass-through. After
// repeated failures the service is skipped for a while so a dead shortener
// does not add its timeout to every notification.
func NewClient(endpoint string, timeout time.Duration, log *logger.Logger) Shortener {
	if endpoint == "" {
		return Noop{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		breaker:  circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{Name: "shortener", MaxFailures: 3, Timeout: time.Minute}),
		logger:   log,
	}
}

type shortenResponse struct {
	ShortURL string `json:"short_url"`
	Short    string `json:"shortUrl"`
}

// Shorten returns the original url on any failure.
func (c *Client) Shorten(ctx context.Context, url string) string {
	var short string
	err := c.breaker.Execute(func() error {
		var err error
		short, err = c.shorten(ctx, url)
		return err
	})
	if err != nil {
		c.logger.Warn("Failed to shorten link, using original", "error", err.Error())
		return url
	}
	return short
}

func (c *Client) shorten(ctx context.Context, url string) (string, error) {
	body, err := json.Marshal(map[string]string{"url": url})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("shortener request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("shortener returned %d", resp.StatusCode)
	}

	var out shortenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode shortener response: %w", err)
	}
	if out.ShortURL != "" {
		return out.ShortURL, nil
	}
	if out.Short != "" {
		return out.Short, nil
	}
	return "", fmt.Errorf("shortener response had no url")
}

// Noop returns links unchanged.
type Noop struct{}

func (Noop) Shorten(_ context.Context, url string) string { return url }
