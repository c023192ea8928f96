package whatsapp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const maxAttachmentBytes = 16 << 20

// Fetcher downloads attachment bodies, retrying transient failures.
type Fetcher struct {
	client          *http.Client
	maxTries        uint
	initialInterval time.Duration
}

func NewFetcher(client *http.Client, maxTries uint, initialInterval time.Duration) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if maxTries == 0 {
		maxTries = 3
	}
	if initialInterval <= 0 {
		initialInterval = 500 * time.Millisecond
	}
	return &Fetcher{client: client, maxTries: maxTries, initialInterval: initialInterval}
}

// Fetch returns the body at url and the Content-Type the server declared.
// 4xx answers are not retried.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	type result struct {
		body        []byte
		contentType string
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.initialInterval

	res, err := backoff.Retry(ctx, func() (result, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return result{}, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return result{}, fmt.Errorf("failed to fetch attachment: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			err := fmt.Errorf("attachment fetch returned %d", resp.StatusCode)
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return result{}, backoff.Permanent(err)
			}
			return result{}, err
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes+1))
		if err != nil {
			return result{}, fmt.Errorf("failed to read attachment: %w", err)
		}
		if len(body) > maxAttachmentBytes {
			return result{}, backoff.Permanent(fmt.Errorf("attachment exceeds %d bytes", maxAttachmentBytes))
		}
		return result{body: body, contentType: resp.Header.Get("Content-Type")}, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(f.maxTries))
	if err != nil {
		return nil, "", err
	}
	return res.body, res.contentType, nil
}
