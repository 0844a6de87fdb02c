package dataflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// collectorBackoffs are the delays before the two retry attempts.
var collectorBackoffs = []time.Duration{
	100 * time.Millisecond,
	400 * time.Millisecond,
}

// CollectorClient POSTs data-flow events to the external collector hop.
// Delivery is best-effort: after the retries the event is dropped and
// counted, never queued.
type CollectorClient struct {
	url    string
	client *http.Client
}

// NewCollectorClient creates the collector hop. An empty URL disables it;
// a nil client is valid and posts nothing.
func NewCollectorClient(url string) *CollectorClient {
	if url == "" {
		return nil
	}
	return &CollectorClient{
		url: url,
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// Post delivers one event, retrying transient failures twice.
func (c *CollectorClient) Post(ctx context.Context, e Event) error {
	if c == nil {
		return nil
	}

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= len(collectorBackoffs); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(collectorBackoffs[attempt-1]):
			}
		}

		lastErr = c.post(ctx, body)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("posting to collector: %w", lastErr)
}

func (c *CollectorClient) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("collector returned %d", resp.StatusCode)
	}
	return nil
}
