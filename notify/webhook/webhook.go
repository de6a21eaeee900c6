// Package webhook delivers applied-change notifications as HTTP POST
// requests. Each committed batch becomes one request carrying a JSON
// array of changes.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mergetide/go-scd"
)

// Notifier posts applied changes to a single endpoint.
type Notifier struct {
	client         *http.Client
	url            string
	defaultHeaders map[string]string
}

// Option configures a webhook Notifier.
type Option func(*Notifier)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(n *Notifier) {
		n.client = client
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) Option {
	return func(n *Notifier) {
		n.client.Timeout = d
	}
}

// WithHeaders sets headers added to every request.
func WithHeaders(headers map[string]string) Option {
	return func(n *Notifier) {
		for k, v := range headers {
			n.defaultHeaders[k] = v
		}
	}
}

// New creates a webhook notifier for the given endpoint URL.
func New(url string, opts ...Option) *Notifier {
	n := &Notifier{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		url: url,
		defaultHeaders: map[string]string{
			"Content-Type": "application/json",
		},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

var _ scd.Notifier = (*Notifier)(nil)

// Notify posts the batch's changes as a JSON array. Any non-2xx
// response is an error.
func (n *Notifier) Notify(ctx context.Context, changes []scd.AppliedChange) error {
	if len(changes) == 0 {
		return nil
	}

	payload, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("scd/webhook: failed to marshal changes: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("scd/webhook: failed to create request: %w", err)
	}
	for k, v := range n.defaultHeaders {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("scd/webhook: request to %s failed: %w", n.url, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("scd/webhook: endpoint %s returned status %d", n.url, resp.StatusCode)
	}
	return nil
}
