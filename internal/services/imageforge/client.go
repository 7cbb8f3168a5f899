// Package imageforge talks to the batch image generation service, which
// produces one illustration per scene script.
package imageforge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storyloom/internal/services/stagejob"
)

const defaultHTTPTimeout = 30 * time.Second

// Client wraps the image generation batch API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option customizes the imageforge client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout overrides the default request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewClient constructs an image generation client.
func NewClient(baseURL, token string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("imageforge: base url required")
	}
	client := &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// SubmitRequest describes a batch illustration job. The service resolves the
// scene scripts by run id; the orchestrator never ships content between
// stages itself.
type SubmitRequest struct {
	RunID       string `json:"runId"`
	Style       string `json:"style,omitempty"`
	AspectRatio string `json:"aspectRatio"`
	SceneCount  int    `json:"sceneCount"`
}

// Submit starts a batch illustration job.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	var resp struct {
		BatchID string `json:"batchId"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/batches", req, &resp); err != nil {
		return "", err
	}
	if resp.BatchID == "" {
		return "", errors.New("imageforge: submit returned empty batch id")
	}
	return resp.BatchID, nil
}

// Status fetches per-image batch progress.
func (c *Client) Status(ctx context.Context, batchID string) (stagejob.Status, error) {
	var status stagejob.Status
	err := c.do(ctx, http.MethodGet, "/v1/batches/"+url.PathEscape(batchID), nil, &status)
	return status, err
}

// RetryFailed regenerates only the images that failed.
func (c *Client) RetryFailed(ctx context.Context, batchID string) error {
	return c.do(ctx, http.MethodPost, "/v1/batches/"+url.PathEscape(batchID)+"/retry", nil, nil)
}

// Cancel stops a batch. Finished batches are a no-op.
func (c *Client) Cancel(ctx context.Context, batchID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/batches/"+url.PathEscape(batchID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("imageforge: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("imageforge: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("imageforge: request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("imageforge: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("imageforge: http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("imageforge: decode response: %w", err)
	}
	return nil
}
