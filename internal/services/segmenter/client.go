// Package segmenter talks to the script segmentation service, which splits a
// story brief into ordered scene scripts.
package segmenter

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

// Client wraps the segmentation service HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option customizes the segmenter client.
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

// NewClient constructs a segmentation service client.
func NewClient(baseURL, token string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("segmenter: base url required")
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

// SubmitRequest describes a segmentation job.
type SubmitRequest struct {
	RunID         string `json:"runId"`
	Title         string `json:"title"`
	Brief         string `json:"brief"`
	SceneCount    int    `json:"sceneCount"`
	WordsPerScene int    `json:"wordsPerScene"`
}

// Submit starts a segmentation job and returns its job reference.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	var resp struct {
		JobID string `json:"jobId"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/segmentations", req, &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", errors.New("segmenter: submit returned empty job id")
	}
	return resp.JobID, nil
}

// Status fetches the batch status of a segmentation job.
func (c *Client) Status(ctx context.Context, jobID string) (stagejob.Status, error) {
	var status stagejob.Status
	err := c.do(ctx, http.MethodGet, "/v1/segmentations/"+url.PathEscape(jobID), nil, &status)
	return status, err
}

// RetryFailed resubmits only the failed scenes of a segmentation job.
func (c *Client) RetryFailed(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodPost, "/v1/segmentations/"+url.PathEscape(jobID)+"/retry", nil, nil)
}

// Cancel asks the service to stop a segmentation job. Finished jobs are a no-op.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/segmentations/"+url.PathEscape(jobID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("segmenter: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("segmenter: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("segmenter: request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("segmenter: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("segmenter: http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("segmenter: decode response: %w", err)
	}
	return nil
}
