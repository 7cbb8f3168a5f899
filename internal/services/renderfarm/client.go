// Package renderfarm talks to the asynchronous video compositing service.
// Render jobs follow a submit, poll, fetch-result lifecycle; the fetched
// result is an object key in shared artifact storage, not the video itself.
package renderfarm

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

// Client wraps the render service HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option customizes the renderfarm client.
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

// NewClient constructs a render service client.
func NewClient(baseURL, token string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("renderfarm: base url required")
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

// SubmitRequest describes a render job. The service pulls the images and
// narration clips for the run from shared storage.
type SubmitRequest struct {
	RunID       string `json:"runId"`
	AspectRatio string `json:"aspectRatio"`
	SceneCount  int    `json:"sceneCount"`
}

// Result is the fetch-result payload of a completed render job.
type Result struct {
	ObjectKey       string  `json:"objectKey"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// Submit starts a render job.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	var resp struct {
		JobID string `json:"jobId"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/renders", req, &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", errors.New("renderfarm: submit returned empty job id")
	}
	return resp.JobID, nil
}

// Status fetches render job progress. Render jobs report a single unit.
func (c *Client) Status(ctx context.Context, jobID string) (stagejob.Status, error) {
	var status stagejob.Status
	err := c.do(ctx, http.MethodGet, "/v1/renders/"+url.PathEscape(jobID), nil, &status)
	return status, err
}

// FetchResult retrieves the artifact reference of a completed render job.
func (c *Client) FetchResult(ctx context.Context, jobID string) (Result, error) {
	var result Result
	if err := c.do(ctx, http.MethodGet, "/v1/renders/"+url.PathEscape(jobID)+"/result", nil, &result); err != nil {
		return Result{}, err
	}
	if result.ObjectKey == "" {
		return Result{}, errors.New("renderfarm: result missing object key")
	}
	return result, nil
}

// RetryFailed resubmits a failed render job in place.
func (c *Client) RetryFailed(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodPost, "/v1/renders/"+url.PathEscape(jobID)+"/retry", nil, nil)
}

// Cancel stops a render job. Finished jobs are a no-op.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/renders/"+url.PathEscape(jobID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("renderfarm: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("renderfarm: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("renderfarm: request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("renderfarm: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("renderfarm: http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("renderfarm: decode response: %w", err)
	}
	return nil
}
