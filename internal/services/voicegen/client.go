// Package voicegen talks to the narration synthesis service, which renders
// one audio clip per scene script in the requested voice.
package voicegen

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

// Client wraps the narration synthesis API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option customizes the voicegen client.
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

// NewClient constructs a narration synthesis client.
func NewClient(baseURL, token string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("voicegen: base url required")
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

// SubmitRequest describes a batch narration job.
type SubmitRequest struct {
	RunID      string `json:"runId"`
	VoiceID    string `json:"voiceId"`
	SceneCount int    `json:"sceneCount"`
}

// Submit starts a batch narration job.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	var resp struct {
		JobID string `json:"jobId"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/narrations", req, &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", errors.New("voicegen: submit returned empty job id")
	}
	return resp.JobID, nil
}

// Status fetches per-clip narration progress.
func (c *Client) Status(ctx context.Context, jobID string) (stagejob.Status, error) {
	var status stagejob.Status
	err := c.do(ctx, http.MethodGet, "/v1/narrations/"+url.PathEscape(jobID), nil, &status)
	return status, err
}

// RetryFailed re-synthesizes only the clips that failed.
func (c *Client) RetryFailed(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodPost, "/v1/narrations/"+url.PathEscape(jobID)+"/retry", nil, nil)
}

// Cancel stops a narration job. Finished jobs are a no-op.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/narrations/"+url.PathEscape(jobID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("voicegen: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("voicegen: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("voicegen: request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("voicegen: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("voicegen: http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("voicegen: decode response: %w", err)
	}
	return nil
}
