package main

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
	"syscall"
	"time"

	"storyloom/internal/api"
)

// apiClient talks to the daemon's HTTP API on behalf of CLI commands.
type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func newAPIClient(baseURL, token string) *apiClient {
	return &apiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) Start(ctx context.Context, ownerRef string, cfg json.RawMessage) (api.RunView, error) {
	var view api.RunView
	err := c.do(ctx, http.MethodPost, "/api/runs", api.StartRequest{OwnerRef: ownerRef, Config: cfg}, &view)
	return view, err
}

func (c *apiClient) Active(ctx context.Context, ownerRef string) (api.RunView, error) {
	var view api.RunView
	err := c.do(ctx, http.MethodGet, "/api/runs?owner="+url.QueryEscape(ownerRef), nil, &view)
	return view, err
}

func (c *apiClient) Status(ctx context.Context, runID string) (api.RunView, error) {
	var view api.RunView
	err := c.do(ctx, http.MethodGet, "/api/runs/"+url.PathEscape(runID), nil, &view)
	return view, err
}

func (c *apiClient) Advance(ctx context.Context, runID string) (api.ActionResponse, error) {
	var action api.ActionResponse
	err := c.do(ctx, http.MethodPost, "/api/runs/"+url.PathEscape(runID)+"/advance", nil, &action)
	return action, err
}

func (c *apiClient) Retry(ctx context.Context, runID string) (api.ActionResponse, error) {
	var action api.ActionResponse
	err := c.do(ctx, http.MethodPost, "/api/runs/"+url.PathEscape(runID)+"/retry", nil, &action)
	return action, err
}

func (c *apiClient) Cancel(ctx context.Context, runID string) (api.ActionResponse, error) {
	var action api.ActionResponse
	err := c.do(ctx, http.MethodPost, "/api/runs/"+url.PathEscape(runID)+"/cancel", nil, &action)
	return action, err
}

func (c *apiClient) List(ctx context.Context, phases []string) (api.RunListResponse, error) {
	path := "/api/runs"
	if len(phases) > 0 {
		values := url.Values{}
		for _, phase := range phases {
			values.Add("phase", phase)
		}
		path += "?" + values.Encode()
	}
	var list api.RunListResponse
	err := c.do(ctx, http.MethodGet, path, nil, &list)
	return list, err
}

func (c *apiClient) Health(ctx context.Context) (api.HealthResponse, error) {
	var health api.HealthResponse
	err := c.do(ctx, http.MethodGet, "/api/health", nil, &health)
	return health, err
}

func (c *apiClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wrapDialError(err, c.baseURL)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr api.ErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return errors.New(apiErr.Error)
		}
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func wrapDialError(err error, base string) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon at %s: connection refused; start it with `storyloom serve`", base)
	}
	return fmt.Errorf("connect to daemon at %s: %w", base, err)
}
