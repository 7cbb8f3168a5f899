package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// RunView describes a run in a transport-friendly format.
type RunView struct {
	ID          string              `json:"id"`
	OwnerRef    string              `json:"ownerRef"`
	Phase       string              `json:"phase"`
	Config      json.RawMessage     `json:"config,omitempty"`
	RetryCount  int                 `json:"retryCount"`
	UserRetries int                 `json:"userRetries"`
	Error       *RunError           `json:"error,omitempty"`
	Artifact    *ArtifactView       `json:"artifact,omitempty"`
	Progress    []StageProgressView `json:"progress,omitempty"`
	CreatedAt   string              `json:"createdAt,omitempty"`
	UpdatedAt   string              `json:"updatedAt,omitempty"`
	CompletedAt string              `json:"completedAt,omitempty"`
}

// RunError carries the failure recorded on a failed run.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Phase   string `json:"phase"`
}

// ArtifactView is the rendered output reference served to clients.
type ArtifactView struct {
	Key        string `json:"key"`
	URL        string `json:"url,omitempty"`
	URLExpires string `json:"urlExpires,omitempty"`
}

// StageProgressView is the live progress of one stage's backing job.
type StageProgressView struct {
	Phase     string `json:"phase"`
	JobRef    string `json:"jobRef,omitempty"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Detail    string `json:"detail,omitempty"`
}

// StartRequest is the payload accepted by run creation.
type StartRequest struct {
	OwnerRef string          `json:"ownerRef"`
	Config   json.RawMessage `json:"config"`
}

// ActionResponse reports the outcome of an advance, retry, or cancel call.
type ActionResponse struct {
	RunID    string `json:"runId"`
	Action   string `json:"action"`
	Previous string `json:"previous,omitempty"`
	Phase    string `json:"phase"`
	Detail   string `json:"detail,omitempty"`
}

// RunListResponse wraps a run listing.
type RunListResponse struct {
	Runs []RunView `json:"runs"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// HealthResponse reports daemon liveness.
type HealthResponse struct {
	Status string         `json:"status"`
	Runs   map[string]int `json:"runs,omitempty"`
}
