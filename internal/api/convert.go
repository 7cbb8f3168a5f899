package api

import (
	"encoding/json"
	"time"

	"storyloom/internal/engine"
	"storyloom/internal/run"
)

// FromRun converts a persisted run into its transport view.
func FromRun(r *run.Run) RunView {
	if r == nil {
		return RunView{}
	}
	view := RunView{
		ID:          r.ID,
		OwnerRef:    r.OwnerRef,
		Phase:       string(r.Phase),
		RetryCount:  r.RetryCount,
		UserRetries: r.UserRetries,
		CreatedAt:   formatTime(r.CreatedAt),
		UpdatedAt:   formatTime(r.UpdatedAt),
	}
	if r.ConfigJSON != "" {
		view.Config = json.RawMessage(r.ConfigJSON)
	}
	if r.CompletedAt != nil {
		view.CompletedAt = formatTime(*r.CompletedAt)
	}
	if r.ErrorCode != "" {
		view.Error = &RunError{
			Code:    r.ErrorCode,
			Message: r.ErrorMessage,
			Phase:   string(r.ErrorPhase),
		}
	}
	if r.ArtifactKey != "" {
		artifact := &ArtifactView{Key: r.ArtifactKey, URL: r.ArtifactURL}
		if r.ArtifactURLExpiresAt != nil {
			artifact.URLExpires = formatTime(*r.ArtifactURLExpiresAt)
		}
		view.Artifact = artifact
	}
	return view
}

// FromStatus converts an aggregated status into a run view with live
// per-stage progress attached.
func FromStatus(status *engine.Status) RunView {
	if status == nil {
		return RunView{}
	}
	view := FromRun(status.Run)
	for _, progress := range status.Progress {
		view.Progress = append(view.Progress, StageProgressView{
			Phase:     string(progress.Phase),
			JobRef:    progress.JobRef,
			Completed: progress.Completed,
			Total:     progress.Total,
			Detail:    progress.Detail,
		})
	}
	return view
}

// FromAdvanceResult converts an advance outcome.
func FromAdvanceResult(result engine.AdvanceResult) ActionResponse {
	return ActionResponse{
		RunID:    result.RunID,
		Action:   string(result.Action),
		Previous: string(result.Previous),
		Phase:    string(result.Phase),
		Detail:   result.Detail,
	}
}

// FromRetryResult converts a retry outcome.
func FromRetryResult(result engine.RetryResult) ActionResponse {
	return ActionResponse{
		RunID:  result.RunID,
		Action: string(result.Action),
		Phase:  string(result.Phase),
		Detail: result.Detail,
	}
}

// FromCancelResult converts a cancel outcome.
func FromCancelResult(result engine.CancelResult) ActionResponse {
	return ActionResponse{
		RunID:  result.RunID,
		Action: string(result.Action),
		Phase:  string(result.Phase),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
