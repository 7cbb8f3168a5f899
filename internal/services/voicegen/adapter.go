package voicegen

import (
	"context"
	"time"

	"storyloom/internal/collab"
	"storyloom/internal/run"
	"storyloom/internal/services"
	"storyloom/internal/services/stagejob"
)

// Adapter drives the narrating phase through the narration service.
type Adapter struct {
	client     *Client
	staleAfter time.Duration
}

// NewAdapter wires the narrating phase to a voicegen client.
func NewAdapter(client *Client, staleAfter time.Duration) *Adapter {
	return &Adapter{client: client, staleAfter: staleAfter}
}

func (a *Adapter) Kickoff(ctx context.Context, r *run.Run) (string, error) {
	cfg, err := run.ParseConfig([]byte(r.ConfigJSON))
	if err != nil {
		return "", services.Wrap(services.ErrValidation, string(run.PhaseNarrating), "kickoff", "stored run config is invalid", err)
	}
	jobID, err := a.client.Submit(ctx, SubmitRequest{
		RunID:      r.ID,
		VoiceID:    cfg.VoiceID,
		SceneCount: cfg.SceneCount,
	})
	if err != nil {
		return "", services.Wrap(services.ErrExternal, string(run.PhaseNarrating), "kickoff", "narration submit failed", err)
	}
	return jobID, nil
}

func (a *Adapter) IsComplete(ctx context.Context, jobRef string) (collab.Completion, error) {
	status, err := a.client.Status(ctx, jobRef)
	if err != nil {
		return collab.Completion{}, services.Wrap(services.ErrExternal, string(run.PhaseNarrating), "status", "narration status failed", err)
	}
	return stagejob.Completion(status, time.Now(), a.staleAfter), nil
}

func (a *Adapter) RetryFailedUnits(ctx context.Context, _ *run.Run, jobRef string) error {
	if err := a.client.RetryFailed(ctx, jobRef); err != nil {
		return services.Wrap(services.ErrExternal, string(run.PhaseNarrating), "retry", "narration retry failed", err)
	}
	return nil
}

func (a *Adapter) Cancel(ctx context.Context, jobRef string) error {
	return a.client.Cancel(ctx, jobRef)
}

func (a *Adapter) Progress(ctx context.Context, jobRef string) (collab.Progress, error) {
	status, err := a.client.Status(ctx, jobRef)
	if err != nil {
		return collab.Progress{}, services.Wrap(services.ErrExternal, string(run.PhaseNarrating), "progress", "narration status failed", err)
	}
	return collab.Progress{
		Phase:     run.PhaseNarrating,
		Completed: status.SuccessCount,
		Total:     status.TotalUnits,
		Detail:    status.Detail,
	}, nil
}
