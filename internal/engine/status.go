package engine

import (
	"context"
	"fmt"
	"time"

	"storyloom/internal/artifact"
	"storyloom/internal/logging"
	"storyloom/internal/run"
	"storyloom/internal/services"
)

// StageProgress is the live progress of one stage's backing job.
type StageProgress struct {
	Phase     run.Phase
	JobRef    string
	Completed int
	Total     int
	Detail    string
}

// Status is the aggregated view returned to polling clients.
type Status struct {
	Run      *run.Run
	Progress []StageProgress
}

// Status reads the run and queries each started stage's adapter for live
// progress. It never mutates run state, with one deliberate exception: an
// artifact URL within the refresh window is transparently re-signed, which
// touches only the artifact URL columns and never the phase.
func (e *Engine) Status(ctx context.Context, runID string) (*Status, error) {
	r, err := e.store.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "status", fmt.Sprintf("run %s not found", runID), nil)
	}

	status := &Status{Run: r}
	for _, phase := range run.WorkingPhases() {
		jobRef, ok := r.JobRef(phase)
		if !ok {
			continue
		}
		progress := StageProgress{Phase: phase, JobRef: jobRef}
		adapter, err := e.registry.Adapter(phase)
		if err != nil {
			return nil, err
		}
		snapshot, err := adapter.Progress(ctx, jobRef)
		if err != nil {
			// Status stays available when a backend is unreachable.
			progress.Detail = "progress unavailable"
			e.logger.DebugContext(ctx, "stage progress unavailable", logging.Args(
				logging.String(logging.FieldRunID, r.ID),
				logging.String(logging.FieldPhase, string(phase)),
				logging.Error(err),
			)...)
		} else {
			progress.Completed = snapshot.Completed
			progress.Total = snapshot.Total
			progress.Detail = snapshot.Detail
		}
		status.Progress = append(status.Progress, progress)
	}

	e.refreshArtifactURL(ctx, r)
	return status, nil
}

// refreshArtifactURL re-signs a near-expiry artifact URL in place. Failures
// leave the stored URL untouched; the client keeps whatever was last valid.
func (e *Engine) refreshArtifactURL(ctx context.Context, r *run.Run) {
	if e.signer == nil || r.ArtifactKey == "" {
		return
	}
	if !artifact.NeedsRefresh(r.ArtifactURLExpiresAt, time.Now(), e.settings.ArtifactRefreshWindow) {
		return
	}
	signed, err := e.signer.PresignGet(ctx, r.ArtifactKey)
	if err != nil {
		e.logger.WarnContext(ctx, "artifact url refresh failed", logging.Args(
			logging.String(logging.FieldRunID, r.ID),
			logging.Error(err),
		)...)
		return
	}
	if err := e.store.RefreshArtifact(ctx, r.ID, signed.URL, signed.ExpiresAt); err != nil {
		e.logger.WarnContext(ctx, "artifact url persist failed", logging.Args(
			logging.String(logging.FieldRunID, r.ID),
			logging.Error(err),
		)...)
		return
	}
	r.ArtifactURL = signed.URL
	expires := signed.ExpiresAt
	r.ArtifactURLExpiresAt = &expires
}
