package engine

import (
	"context"
	"fmt"
	"time"

	"storyloom/internal/collab"
	"storyloom/internal/logging"
	"storyloom/internal/run"
	"storyloom/internal/services"
)

// Advance performs one idempotent step of the pipeline. It inspects the
// run's current phase, consults the stage's completion oracle, and applies
// at most one guarded transition. Safe to call repeatedly and concurrently;
// every expected outcome is a typed action, only store and transport faults
// return errors.
func (e *Engine) Advance(ctx context.Context, runID string) (AdvanceResult, error) {
	r, err := e.store.GetByID(ctx, runID)
	if err != nil {
		return AdvanceResult{}, err
	}
	if r == nil {
		return AdvanceResult{}, services.Wrap(services.ErrNotFound, "", "advance", fmt.Sprintf("run %s not found", runID), nil)
	}

	result := AdvanceResult{RunID: r.ID, Previous: r.Phase, Phase: r.Phase}

	if r.IsTerminal() {
		result.Action = ActionNoop
		result.Detail = "run is terminal"
		return result, nil
	}
	if r.LeaseHeld(time.Now()) {
		result.Action = ActionConflict
		result.Detail = "kickoff lease held"
		return result, nil
	}

	if r.Phase == run.PhaseInit {
		return e.enterPhase(ctx, r, run.PhaseScripting)
	}

	jobRef, ok := r.JobRef(r.Phase)
	if !ok {
		// A previous caller transitioned the phase but crashed before the
		// kickoff was recorded. The lease has expired, so kick off again.
		return e.kickoff(ctx, r.ID, r.Phase, r.Phase)
	}

	adapter, err := e.registry.Adapter(r.Phase)
	if err != nil {
		return result, err
	}
	completion, err := adapter.IsComplete(ctx, jobRef)
	if err != nil {
		return result, err
	}

	switch collab.Classify(completion) {
	case collab.OutcomeRunning:
		result.Action = ActionWaiting
		result.Detail = fmt.Sprintf("%d/%d units complete", completion.SuccessCount, completion.TotalUnits)
		return result, nil

	case collab.OutcomeSucceeded:
		return e.completePhase(ctx, r, adapter, jobRef)

	case collab.OutcomePartialFailure:
		if r.StageRetryCount(r.Phase) >= e.settings.StageRetryCeiling {
			return e.failRun(ctx, r, fmt.Sprintf(
				"%d of %d units failed after %d retries",
				completion.FailedCount, completion.TotalUnits, r.StageRetryCount(r.Phase)))
		}
		return e.retryFailedUnits(ctx, r, adapter, jobRef, completion)

	default: // collab.OutcomeFullFailure
		return e.failRun(ctx, r, fmt.Sprintf("all %d units failed", completion.TotalUnits))
	}
}

// enterPhase transitions the run into the given phase and kicks off its
// stage job. Losing the transition race means another caller is already
// driving the same step.
func (e *Engine) enterPhase(ctx context.Context, r *run.Run, to run.Phase) (AdvanceResult, error) {
	result := AdvanceResult{RunID: r.ID, Previous: r.Phase, Phase: r.Phase}
	ok, err := e.store.TransitionPhase(ctx, r.ID, r.Phase, to, run.TransitionOptions{ClearLease: true})
	if err != nil {
		return result, err
	}
	if !ok {
		result.Action = ActionNoop
		result.Detail = "another caller advanced the run"
		return result, nil
	}
	e.logger.InfoContext(ctx, "phase advanced", logging.Args(
		logging.String(logging.FieldRunID, r.ID),
		logging.String(logging.FieldPhase, string(to)),
	)...)
	return e.kickoff(ctx, r.ID, r.Phase, to)
}

// kickoff submits the stage job for a run already in the target phase. The
// kickoff lease guarantees at most one submission even when advance is
// called again before the job reference lands.
func (e *Engine) kickoff(ctx context.Context, runID string, previous, phase run.Phase) (AdvanceResult, error) {
	result := AdvanceResult{RunID: runID, Previous: previous, Phase: phase}

	ok, err := e.store.AcquireLease(ctx, runID, phase, time.Now().Add(e.settings.Lease))
	if err != nil {
		return result, err
	}
	if !ok {
		result.Action = ActionConflict
		result.Detail = "kickoff lease held"
		return result, nil
	}

	r, err := e.store.GetByID(ctx, runID)
	if err != nil {
		return result, err
	}
	if r == nil || r.Phase != phase {
		result.Action = ActionNoop
		result.Detail = "run moved before kickoff"
		return result, nil
	}

	adapter, err := e.registry.Adapter(phase)
	if err != nil {
		return result, err
	}
	jobRef, err := adapter.Kickoff(ctx, r)
	if err != nil {
		// Leave the run in place; the expired lease lets a later advance
		// attempt the kickoff again.
		if releaseErr := e.store.ReleaseLease(ctx, runID); releaseErr != nil {
			e.logger.WarnContext(ctx, "lease release failed", logging.Args(
				logging.String(logging.FieldRunID, runID),
				logging.Error(releaseErr),
			)...)
		}
		return result, err
	}
	if _, err := e.store.SetJobRef(ctx, r, phase, jobRef); err != nil {
		return result, err
	}
	if err := e.store.ReleaseLease(ctx, runID); err != nil {
		return result, err
	}

	e.logger.InfoContext(ctx, "stage job kicked off", logging.Args(
		logging.String(logging.FieldRunID, runID),
		logging.String(logging.FieldPhase, string(phase)),
		logging.String(logging.FieldJobRef, jobRef),
	)...)
	result.Action = ActionAdvanced
	return result, nil
}

// completePhase handles a fully succeeded stage: the final stage resolves
// its artifact and closes the run, every other stage hands off to its
// successor.
func (e *Engine) completePhase(ctx context.Context, r *run.Run, adapter collab.Adapter, jobRef string) (AdvanceResult, error) {
	result := AdvanceResult{RunID: r.ID, Previous: r.Phase, Phase: r.Phase}

	next, ok := run.NextPhase(r.Phase)
	if !ok {
		return result, fmt.Errorf("engine: no successor for phase %s", r.Phase)
	}

	if next == run.PhaseReady {
		if producer, ok := adapter.(collab.ArtifactProducer); ok {
			if err := e.resolveArtifact(ctx, r.ID, producer, jobRef); err != nil {
				return result, err
			}
		}
		moved, err := e.store.TransitionPhase(ctx, r.ID, r.Phase, run.PhaseReady, run.TransitionOptions{
			ClearLease:   true,
			MarkComplete: true,
		})
		if err != nil {
			return result, err
		}
		if !moved {
			result.Action = ActionNoop
			result.Detail = "another caller completed the run"
			return result, nil
		}
		e.logger.InfoContext(ctx, "run completed", logging.Args(
			logging.String(logging.FieldRunID, r.ID),
		)...)
		result.Action = ActionCompleted
		result.Phase = run.PhaseReady
		return result, nil
	}

	return e.enterPhase(ctx, r, next)
}

// resolveArtifact fetches the finished render's object key and, when a
// signer is configured, records a first signed URL alongside it.
func (e *Engine) resolveArtifact(ctx context.Context, runID string, producer collab.ArtifactProducer, jobRef string) error {
	key, err := producer.ArtifactKey(ctx, jobRef)
	if err != nil {
		return err
	}
	var url string
	expiresAt := time.Now()
	if e.signer != nil {
		signed, err := e.signer.PresignGet(ctx, key)
		if err != nil {
			return err
		}
		url = signed.URL
		expiresAt = signed.ExpiresAt
	}
	return e.store.SetArtifact(ctx, runID, key, url, expiresAt)
}

// retryFailedUnits resubmits only the failed units of a partially failed
// stage. The counter bump is the concurrency guard: whoever wins it owns
// the resubmission.
func (e *Engine) retryFailedUnits(ctx context.Context, r *run.Run, adapter collab.Adapter, jobRef string, completion collab.Completion) (AdvanceResult, error) {
	result := AdvanceResult{RunID: r.ID, Previous: r.Phase, Phase: r.Phase}

	ok, err := e.store.BumpStageRetry(ctx, r)
	if err != nil {
		return result, err
	}
	if !ok {
		result.Action = ActionNoop
		result.Detail = "another caller is retrying the stage"
		return result, nil
	}
	if err := adapter.RetryFailedUnits(ctx, r, jobRef); err != nil {
		return result, err
	}
	e.logger.InfoContext(ctx, "failed units resubmitted", logging.Args(
		logging.String(logging.FieldRunID, r.ID),
		logging.String(logging.FieldPhase, string(r.Phase)),
		logging.Int("failed_units", completion.FailedCount),
		logging.Int("stage_retry", r.StageRetryCount(r.Phase)),
	)...)
	result.Action = ActionRetrying
	result.Detail = fmt.Sprintf("resubmitted %d failed units", completion.FailedCount)
	return result, nil
}

// failRun moves the run to failed, recording which phase broke and why.
func (e *Engine) failRun(ctx context.Context, r *run.Run, message string) (AdvanceResult, error) {
	result := AdvanceResult{RunID: r.ID, Previous: r.Phase, Phase: r.Phase}
	ok, err := e.store.TransitionPhase(ctx, r.ID, r.Phase, run.PhaseFailed, run.TransitionOptions{
		RecordError: &run.RunError{Code: run.ErrCodeStageFailed, Message: message, Phase: r.Phase},
		ClearLease:  true,
	})
	if err != nil {
		return result, err
	}
	if !ok {
		result.Action = ActionNoop
		result.Detail = "another caller moved the run"
		return result, nil
	}
	e.logger.WarnContext(ctx, "run failed", logging.Args(
		logging.String(logging.FieldRunID, r.ID),
		logging.String(logging.FieldPhase, string(r.Phase)),
		logging.String("reason", message),
	)...)
	result.Action = ActionFailed
	result.Phase = run.PhaseFailed
	return result, nil
}
