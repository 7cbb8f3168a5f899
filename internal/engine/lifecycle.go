package engine

import (
	"context"
	"errors"
	"fmt"

	"storyloom/internal/logging"
	"storyloom/internal/run"
	"storyloom/internal/services"
)

// Start validates and freezes the run configuration, creates the run, and
// immediately drives the first advance so segmentation kicks off before the
// call returns. At most one active run may exist per owner.
func (e *Engine) Start(ctx context.Context, ownerRef string, rawConfig []byte) (*run.Run, error) {
	if ownerRef == "" {
		return nil, services.Wrap(services.ErrValidation, "", "start", "owner reference is required", nil)
	}
	cfg, err := run.ParseConfig(rawConfig)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "start", "invalid run configuration", err)
	}

	r, err := e.store.Create(ctx, ownerRef, cfg)
	if err != nil {
		if errors.Is(err, run.ErrActiveRunExists) {
			return nil, services.Wrap(services.ErrConflict, "", "start",
				fmt.Sprintf("owner %s already has an active run", ownerRef), err)
		}
		return nil, err
	}
	e.logger.InfoContext(ctx, "run started", logging.Args(
		logging.String(logging.FieldRunID, r.ID),
		logging.String(logging.FieldOwner, ownerRef),
	)...)

	if _, err := e.Advance(ctx, r.ID); err != nil {
		// The run exists and is recoverable by a later advance; report the
		// kickoff problem without undoing the start.
		e.logger.WarnContext(ctx, "initial advance failed", logging.Args(
			logging.String(logging.FieldRunID, r.ID),
			logging.Error(err),
		)...)
	}

	created, err := e.store.GetByID(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	return created, nil
}

// FindActive returns the owner's active run, or nil when none exists.
func (e *Engine) FindActive(ctx context.Context, ownerRef string) (*run.Run, error) {
	if ownerRef == "" {
		return nil, services.Wrap(services.ErrValidation, "", "find active", "owner reference is required", nil)
	}
	return e.store.FindActive(ctx, ownerRef)
}

// Retry re-enters a failed run at the rollback target of the phase that
// broke. Bounded by the user retry ceiling; an exhausted run stays failed
// with a distinct result rather than an error.
func (e *Engine) Retry(ctx context.Context, runID string) (RetryResult, error) {
	r, err := e.store.GetByID(ctx, runID)
	if err != nil {
		return RetryResult{}, err
	}
	if r == nil {
		return RetryResult{}, services.Wrap(services.ErrNotFound, "", "retry", fmt.Sprintf("run %s not found", runID), nil)
	}

	result := RetryResult{RunID: r.ID, Phase: r.Phase}

	if r.Phase != run.PhaseFailed {
		return result, services.Wrap(services.ErrPhaseMismatch, string(r.Phase), "retry",
			"only failed runs can be retried", nil)
	}
	if r.UserRetries >= e.settings.UserRetryCeiling {
		result.Action = ActionExhausted
		result.Detail = run.ErrCodeRetryExhausted
		return result, nil
	}

	target, ok := run.RollbackTarget(r.ErrorPhase)
	if !ok {
		return result, fmt.Errorf("engine: no rollback target for phase %q", r.ErrorPhase)
	}

	// Dropping the refs for the target and later stages is what forces the
	// re-entered stages to run fresh jobs: a completed ref left behind would
	// let the next advance sail through without redoing any work.
	moved, err := e.store.TransitionPhase(ctx, r.ID, run.PhaseFailed, target, run.TransitionOptions{
		ClearError:       true,
		ClearLease:       true,
		BumpRetry:        true,
		BumpUserRetry:    true,
		ClearJobRefsFrom: target,
	})
	if err != nil {
		return result, err
	}
	if !moved {
		result.Action = ActionNoop
		result.Detail = "another caller moved the run"
		return result, nil
	}
	e.logger.InfoContext(ctx, "run rolled back for retry", logging.Args(
		logging.String(logging.FieldRunID, r.ID),
		logging.String(logging.FieldPhase, string(target)),
		logging.Int("user_retries", r.UserRetries+1),
	)...)

	kick, err := e.kickoff(ctx, r.ID, run.PhaseFailed, target)
	if err != nil {
		return result, err
	}
	result.Action = ActionRolledBack
	result.Phase = target
	result.Detail = kick.Detail
	return result, nil
}

// Cancel moves a non-terminal run to canceled and sends a best-effort stop
// to its outstanding stage job. Canceling an already canceled run is a
// no-op; ready and failed runs cannot be canceled.
func (e *Engine) Cancel(ctx context.Context, runID string) (CancelResult, error) {
	r, err := e.store.GetByID(ctx, runID)
	if err != nil {
		return CancelResult{}, err
	}
	if r == nil {
		return CancelResult{}, services.Wrap(services.ErrNotFound, "", "cancel", fmt.Sprintf("run %s not found", runID), nil)
	}

	result := CancelResult{RunID: r.ID, Phase: r.Phase}

	if r.Phase == run.PhaseCanceled {
		result.Action = ActionNoop
		return result, nil
	}
	if r.IsTerminal() {
		return result, services.Wrap(services.ErrPhaseMismatch, string(r.Phase), "cancel",
			"run already finished", nil)
	}

	moved, err := e.store.TransitionPhase(ctx, r.ID, r.Phase, run.PhaseCanceled, run.TransitionOptions{
		ClearLease:   true,
		MarkComplete: true,
	})
	if err != nil {
		return result, err
	}
	if !moved {
		result.Action = ActionNoop
		return result, nil
	}

	// Best effort: the orchestrator never waits for the backend to confirm.
	if jobRef, ok := r.JobRef(r.Phase); ok {
		if adapter, err := e.registry.Adapter(r.Phase); err == nil {
			if err := adapter.Cancel(ctx, jobRef); err != nil {
				e.logger.WarnContext(ctx, "stage job cancel failed", logging.Args(
					logging.String(logging.FieldRunID, r.ID),
					logging.String(logging.FieldJobRef, jobRef),
					logging.Error(err),
				)...)
			}
		}
	}

	e.logger.InfoContext(ctx, "run canceled", logging.Args(
		logging.String(logging.FieldRunID, r.ID),
		logging.String(logging.FieldPhase, string(r.Phase)),
	)...)
	result.Action = ActionCanceled
	result.Phase = run.PhaseCanceled
	return result, nil
}
