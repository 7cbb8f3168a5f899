package engine

import "storyloom/internal/run"

// Action describes what an engine operation did to a run. Expected business
// outcomes are always reported through actions, never through errors.
type Action string

const (
	// ActionNoop means the run needed nothing, or another caller already
	// performed the same work and this call deferred to it.
	ActionNoop Action = "noop"
	// ActionConflict means a kickoff lease is held by another caller.
	// Resolved by polling again later.
	ActionConflict Action = "conflict"
	// ActionWaiting means the current stage's job is still running.
	ActionWaiting Action = "waiting"
	// ActionAdvanced means the run moved to the next phase and the next
	// stage's job was kicked off.
	ActionAdvanced Action = "advanced"
	// ActionCompleted means the final stage finished and the run is ready.
	ActionCompleted Action = "completed"
	// ActionRetrying means failed units of the current stage were
	// resubmitted without a phase change.
	ActionRetrying Action = "retrying"
	// ActionFailed means the run was moved to the failed phase.
	ActionFailed Action = "failed"
	// ActionRolledBack means an explicit retry re-entered the pipeline at
	// the rollback target phase.
	ActionRolledBack Action = "rolled-back"
	// ActionExhausted means the explicit retry ceiling was reached and the
	// run stays failed.
	ActionExhausted Action = "exhausted"
	// ActionCanceled means the run was moved to canceled.
	ActionCanceled Action = "canceled"
)

// AdvanceResult reports one advance invocation.
type AdvanceResult struct {
	RunID    string
	Action   Action
	Previous run.Phase
	Phase    run.Phase
	Detail   string
}

// RetryResult reports one explicit retry invocation.
type RetryResult struct {
	RunID  string
	Action Action
	Phase  run.Phase
	Detail string
}

// CancelResult reports one cancel invocation.
type CancelResult struct {
	RunID  string
	Action Action
	Phase  run.Phase
}
