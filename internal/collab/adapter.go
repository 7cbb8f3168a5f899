package collab

import (
	"context"

	"storyloom/internal/run"
)

// Completion is the uniform tuple every adapter reduces its backing job to.
// Unit counts refer to the job's internal work units (scenes, images, audio
// clips); single-unit jobs report totals of one.
type Completion struct {
	Done         bool
	SuccessCount int
	FailedCount  int
	TotalUnits   int
}

// Progress is a live snapshot for status reads. It carries no decision
// weight; only Completion feeds the engine.
type Progress struct {
	Phase     run.Phase
	Completed int
	Total     int
	Detail    string
}

// Adapter is the only surface a stage backend exposes to the engine.
//
// Kickoff submits the stage's backing job and returns its external job
// reference. It must be safe to call at most once per (run, phase) pair;
// the engine guarantees that via the kickoff lease.
//
// IsComplete reads the backing job's state and reduces it to a Completion.
// Adapters fold provider-side errors into FailedCount rather than returning
// them raw; only transport-level faults surface as errors. A job stuck in
// a running state beyond the configured stale threshold is reported as a
// full failure.
//
// RetryFailedUnits resubmits only the failed units of a partially failed
// job. Cancel is best effort and must tolerate already-finished jobs.
type Adapter interface {
	Kickoff(ctx context.Context, r *run.Run) (jobRef string, err error)
	IsComplete(ctx context.Context, jobRef string) (Completion, error)
	RetryFailedUnits(ctx context.Context, r *run.Run, jobRef string) error
	Cancel(ctx context.Context, jobRef string) error
	Progress(ctx context.Context, jobRef string) (Progress, error)
}

// ArtifactProducer is implemented by adapters whose completed job yields an
// artifact in shared object storage. The engine fetches the key once when
// the producing phase succeeds.
type ArtifactProducer interface {
	ArtifactKey(ctx context.Context, jobRef string) (string, error)
}
