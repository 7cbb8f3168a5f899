package run

import (
	"encoding/json"
	"time"
)

// Error codes recorded on failed runs.
const (
	ErrCodeStageFailed    = "STAGE_FAILED"
	ErrCodeRetryExhausted = "RETRY_EXHAUSTED"
)

// Run represents one pipeline execution persisted in the store.
type Run struct {
	ID         string
	OwnerRef   string
	Phase      Phase
	ConfigJSON string

	LockedUntil *time.Time

	// RetryCount is the total number of retries over the run's lifetime,
	// monotonically non-decreasing. StageRetries counts advance-driven
	// partial retries per phase; UserRetries counts explicit retry calls.
	RetryCount   int
	StageRetries map[Phase]int
	UserRetries  int

	ErrorCode    string
	ErrorMessage string
	ErrorPhase   Phase

	// JobRefs links each working phase to the external job driving it.
	JobRefs map[Phase]string

	ArtifactKey          string
	ArtifactURL          string
	ArtifactURLExpiresAt *time.Time

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Config decodes the frozen configuration snapshot.
func (r *Run) Config() (Config, error) {
	return ParseConfig([]byte(r.ConfigJSON))
}

// JobRef returns the external job identifier linked to a phase.
func (r *Run) JobRef(phase Phase) (string, bool) {
	ref, ok := r.JobRefs[phase]
	return ref, ok && ref != ""
}

// StageRetryCount returns the number of advance-driven retries for a phase.
func (r *Run) StageRetryCount(phase Phase) int {
	return r.StageRetries[phase]
}

// LeaseHeld reports whether the run is under an unexpired kickoff lease.
func (r *Run) LeaseHeld(now time.Time) bool {
	return r.LockedUntil != nil && r.LockedUntil.After(now)
}

// IsTerminal reports whether the run reached a terminal phase.
func (r *Run) IsTerminal() bool {
	return r.Phase.IsTerminal()
}

func encodePhaseMap[V int | string](m map[Phase]V) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodePhaseMap[V int | string](raw string) (map[Phase]V, error) {
	if raw == "" {
		return map[Phase]V{}, nil
	}
	out := make(map[Phase]V)
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}
