package run

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RunError captures the failure recorded on a run entering the failed phase.
type RunError struct {
	Code    string
	Message string
	Phase   Phase
}

// TransitionOptions bundles the column updates applied atomically with a
// phase transition.
type TransitionOptions struct {
	RecordError   *RunError
	ClearError    bool
	ClearLease    bool
	MarkComplete  bool
	BumpRetry     bool
	BumpUserRetry bool

	// ClearJobRefsFrom drops the job references recorded for this phase and
	// every later working phase in the same guarded write. Rollback sets it
	// to the re-entry target so the re-run stages kick off fresh jobs
	// instead of reading a completed ref from the previous attempt.
	ClearJobRefsFrom Phase
}

// TransitionPhase performs the guarded phase write: the update is conditioned
// on phase = from, so concurrent writers race safely. It returns false when
// zero rows were affected, meaning another caller already moved the run.
// An edge absent from the transition table (and not a retry re-entry edge)
// is a contract violation and returns an error without touching the store.
func (s *Store) TransitionPhase(ctx context.Context, id string, from, to Phase, opts TransitionOptions) (bool, error) {
	if !legalTransition(from, to) {
		return false, fmt.Errorf("illegal phase transition %s -> %s", from, to)
	}

	now := time.Now().UTC().Format(timeFormat)
	sets := []string{"phase = ?", "updated_at = ?"}
	args := []any{to, now}

	if opts.ClearLease {
		sets = append(sets, "locked_until = NULL")
	}
	if opts.RecordError != nil {
		sets = append(sets, "error_code = ?", "error_message = ?", "error_phase = ?")
		args = append(args, nullableString(opts.RecordError.Code), nullableString(opts.RecordError.Message), string(opts.RecordError.Phase))
	}
	if opts.ClearError {
		sets = append(sets, "error_code = NULL", "error_message = NULL", "error_phase = NULL")
	}
	if opts.MarkComplete {
		sets = append(sets, "completed_at = ?")
		args = append(args, now)
	}
	if opts.BumpRetry {
		sets = append(sets, "retry_count = retry_count + 1")
	}
	if opts.BumpUserRetry {
		sets = append(sets, "user_retries = user_retries + 1")
	}
	if opts.ClearJobRefsFrom != "" {
		encoded, err := s.jobRefsBefore(ctx, id, opts.ClearJobRefsFrom)
		if err != nil {
			return false, err
		}
		sets = append(sets, "job_refs = ?")
		args = append(args, nullableString(encoded))
	}

	query := `UPDATE runs SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND phase = ?`
	args = append(args, id, from)

	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition phase: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition rows affected: %w", err)
	}
	return affected > 0, nil
}

// jobRefsBefore returns the stored job reference map with the given phase
// and every later working phase removed. Reading ahead of the guarded write
// is safe: job references only change while the run sits in a working phase,
// and the caller's transition is conditioned on the current phase.
func (s *Store) jobRefsBefore(ctx context.Context, id string, from Phase) (string, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ensureContext(ctx), s.rebind(`SELECT job_refs FROM runs WHERE id = ?`), id).Scan(&raw)
	if err != nil {
		return "", fmt.Errorf("load job refs: %w", err)
	}
	refs, err := decodePhaseMap[string](raw.String)
	if err != nil {
		return "", fmt.Errorf("decode job refs: %w", err)
	}
	drop := false
	for _, phase := range workingPhases {
		if phase == from {
			drop = true
		}
		if drop {
			delete(refs, phase)
		}
	}
	return encodePhaseMap(refs)
}

func legalTransition(from, to Phase) bool {
	if CanTransition(from, to) {
		return true
	}
	// Retry re-entry edges: failed -> any working phase, walked only by the
	// rollback controller.
	return from == PhaseFailed && to.IsWorking()
}

// AcquireLease claims the kickoff lease until the given deadline. It succeeds
// only when the run is still in the expected phase and no unexpired lease is
// held, which is what prevents duplicate kickoff of a long sub-job.
func (s *Store) AcquireLease(ctx context.Context, id string, phase Phase, until time.Time) (bool, error) {
	now := time.Now().UTC().Format(timeFormat)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE runs
         SET locked_until = ?, updated_at = ?
         WHERE id = ? AND phase = ?
           AND (locked_until IS NULL OR locked_until < ?)`,
		until.UTC().Format(timeFormat),
		now,
		id,
		phase,
		now,
	)
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("lease rows affected: %w", err)
	}
	return affected > 0, nil
}

// ReleaseLease clears the kickoff lease. Safe to call when no lease is held.
func (s *Store) ReleaseLease(ctx context.Context, id string) error {
	_, err := s.execWithRetry(
		ctx,
		`UPDATE runs SET locked_until = NULL, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(timeFormat),
		id,
	)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// SetJobRef links an external job identifier to a phase. The write is guarded
// on the run still being in that phase.
func (s *Store) SetJobRef(ctx context.Context, r *Run, phase Phase, jobRef string) (bool, error) {
	if r == nil {
		return false, errors.New("run is nil")
	}
	refs := make(map[Phase]string, len(r.JobRefs)+1)
	for k, v := range r.JobRefs {
		refs[k] = v
	}
	refs[phase] = jobRef
	encoded, err := encodePhaseMap(refs)
	if err != nil {
		return false, fmt.Errorf("encode job refs: %w", err)
	}

	res, err := s.execWithRetry(
		ctx,
		`UPDATE runs SET job_refs = ?, updated_at = ? WHERE id = ? AND phase = ?`,
		encoded,
		time.Now().UTC().Format(timeFormat),
		r.ID,
		phase,
	)
	if err != nil {
		return false, fmt.Errorf("set job ref: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("job ref rows affected: %w", err)
	}
	if affected > 0 {
		r.JobRefs = refs
	}
	return affected > 0, nil
}

// BumpStageRetry increments the per-phase retry counter and the monotonic
// total. The write is guarded on both the phase and the current total, so
// concurrent retriers cannot double-count a single partial failure.
func (s *Store) BumpStageRetry(ctx context.Context, r *Run) (bool, error) {
	if r == nil {
		return false, errors.New("run is nil")
	}
	retries := make(map[Phase]int, len(r.StageRetries)+1)
	for k, v := range r.StageRetries {
		retries[k] = v
	}
	retries[r.Phase]++
	encoded, err := encodePhaseMap(retries)
	if err != nil {
		return false, fmt.Errorf("encode stage retries: %w", err)
	}

	res, err := s.execWithRetry(
		ctx,
		`UPDATE runs
         SET stage_retries = ?, retry_count = retry_count + 1, updated_at = ?
         WHERE id = ? AND phase = ? AND retry_count = ?`,
		encoded,
		time.Now().UTC().Format(timeFormat),
		r.ID,
		r.Phase,
		r.RetryCount,
	)
	if err != nil {
		return false, fmt.Errorf("bump stage retry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("stage retry rows affected: %w", err)
	}
	if affected > 0 {
		r.StageRetries = retries
		r.RetryCount++
	}
	return affected > 0, nil
}

// SetArtifact records the rendered output reference once the render job
// fetch-result completes.
func (s *Store) SetArtifact(ctx context.Context, id, key, url string, expiresAt time.Time) error {
	_, err := s.execWithRetry(
		ctx,
		`UPDATE runs
         SET artifact_key = ?, artifact_url = ?, artifact_url_expires_at = ?, updated_at = ?
         WHERE id = ?`,
		nullableString(key),
		nullableString(url),
		expiresAt.UTC().Format(timeFormat),
		time.Now().UTC().Format(timeFormat),
		id,
	)
	if err != nil {
		return fmt.Errorf("set artifact: %w", err)
	}
	return nil
}

// RefreshArtifact rewrites only the artifact URL columns. Status reads use it
// to refresh near-expiry URLs; it deliberately leaves phase, retry counters,
// the lease, and updated_at untouched so status stays an observable pure read.
func (s *Store) RefreshArtifact(ctx context.Context, id, url string, expiresAt time.Time) error {
	_, err := s.execWithRetry(
		ctx,
		`UPDATE runs SET artifact_url = ?, artifact_url_expires_at = ? WHERE id = ?`,
		nullableString(url),
		expiresAt.UTC().Format(timeFormat),
		id,
	)
	if err != nil {
		return fmt.Errorf("refresh artifact: %w", err)
	}
	return nil
}
