package run_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"storyloom/internal/run"
)

func openStore(t *testing.T) *run.Store {
	t.Helper()
	store, err := run.OpenSQLite(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testConfig() run.Config {
	return run.Config{
		Title:         "Fox Tales",
		Brief:         "a fox learns to fly",
		VoiceID:       "nova",
		SceneCount:    5,
		WordsPerScene: 60,
		AspectRatio:   "16:9",
	}
}

func TestCreateAndGet(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	r, err := store.Create(ctx, "project-1", testConfig())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if r.ID == "" || r.Phase != run.PhaseInit {
		t.Fatalf("unexpected created run: %+v", r)
	}
	if r.ConfigJSON == "" {
		t.Fatal("expected frozen config snapshot")
	}

	fetched, err := store.GetByID(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched == nil || fetched.OwnerRef != "project-1" {
		t.Fatalf("unexpected fetched run: %#v", fetched)
	}

	missing, err := store.GetByID(ctx, "no-such-run")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing run, got %v %v", missing, err)
	}
}

func TestCreateEnforcesSingleActiveRunPerOwner(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, "project-1", testConfig())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.Create(ctx, "project-1", testConfig()); err != run.ErrActiveRunExists {
		t.Fatalf("expected ErrActiveRunExists, got %v", err)
	}

	// A terminal run drops out of the uniqueness constraint.
	if ok, err := store.TransitionPhase(ctx, first.ID, run.PhaseInit, run.PhaseCanceled, run.TransitionOptions{MarkComplete: true}); err != nil || !ok {
		t.Fatalf("cancel transition failed: %v %v", ok, err)
	}
	if _, err := store.Create(ctx, "project-1", testConfig()); err != nil {
		t.Fatalf("expected new run after terminal, got %v", err)
	}
}

func TestFindActive(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	if r, err := store.FindActive(ctx, "project-1"); err != nil || r != nil {
		t.Fatalf("expected no active run, got %v %v", r, err)
	}

	created, err := store.Create(ctx, "project-1", testConfig())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	active, err := store.FindActive(ctx, "project-1")
	if err != nil || active == nil || active.ID != created.ID {
		t.Fatalf("expected active run %s, got %#v %v", created.ID, active, err)
	}
}

func TestTransitionPhaseCAS(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	r, err := store.Create(ctx, "project-1", testConfig())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ok, err := store.TransitionPhase(ctx, r.ID, run.PhaseInit, run.PhaseScripting, run.TransitionOptions{})
	if err != nil || !ok {
		t.Fatalf("expected transition to succeed: %v %v", ok, err)
	}

	// A second writer observing the stale phase loses the race.
	ok, err = store.TransitionPhase(ctx, r.ID, run.PhaseInit, run.PhaseScripting, run.TransitionOptions{})
	if err != nil {
		t.Fatalf("lost CAS must not error: %v", err)
	}
	if ok {
		t.Fatal("expected lost CAS to report zero rows")
	}

	updated, err := store.GetByID(ctx, r.ID)
	if err != nil || updated.Phase != run.PhaseScripting {
		t.Fatalf("unexpected phase after CAS: %#v %v", updated, err)
	}
}

func TestTransitionPhaseRejectsIllegalEdge(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	r, err := store.Create(ctx, "project-1", testConfig())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.TransitionPhase(ctx, r.ID, run.PhaseInit, run.PhaseRendering, run.TransitionOptions{}); err == nil {
		t.Fatal("expected error for phase-skipping edge")
	}
	unchanged, _ := store.GetByID(ctx, r.ID)
	if unchanged.Phase != run.PhaseInit {
		t.Fatalf("illegal transition must not mutate, got %s", unchanged.Phase)
	}
}

func TestTransitionRecordsAndClearsError(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	r, err := store.Create(ctx, "project-1", testConfig())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	mustTransition(t, store, r.ID, run.PhaseInit, run.PhaseScripting)

	ok, err := store.TransitionPhase(ctx, r.ID, run.PhaseScripting, run.PhaseFailed, run.TransitionOptions{
		RecordError: &run.RunError{Code: run.ErrCodeStageFailed, Message: "segmentation exploded", Phase: run.PhaseScripting},
		ClearLease:  true,
	})
	if err != nil || !ok {
		t.Fatalf("fail transition: %v %v", ok, err)
	}
	failed, _ := store.GetByID(ctx, r.ID)
	if failed.ErrorCode != run.ErrCodeStageFailed || failed.ErrorPhase != run.PhaseScripting {
		t.Fatalf("error fields not recorded: %+v", failed)
	}

	ok, err = store.TransitionPhase(ctx, r.ID, run.PhaseFailed, run.PhaseScripting, run.TransitionOptions{
		ClearError:    true,
		BumpRetry:     true,
		BumpUserRetry: true,
	})
	if err != nil || !ok {
		t.Fatalf("retry transition: %v %v", ok, err)
	}
	retried, _ := store.GetByID(ctx, r.ID)
	if retried.ErrorCode != "" || retried.ErrorMessage != "" || retried.ErrorPhase != "" {
		t.Fatalf("error fields not cleared: %+v", retried)
	}
	if retried.RetryCount != 1 || retried.UserRetries != 1 {
		t.Fatalf("retry counters not bumped: %+v", retried)
	}
}

func TestLeaseLifecycle(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	r, err := store.Create(ctx, "project-1", testConfig())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	mustTransition(t, store, r.ID, run.PhaseInit, run.PhaseScripting)

	until := time.Now().Add(5 * time.Minute)
	ok, err := store.AcquireLease(ctx, r.ID, run.PhaseScripting, until)
	if err != nil || !ok {
		t.Fatalf("expected lease acquisition: %v %v", ok, err)
	}

	// Held lease blocks a second claimant.
	ok, err = store.AcquireLease(ctx, r.ID, run.PhaseScripting, time.Now().Add(time.Minute))
	if err != nil || ok {
		t.Fatalf("expected held lease to block: %v %v", ok, err)
	}

	leased, _ := store.GetByID(ctx, r.ID)
	if !leased.LeaseHeld(time.Now()) {
		t.Fatalf("expected LeaseHeld true: %+v", leased.LockedUntil)
	}

	if err := store.ReleaseLease(ctx, r.ID); err != nil {
		t.Fatalf("ReleaseLease failed: %v", err)
	}
	released, _ := store.GetByID(ctx, r.ID)
	if released.LockedUntil != nil {
		t.Fatal("expected lease cleared")
	}

	// An expired lease is reclaimable without an explicit release.
	past := time.Now().Add(-time.Minute)
	if ok, err := store.AcquireLease(ctx, r.ID, run.PhaseScripting, past); err != nil || !ok {
		t.Fatalf("acquire expired lease: %v %v", ok, err)
	}
	if ok, err := store.AcquireLease(ctx, r.ID, run.PhaseScripting, time.Now().Add(time.Minute)); err != nil || !ok {
		t.Fatalf("expected expired lease to be reclaimable: %v %v", ok, err)
	}
}

func TestLeaseRequiresMatchingPhase(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	r, err := store.Create(ctx, "project-1", testConfig())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if ok, err := store.AcquireLease(ctx, r.ID, run.PhaseRendering, time.Now().Add(time.Minute)); err != nil || ok {
		t.Fatalf("expected phase-mismatched lease to fail: %v %v", ok, err)
	}
}

func TestSetJobRefGuardedByPhase(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	r, err := store.Create(ctx, "project-1", testConfig())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	mustTransition(t, store, r.ID, run.PhaseInit, run.PhaseScripting)
	r, _ = store.GetByID(ctx, r.ID)

	ok, err := store.SetJobRef(ctx, r, run.PhaseScripting, "seg-123")
	if err != nil || !ok {
		t.Fatalf("SetJobRef failed: %v %v", ok, err)
	}
	stored, _ := store.GetByID(ctx, r.ID)
	if ref, ok := stored.JobRef(run.PhaseScripting); !ok || ref != "seg-123" {
		t.Fatalf("job ref not persisted: %+v", stored.JobRefs)
	}

	// Guard: a stale caller whose phase moved on writes nothing.
	mustTransition(t, store, r.ID, run.PhaseScripting, run.PhaseIllustrating)
	ok, err = store.SetJobRef(ctx, stored, run.PhaseScripting, "seg-456")
	if err != nil || ok {
		t.Fatalf("expected stale job ref write to be rejected: %v %v", ok, err)
	}
}

func TestTransitionClearsJobRefsFromPhase(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	r, err := store.Create(ctx, "project-1", testConfig())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	refs := map[run.Phase]string{
		run.PhaseScripting:    "seg-1",
		run.PhaseIllustrating: "img-1",
		run.PhaseNarrating:    "voc-1",
		run.PhaseRendering:    "vid-1",
	}
	current := r
	for _, phase := range run.WorkingPhases() {
		mustTransition(t, store, r.ID, current.Phase, phase)
		current, _ = store.GetByID(ctx, r.ID)
		if ok, err := store.SetJobRef(ctx, current, phase, refs[phase]); err != nil || !ok {
			t.Fatalf("SetJobRef %s failed: %v %v", phase, ok, err)
		}
	}

	ok, err := store.TransitionPhase(ctx, r.ID, run.PhaseRendering, run.PhaseFailed, run.TransitionOptions{
		RecordError: &run.RunError{Code: run.ErrCodeStageFailed, Message: "render exploded", Phase: run.PhaseRendering},
	})
	if err != nil || !ok {
		t.Fatalf("fail transition: %v %v", ok, err)
	}

	// Rollback to illustrating drops the target's ref and everything after
	// it in the same guarded write; earlier stages keep theirs.
	ok, err = store.TransitionPhase(ctx, r.ID, run.PhaseFailed, run.PhaseIllustrating, run.TransitionOptions{
		ClearError:       true,
		BumpRetry:        true,
		BumpUserRetry:    true,
		ClearJobRefsFrom: run.PhaseIllustrating,
	})
	if err != nil || !ok {
		t.Fatalf("rollback transition: %v %v", ok, err)
	}

	rolled, _ := store.GetByID(ctx, r.ID)
	if ref, ok := rolled.JobRef(run.PhaseScripting); !ok || ref != "seg-1" {
		t.Fatalf("scripting ref must survive, got %+v", rolled.JobRefs)
	}
	for _, phase := range []run.Phase{run.PhaseIllustrating, run.PhaseNarrating, run.PhaseRendering} {
		if _, ok := rolled.JobRef(phase); ok {
			t.Fatalf("expected %s ref cleared, got %+v", phase, rolled.JobRefs)
		}
	}
}

func TestBumpStageRetryGuard(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	r, err := store.Create(ctx, "project-1", testConfig())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	mustTransition(t, store, r.ID, run.PhaseInit, run.PhaseScripting)
	r, _ = store.GetByID(ctx, r.ID)

	stale := *r
	ok, err := store.BumpStageRetry(ctx, r)
	if err != nil || !ok {
		t.Fatalf("BumpStageRetry failed: %v %v", ok, err)
	}
	if r.RetryCount != 1 || r.StageRetryCount(run.PhaseScripting) != 1 {
		t.Fatalf("in-memory counters not updated: %+v", r)
	}

	// A concurrent caller holding the pre-bump snapshot loses the guard.
	ok, err = store.BumpStageRetry(ctx, &stale)
	if err != nil || ok {
		t.Fatalf("expected stale retry bump to lose: %v %v", ok, err)
	}

	stored, _ := store.GetByID(ctx, r.ID)
	if stored.RetryCount != 1 || stored.StageRetryCount(run.PhaseScripting) != 1 {
		t.Fatalf("expected single bump, got %+v", stored)
	}
}

func TestArtifactWrites(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	r, err := store.Create(ctx, "project-1", testConfig())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	if err := store.SetArtifact(ctx, r.ID, "renders/r1.mp4", "https://signed/1", expires); err != nil {
		t.Fatalf("SetArtifact failed: %v", err)
	}
	stored, _ := store.GetByID(ctx, r.ID)
	if stored.ArtifactKey != "renders/r1.mp4" || stored.ArtifactURL != "https://signed/1" {
		t.Fatalf("artifact not recorded: %+v", stored)
	}

	before, _ := store.GetByID(ctx, r.ID)
	newExpires := time.Now().Add(2 * time.Hour)
	if err := store.RefreshArtifact(ctx, r.ID, "https://signed/2", newExpires); err != nil {
		t.Fatalf("RefreshArtifact failed: %v", err)
	}
	after, _ := store.GetByID(ctx, r.ID)
	if after.ArtifactURL != "https://signed/2" {
		t.Fatal("expected refreshed URL")
	}
	// Refresh is a pure-read side channel: nothing else may move.
	if after.Phase != before.Phase || after.RetryCount != before.RetryCount || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("refresh mutated run state: %+v vs %+v", before, after)
	}
}

func TestStatsAndPruneTerminal(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	a, _ := store.Create(ctx, "project-a", testConfig())
	b, _ := store.Create(ctx, "project-b", testConfig())
	mustTransition(t, store, a.ID, run.PhaseInit, run.PhaseCanceled)

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats[run.PhaseCanceled] != 1 || stats[run.PhaseInit] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}

	pruned, err := store.PruneTerminal(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("PruneTerminal failed: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned terminal run, got %d", pruned)
	}
	if remaining, _ := store.GetByID(ctx, b.ID); remaining == nil {
		t.Fatal("active run must survive pruning")
	}
}

func mustTransition(t *testing.T, store *run.Store, id string, from, to run.Phase) {
	t.Helper()
	ok, err := store.TransitionPhase(context.Background(), id, from, to, run.TransitionOptions{})
	if err != nil || !ok {
		t.Fatalf("transition %s -> %s failed: %v %v", from, to, ok, err)
	}
}
