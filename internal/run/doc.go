// Package run persists pipeline runs and owns their lifecycle semantics.
//
// The Store manages database connections, schema initialization, the
// uniqueness constraint that allows at most one active run per owner, and the
// guarded writes (phase compare-and-swap, lease acquisition, retry counter
// bumps) that make concurrent advance calls safe. The phase transition table
// and the rollback map live here as the single source of truth; callers never
// write the phase column except through TransitionPhase.
//
// Runs are never deleted by normal operation. Terminal runs remain as audit
// history and drop out of the uniqueness constraint; PruneTerminal exists for
// explicit housekeeping only.
package run
