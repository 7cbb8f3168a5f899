// Package engine is the pipeline orchestrator. It owns the run lifecycle:
// starting runs, driving them forward through the advance loop, rolling
// failed runs back for retry, canceling, and aggregating live status.
//
// The engine keeps no in-process state. All coordination happens through
// the persisted run store's guarded writes and kickoff leases, so any
// number of engine instances (or repeated client polls) can call the same
// operations concurrently without double-driving a run.
package engine
