// Package collab defines the contract between the orchestration engine and
// the per-phase stage backends. Each working phase is driven by an Adapter
// that kicks off its backing job and answers a uniform completion question;
// the engine never inspects backend-specific job state directly.
package collab
