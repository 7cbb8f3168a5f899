// Package stagejob holds the wire contract shared by the stage backends.
// Every backend reports batch jobs through the same status shape, which is
// what lets the collaborator adapters reduce them uniformly.
package stagejob

import (
	"strings"
	"time"

	"storyloom/internal/collab"
)

// Job states reported by the stage backends.
const (
	StateQueued    = "queued"
	StateRunning   = "running"
	StateCompleted = "completed"
)

// Status is the batch-status payload common to all stage backends.
type Status struct {
	JobID        string    `json:"jobId"`
	State        string    `json:"state"`
	SuccessCount int       `json:"successCount"`
	FailedCount  int       `json:"failedCount"`
	TotalUnits   int       `json:"totalUnits"`
	Detail       string    `json:"detail,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Completion reduces a backend status to the oracle tuple. A job still
// queued or running past staleAfter is treated as finished with its
// remaining units failed, so a wedged backend cannot stall a run forever.
func Completion(s Status, now time.Time, staleAfter time.Duration) collab.Completion {
	state := strings.ToLower(strings.TrimSpace(s.State))
	if state == StateCompleted {
		return collab.Completion{
			Done:         true,
			SuccessCount: s.SuccessCount,
			FailedCount:  s.FailedCount,
			TotalUnits:   s.TotalUnits,
		}
	}
	if staleAfter > 0 && !s.UpdatedAt.IsZero() && now.Sub(s.UpdatedAt) > staleAfter {
		total := s.TotalUnits
		failed := total - s.SuccessCount
		if total == 0 {
			// A job wedged before it enumerated any units reports zero
			// totals; count the whole job as one failed unit so the stale
			// timeout still classifies as a failure.
			total, failed = 1, 1
		}
		return collab.Completion{
			Done:         true,
			SuccessCount: s.SuccessCount,
			FailedCount:  failed,
			TotalUnits:   total,
		}
	}
	return collab.Completion{
		Done:         false,
		SuccessCount: s.SuccessCount,
		FailedCount:  s.FailedCount,
		TotalUnits:   s.TotalUnits,
	}
}
