package collab

// Outcome classifies a Completion tuple into the engine's decision space.
type Outcome int

const (
	// OutcomeRunning means the job has not finished; no decision yet.
	OutcomeRunning Outcome = iota
	// OutcomeSucceeded means every unit completed.
	OutcomeSucceeded
	// OutcomePartialFailure means some units succeeded and some failed;
	// only the failed units are eligible for resubmission.
	OutcomePartialFailure
	// OutcomeFullFailure means no unit succeeded; partial retry is pointless.
	OutcomeFullFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRunning:
		return "running"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomePartialFailure:
		return "partial-failure"
	case OutcomeFullFailure:
		return "full-failure"
	default:
		return "unknown"
	}
}

// Classify derives the outcome from a completion tuple. The rules are
// uniform across all phases so the engine never special-cases a backend:
// a done job with all units succeeded is a success, zero successes with
// failures is a full failure, and a mixed result is a partial failure.
// A done job reporting zero failures but fewer successes than units is
// malformed adapter output and is treated as still running so the engine
// re-polls rather than guessing.
func Classify(c Completion) Outcome {
	if !c.Done {
		return OutcomeRunning
	}
	switch {
	case c.TotalUnits > 0 && c.SuccessCount == c.TotalUnits:
		return OutcomeSucceeded
	case c.SuccessCount == 0 && c.FailedCount > 0:
		return OutcomeFullFailure
	case c.SuccessCount > 0 && c.SuccessCount < c.TotalUnits && c.FailedCount > 0:
		return OutcomePartialFailure
	default:
		return OutcomeRunning
	}
}
