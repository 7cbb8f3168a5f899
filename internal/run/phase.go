package run

import "strings"

// Phase is the authoritative position of a run in the pipeline.
type Phase string

const (
	PhaseInit         Phase = "init"
	PhaseScripting    Phase = "scripting"
	PhaseIllustrating Phase = "illustrating"
	PhaseNarrating    Phase = "narrating"
	PhaseRendering    Phase = "rendering"
	PhaseReady        Phase = "ready"
	PhaseFailed       Phase = "failed"
	PhaseCanceled     Phase = "canceled"
)

var allPhases = []Phase{
	PhaseInit,
	PhaseScripting,
	PhaseIllustrating,
	PhaseNarrating,
	PhaseRendering,
	PhaseReady,
	PhaseFailed,
	PhaseCanceled,
}

var phaseSet = func() map[Phase]struct{} {
	set := make(map[Phase]struct{}, len(allPhases))
	for _, phase := range allPhases {
		set[phase] = struct{}{}
	}
	return set
}()

// transitions is the static table of legal phase edges. Retry re-entry edges
// from failed live in rollbackTargets, not here; Advance never walks them.
var transitions = map[Phase][]Phase{
	PhaseInit:         {PhaseScripting, PhaseCanceled},
	PhaseScripting:    {PhaseIllustrating, PhaseFailed, PhaseCanceled},
	PhaseIllustrating: {PhaseNarrating, PhaseFailed, PhaseCanceled},
	PhaseNarrating:    {PhaseRendering, PhaseFailed, PhaseCanceled},
	PhaseRendering:    {PhaseReady, PhaseFailed, PhaseCanceled},
	PhaseReady:        nil,
	PhaseFailed:       nil,
	PhaseCanceled:     nil,
}

// rollbackTargets maps the phase a run failed in to the phase an explicit
// retry re-enters. Render failures roll back to the image stage because the
// render job consumes the image set; everything else re-runs its own stage.
var rollbackTargets = map[Phase]Phase{
	PhaseScripting:    PhaseScripting,
	PhaseIllustrating: PhaseIllustrating,
	PhaseNarrating:    PhaseNarrating,
	PhaseRendering:    PhaseIllustrating,
}

// workingPhases are the phases with a collaborator doing work on their behalf.
var workingPhases = []Phase{PhaseScripting, PhaseIllustrating, PhaseNarrating, PhaseRendering}

var terminalPhases = map[Phase]struct{}{
	PhaseReady:    {},
	PhaseFailed:   {},
	PhaseCanceled: {},
}

// AllPhases returns the ordered list of known phases.
func AllPhases() []Phase {
	cp := make([]Phase, len(allPhases))
	copy(cp, allPhases)
	return cp
}

// WorkingPhases returns the phases driven by a collaborator adapter.
func WorkingPhases() []Phase {
	cp := make([]Phase, len(workingPhases))
	copy(cp, workingPhases)
	return cp
}

// TerminalPhases returns the terminal phase set in declaration order.
func TerminalPhases() []Phase {
	return []Phase{PhaseReady, PhaseFailed, PhaseCanceled}
}

// ParsePhase converts a string into a known Phase.
func ParsePhase(value string) (Phase, bool) {
	normalized := Phase(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := phaseSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a phase permits no further transitions.
func (p Phase) IsTerminal() bool {
	_, ok := terminalPhases[p]
	return ok
}

// IsWorking reports whether a collaborator adapter backs this phase.
func (p Phase) IsWorking() bool {
	for _, phase := range workingPhases {
		if p == phase {
			return true
		}
	}
	return false
}

// CanTransition reports whether the from→to edge exists in the table.
func CanTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextPhase returns the forward-progress successor of a working phase. The
// second return is false for terminal phases and init's successor is the first
// working phase.
func NextPhase(current Phase) (Phase, bool) {
	switch current {
	case PhaseInit:
		return PhaseScripting, true
	case PhaseScripting:
		return PhaseIllustrating, true
	case PhaseIllustrating:
		return PhaseNarrating, true
	case PhaseNarrating:
		return PhaseRendering, true
	case PhaseRendering:
		return PhaseReady, true
	default:
		return "", false
	}
}

// RollbackTarget returns the phase an explicit retry re-enters for a run that
// failed in errorPhase.
func RollbackTarget(errorPhase Phase) (Phase, bool) {
	target, ok := rollbackTargets[errorPhase]
	return target, ok
}
