package collab

import (
	"fmt"

	"storyloom/internal/run"
)

// Registry maps each working phase to the adapter driving it. The engine
// resolves adapters through the registry only; a phase without an adapter
// is a wiring bug surfaced at lookup time.
type Registry struct {
	adapters map[run.Phase]Adapter
}

// NewRegistry builds a registry from a complete phase to adapter mapping.
func NewRegistry(adapters map[run.Phase]Adapter) (*Registry, error) {
	for _, phase := range run.WorkingPhases() {
		if adapters[phase] == nil {
			return nil, fmt.Errorf("no adapter registered for phase %s", phase)
		}
	}
	return &Registry{adapters: adapters}, nil
}

// Adapter returns the adapter for a working phase.
func (r *Registry) Adapter(phase run.Phase) (Adapter, error) {
	adapter, ok := r.adapters[phase]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for phase %s", phase)
	}
	return adapter, nil
}
