package build

import (
	"slices"

	"github.com/loykin/polybuild/internal/metrics"
)

// State is the build state of one model.
type State int32

const (
	Unbuilt State = iota
	Compiling
	Linking
	Built
	Failed
)

func (s State) String() string {
	switch s {
	case Unbuilt:
		return "unbuilt"
	case Compiling:
		return "compiling"
	case Linking:
		return "linking"
	case Built:
		return "built"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

var transitions = map[State][]State{
	Unbuilt:   {Compiling},
	Compiling: {Linking, Built, Failed},
	Linking:   {Built, Failed},
	Built:     {Compiling, Unbuilt},
	Failed:    {Compiling, Unbuilt},
}

// CanTransition reports whether the state machine allows s -> to.
func (s State) CanTransition(to State) bool {
	return slices.Contains(transitions[s], to)
}

// State returns the current build state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(to State) error {
	o.mu.Lock()
	from := o.state
	if !from.CanTransition(to) {
		o.mu.Unlock()
		return &TransitionError{Model: o.req.Name, From: from, To: to}
	}
	o.state = to
	o.mu.Unlock()

	metrics.RecordStateTransition(o.req.Name, from.String(), to.String())
	metrics.SetCurrentState(o.req.Name, from.String(), false)
	metrics.SetCurrentState(o.req.Name, to.String(), true)
	o.log.Debug("state transition", "from", from.String(), "to", to.String())
	return nil
}
