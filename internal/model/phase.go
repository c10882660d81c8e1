package model

// Phase is the lifecycle state of a worker.
type Phase string

const (
	PhaseCreated  Phase = "created"
	PhaseStarting Phase = "starting"
	PhaseRunning  Phase = "running"
	PhaseStopping Phase = "stopping"
	PhaseStopped  Phase = "stopped"
	PhaseRemoving Phase = "removing"
	PhaseRemoved  Phase = "removed"
	PhaseUnknown  Phase = "unknown"
)

// AllPhases lists every phase in lifecycle order.
var AllPhases = []Phase{
	PhaseCreated,
	PhaseStarting,
	PhaseRunning,
	PhaseStopping,
	PhaseStopped,
	PhaseRemoving,
	PhaseRemoved,
	PhaseUnknown,
}

// transitions is the full edge set of the lifecycle state machine, including
// the rollback edges a failed operation uses to restore its starting phase.
// unknown -> removed is taken only when reconciliation confirms a container
// stayed absent.
var transitions = map[Phase][]Phase{
	PhaseCreated:  {PhaseStarting, PhaseRemoving, PhaseUnknown},
	PhaseStarting: {PhaseRunning, PhaseCreated, PhaseStopped, PhaseUnknown},
	PhaseRunning:  {PhaseStopping, PhaseStarting, PhaseStopped, PhaseRemoving, PhaseUnknown},
	PhaseStopping: {PhaseStopped, PhaseRunning, PhaseUnknown},
	PhaseStopped:  {PhaseStarting, PhaseRunning, PhaseRemoving, PhaseUnknown},
	PhaseRemoving: {PhaseRemoved, PhaseCreated, PhaseRunning, PhaseStopped, PhaseUnknown},
	PhaseUnknown:  {PhaseCreated, PhaseStarting, PhaseRunning, PhaseStopping, PhaseStopped, PhaseRemoving, PhaseRemoved},
	PhaseRemoved:  nil,
}

// Valid reports whether p is one of the defined phases.
func (p Phase) Valid() bool {
	_, ok := transitions[p]
	return ok
}

// Transitional reports whether p is only ever held while an operation is in flight.
func (p Phase) Transitional() bool {
	return p == PhaseStarting || p == PhaseStopping || p == PhaseRemoving
}

// CanTransition reports whether the state machine has an edge from -> to.
// A self-edge is never a transition.
func CanTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidPath reports whether every consecutive pair in phases is a legal edge.
func ValidPath(phases []Phase) bool {
	for i := 1; i < len(phases); i++ {
		if phases[i] == phases[i-1] {
			continue
		}
		if !CanTransition(phases[i-1], phases[i]) {
			return false
		}
	}
	return true
}
