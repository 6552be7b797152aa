package unitrt

import "sync/atomic"

// OrchestratorState is a stage of the process lifecycle.
type OrchestratorState int32

// Lifecycle stages, in the only order they are entered.
const (
	StateIdle OrchestratorState = iota
	StateDeploying
	StateRunning
	StateStopRequested
	StateStopping
	StateStopped
)

func (s OrchestratorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDeploying:
		return "deploying"
	case StateRunning:
		return "running"
	case StateStopRequested:
		return "stop-requested"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type stateMachine struct {
	v atomic.Int32
}

func (m *stateMachine) load() OrchestratorState {
	return OrchestratorState(m.v.Load())
}

// transition moves from one state to the next and reports whether the
// machine was in from.
func (m *stateMachine) transition(from, to OrchestratorState) bool {
	return m.v.CompareAndSwap(int32(from), int32(to))
}

// advance moves to to unless the machine is already there or past it. It
// returns the previous state.
func (m *stateMachine) advance(to OrchestratorState) OrchestratorState {
	for {
		cur := m.v.Load()
		if OrchestratorState(cur) >= to {
			return OrchestratorState(cur)
		}
		if m.v.CompareAndSwap(cur, int32(to)) {
			return OrchestratorState(cur)
		}
	}
}
