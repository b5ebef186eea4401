package udfc

import (
	"sync"
	"sync/atomic"
)

// State is the lifecycle state of a Client
type State int32

const (
	// StateInitial - client constructed, Start not called
	StateInitial State = iota
	// StateStarting - reactor launched, waiting for the first worker
	StateStarting
	// StateReady - requests are accepted
	StateReady
	// StateRestarting - worker died; in-flight work failed over, respawn pending
	StateRestarting
	// StateStopping - shutdown requested, draining
	StateStopping
	// StateFinal - reactor joined, terminal
	StateFinal
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateStarting:
		return "Starting"
	case StateReady:
		return "Ready"
	case StateRestarting:
		return "Restarting"
	case StateStopping:
		return "Stopping"
	case StateFinal:
		return "Final"
	default:
		return "Unknown"
	}
}

// StateObserver is notified after every state transition. Observers run with
// the transition lock held and must not call back into the client.
type StateObserver func(from, to State)

// validTransitions lists the allowed edges of the lifecycle
var validTransitions = map[State][]State{
	StateInitial:    {StateStarting, StateFinal},
	StateStarting:   {StateReady, StateFinal},
	StateReady:      {StateRestarting, StateStopping},
	StateRestarting: {StateReady, StateStopping},
	StateStopping:   {StateFinal},
}

// stateMachine holds the client state. Reads are lock free; transitions are
// serialized so observers see them in order.
type stateMachine struct {
	mu        sync.Mutex
	current   atomic.Int32
	observers []StateObserver
}

func newStateMachine(observers ...StateObserver) *stateMachine {
	sm := &stateMachine{observers: observers}
	sm.current.Store(int32(StateInitial))
	return sm
}

// Load returns the current state
func (sm *stateMachine) Load() State {
	return State(sm.current.Load())
}

// Transition moves to next if the edge is valid from the current state
func (sm *stateMachine) Transition(next State) error {
	sm.mu.Lock()
	from := State(sm.current.Load())
	if !canTransition(from, next) {
		sm.mu.Unlock()
		return errInvalidState(from, next)
	}
	sm.current.Store(int32(next))
	sm.notify(from, next)
	sm.mu.Unlock()
	return nil
}

// TransitionFrom moves to next only when the current state is one of from.
// It reports whether the transition happened.
func (sm *stateMachine) TransitionFrom(next State, from ...State) bool {
	sm.mu.Lock()
	cur := State(sm.current.Load())
	matched := false
	for _, f := range from {
		if cur == f {
			matched = true
			break
		}
	}
	if !matched || !canTransition(cur, next) {
		sm.mu.Unlock()
		return false
	}
	sm.current.Store(int32(next))
	sm.notify(cur, next)
	sm.mu.Unlock()
	return true
}

// notify runs observers with mu held so they see transitions in order
func (sm *stateMachine) notify(from, to State) {
	for _, obs := range sm.observers {
		obs(from, to)
	}
}

func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
