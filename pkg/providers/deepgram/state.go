package deepgram

import (
	"sync"
	"time"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateStreaming:
		return "STREAMING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
	ConnID    string
}

// StateListener observes connection state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// StateListenerFunc adapts a function to StateListener.
type StateListenerFunc func(StateChange)

func (f StateListenerFunc) OnStateChange(event StateChange) { f(event) }

// InvalidTransitionError represents an invalid state transition attempt
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}

var validTransitions = map[State][]State{
	StateDisconnected: {StateConnecting, StateClosed},
	StateConnecting:   {StateStreaming, StateDisconnected, StateClosed},
	StateStreaming:    {StateClosed, StateDisconnected},
	StateClosed:       {StateConnecting},
}

type stateMachine struct {
	mu        sync.RWMutex
	current   State
	listeners []StateListener
}

func (sm *stateMachine) State() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

func (sm *stateMachine) AddListener(l StateListener) {
	if l == nil {
		return
	}
	sm.mu.Lock()
	sm.listeners = append(sm.listeners, l)
	sm.mu.Unlock()
}

// transition validates and applies a state change. Listeners run outside the lock.
func (sm *stateMachine) transition(to State, reason, connID string) error {
	sm.mu.Lock()
	from := sm.current
	if from == to {
		sm.mu.Unlock()
		return nil
	}
	if !transitionValid(from, to) {
		sm.mu.Unlock()
		return &InvalidTransitionError{From: from, To: to}
	}
	sm.current = to
	listeners := make([]StateListener, len(sm.listeners))
	copy(listeners, sm.listeners)
	sm.mu.Unlock()

	ev := StateChange{FromState: from, ToState: to, Timestamp: time.Now(), Reason: reason, ConnID: connID}
	for _, l := range listeners {
		l.OnStateChange(ev)
	}
	return nil
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
