package session

import (
	"errors"
	"fmt"
)

// State is a session lifecycle state.
type State string

// Session states.
const (
	StateCreated  State = "created"
	StateActive   State = "active"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// ErrInvalidTransition is wrapped by every *StateError.
var ErrInvalidTransition = errors.New("invalid session state transition")

// StateError reports a transition the current state does not allow.
type StateError struct {
	SessionID string
	From      State
	To        State
}

// Error implements the error interface.
func (e *StateError) Error() string {
	return fmt.Sprintf("session %s: cannot go from %s to %s", e.SessionID, e.From, e.To)
}

// Unwrap returns ErrInvalidTransition.
func (e *StateError) Unwrap() error {
	return ErrInvalidTransition
}

var transitions = map[State][]State{
	StateCreated:  {StateActive, StateFailed},
	StateActive:   {StatePaused, StateStopping, StateFailed},
	StatePaused:   {StateActive, StateStopping, StateFailed},
	StateStopping: {StateStopped},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
