package recording

import (
	"errors"
	"fmt"
)

// State is the lifecycle phase of a recording session.
type State int

const (
	StateIdle State = iota
	StateActive
	StateFinalizing
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateFinalizing:
		return "finalizing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ErrInvalidTransition reports a lifecycle operation in the wrong state.
var ErrInvalidTransition = errors.New("invalid recording state transition")

var allowedTransitions = map[State][]State{
	StateIdle:       {StateActive, StateFailed},
	StateActive:     {StateFinalizing, StateFailed},
	StateFinalizing: {StateCompleted, StateFailed},
}

func canTransition(from, to State) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func transitionError(from, to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
