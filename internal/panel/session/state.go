package session

import "fmt"

// State represents the lifecycle state of a subscriber session
type State int

const (
	// StateConnecting is the initial state before credentials are checked
	StateConnecting State = iota
	// StateAuthenticated is after the token resolved to an operator
	StateAuthenticated
	// StateStreaming is after the initial full state has been delivered
	StateStreaming
	// StateClosed is the final state after the session ends
	StateClosed
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateAuthenticated:
		return "Authenticated"
	case StateStreaming:
		return "Streaming"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// validTransitions defines which state transitions are allowed
var validTransitions = map[State][]State{
	StateConnecting:    {StateAuthenticated, StateClosed},
	StateAuthenticated: {StateStreaming, StateClosed},
	StateStreaming:     {StateClosed},
	StateClosed:        {}, // Terminal state, no transitions allowed
}

// CanTransitionTo checks if a transition from current state to next state is valid
func (s State) CanTransitionTo(next State) bool {
	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}
	for _, state := range allowed {
		if state == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state
func (s State) IsTerminal() bool {
	return s == StateClosed
}

// CloseReason explains why a session was closed
type CloseReason int

const (
	// ReasonClientGone means the subscriber disconnected
	ReasonClientGone CloseReason = iota
	// ReasonOverflow means the subscriber could not keep up with updates
	ReasonOverflow
	// ReasonShutdown means the server is stopping
	ReasonShutdown
	// ReasonError means a transport error occurred
	ReasonError
)

// String returns the string representation of the close reason
func (r CloseReason) String() string {
	switch r {
	case ReasonClientGone:
		return "ClientGone"
	case ReasonOverflow:
		return "Overflow"
	case ReasonShutdown:
		return "Shutdown"
	case ReasonError:
		return "Error"
	default:
		return fmt.Sprintf("Unknown(%d)", r)
	}
}
