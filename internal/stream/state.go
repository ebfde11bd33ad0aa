package stream

import "fmt"

// State is the lifecycle stage of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateLoggingIn
	StateActive
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateLoggingIn:
		return "logging_in"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// transitions lists the allowed next states. Closed is reachable from
// everywhere and left from nowhere.
var transitions = map[State][]State{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateLoggingIn, StateReconnecting},
	StateLoggingIn:    {StateActive, StateReconnecting},
	StateActive:       {StateReconnecting},
	StateReconnecting: {StateConnecting},
}

func canTransition(from, to State) bool {
	if from == StateClosed {
		return false
	}
	if to == StateClosed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
