package rtmp

import "github.com/pkg/errors"

// State is the lifecycle stage of a connection.
type State uint8

const (
	// StateConnect is the initial state, nothing has been exchanged yet.
	StateConnect State = iota
	// StateHandshake is entered once the first handshake packet has been sent or received.
	StateHandshake
	// StateConnected allows chunk traffic.
	StateConnected
	// StateError is entered on a protocol error. Only closing the connection is possible from here.
	StateError
	StateDisconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnect:
		return "CONNECT"
	case StateHandshake:
		return "HANDSHAKE"
	case StateConnected:
		return "CONNECTED"
	case StateError:
		return "ERROR"
	case StateDisconnecting:
		return "DISCONNECTING"
	case StateDisconnected:
		return "DISCONNECTED"
	}
	return "UNKNOWN"
}

// Any state may move to StateDisconnected when the transport is lost, it is not listed here.
var transitions = map[State][]State{
	StateConnect:       {StateHandshake, StateError},
	StateHandshake:     {StateConnected, StateError},
	StateConnected:     {StateError, StateDisconnecting},
	StateError:         {StateDisconnecting},
	StateDisconnecting: {},
}

// CanTransition reports whether a connection in state from may move to state to.
func (s State) CanTransition(to State) bool {
	if to == StateDisconnected {
		return s != StateDisconnected
	}
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// stateMachine tracks the state of one connection. It is not safe for concurrent use, MessageStream
// guards it with its own lock.
type stateMachine struct {
	state State
	// onTransition, when set, is called after every successful transition.
	onTransition func(from, to State)
}

func (m *stateMachine) current() State {
	return m.state
}

func (m *stateMachine) transition(to State) error {
	if !m.state.CanTransition(to) {
		return errors.Wrapf(ErrIllegalState, "transition from %s to %s", m.state, to)
	}
	from := m.state
	m.state = to
	if m.onTransition != nil {
		m.onTransition(from, to)
	}
	return nil
}
