package transport

import "fmt"

// State is the lifecycle state of a Conn.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateSending
	StateReceiving
	StateComplete
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSending:
		return "sending"
	case StateReceiving:
		return "receiving"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// InFlight reports whether a transaction is between Enqueue and its terminal state.
func (s State) InFlight() bool {
	return s >= StateConnecting && s <= StateReceiving
}
