package protocol

import "fmt"

// State is the lifecycle state of a Client.
type State int

const (
	StateIdle State = iota
	StateProcessing
	StateComplete
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
