// SPDX-License-Identifier: MPL-2.0

package dispatch

const (
	// StateIdle indicates the coordinator has not started.
	StateIdle State = iota
	// StateAwaiting indicates the coordinator is waiting for a handler.
	StateAwaiting
	// StateDispatching indicates the handler is executing.
	StateDispatching
	// StateCompleted indicates the handler returned (successfully or not).
	StateCompleted
	// StateTimedOut indicates no handler appeared before the timeout.
	StateTimedOut
	// StateStopping is terminal: a host stop was requested.
	StateStopping
	// StateCancelled is terminal: the wait was interrupted by shutdown.
	StateCancelled
)

// State is a coordinator lifecycle state.
type State int32

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaiting:
		return "awaiting"
	case StateDispatching:
		return "dispatching"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed-out"
	case StateStopping:
		return "stopping"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}
