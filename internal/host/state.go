// SPDX-License-Identifier: MPL-2.0

package host

const (
	// StateCreated indicates the host was created but Start() not called.
	StateCreated State = iota
	// StateStarting indicates Start() is initializing the host.
	StateStarting
	// StateRunning indicates the host is running its subsystems.
	StateRunning
	// StateStopping indicates a stop was requested and tracked work is draining.
	StateStopping
	// StateStopped is terminal: the host has stopped.
	StateStopped
	// StateFailed is terminal: the host failed to start or hit a fatal error.
	StateFailed
)

// State represents the lifecycle state of a host.
type State int32

// String returns a human-readable representation of the host state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if the state is a terminal state (Stopped or Failed).
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}
