// SPDX-License-Identifier: MPL-2.0

// Package host owns the lifecycle of the stamina host process.
//
// A Host moves through Created, Starting, Running, Stopping, and Stopped (or
// Failed). Subsystems run inside it as tracked goroutines: Wait does not
// return until every tracked goroutine has finished, so work such as a command
// dispatch decides the process fate before the process exits. Stop only
// requests shutdown and may be called from inside a tracked goroutine.
package host
