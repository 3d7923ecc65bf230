// SPDX-License-Identifier: MPL-2.0

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"
)

var (
	// ErrDispatchFailed is wrapped by every handler execution failure.
	ErrDispatchFailed = errors.New("command execution failed")
	// ErrAlreadyStarted is returned when a Coordinator is started twice.
	ErrAlreadyStarted = errors.New("coordinator already started")
)

type (
	// CommandLine is the command requested at process launch.
	CommandLine struct {
		// Name selects the handler.
		Name string
		// Args are passed to the handler in order.
		Args []string
		// WorkDir is the working directory the command was launched from.
		WorkDir string
	}

	// ExecutionContext is handed to a handler for a single execution.
	ExecutionContext struct {
		Args    []string
		WorkDir string
		Stdin   io.Reader
		Stdout  io.Writer
		Stderr  io.Writer
	}

	// Handler executes one command invocation. keepRunning reports whether the
	// host process should stay alive after the command completes.
	Handler interface {
		Execute(ctx context.Context, ec *ExecutionContext) (keepRunning bool, err error)
	}

	// HandlerFunc adapts a function to the Handler interface.
	HandlerFunc func(ctx context.Context, ec *ExecutionContext) (bool, error)

	// Registry locates command handlers.
	Registry interface {
		// AwaitOne blocks until a handler is registered under name, the timeout
		// elapses, or ctx is cancelled. A timeout yields ok == false and a nil
		// error; cancellation yields the context error.
		AwaitOne(ctx context.Context, name string, timeout time.Duration) (h Handler, ok bool, err error)
	}

	// ProcessController stops the host process.
	ProcessController interface {
		Stop() error
	}

	// PanicError reports a handler that panicked.
	PanicError struct {
		Value any
	}
)

// NewCommandLine builds a CommandLine from launch arguments: the first
// argument names the command and the rest are its arguments. It returns nil
// when args is empty, meaning no command was requested.
func NewCommandLine(args []string, workDir string) *CommandLine {
	if len(args) == 0 {
		return nil
	}
	return &CommandLine{
		Name:    args[0],
		Args:    slices.Clone(args[1:]),
		WorkDir: workDir,
	}
}

// String renders the command line the way it was typed.
func (c CommandLine) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, ec *ExecutionContext) (bool, error) {
	return f(ctx, ec)
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}
