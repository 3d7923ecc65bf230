// SPDX-License-Identifier: MPL-2.0

package dispatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultTimeout bounds the wait for a command handler.
const DefaultTimeout = 30 * time.Second

type (
	// Config holds the collaborators of a Coordinator.
	Config struct {
		// Registry is searched for the command handler. Required.
		Registry Registry
		// Process is stopped unless the handler asks to keep running. Required.
		Process ProcessController
		// Timeout bounds the wait for a handler. Zero or negative values fall
		// back to DefaultTimeout.
		Timeout time.Duration
		// Stdin, Stdout and Stderr are handed to the handler. nil values
		// default to the process standard streams.
		Stdin  io.Reader
		Stdout io.Writer
		Stderr io.Writer
		// Logger receives dispatch messages. nil uses the default logger.
		Logger *log.Logger
		// Spawn runs the coordinator goroutine. The host passes its tracked
		// goroutine starter here so process exit waits for the dispatch. nil
		// starts a plain goroutine.
		Spawn func(name string, fn func(ctx context.Context)) error
	}

	// Outcome is the result of a finished dispatch.
	Outcome struct {
		// Result is StateCompleted, StateTimedOut or StateCancelled.
		Result State
		// KeepRunning is the handler verdict; false after any failure.
		KeepRunning bool
		// Err wraps ErrDispatchFailed when the handler failed, or holds the
		// context error when the wait was cancelled.
		Err error
		// StopRequested reports whether the host was asked to stop.
		StopRequested bool
		// StopErr is the error returned by the stop request, if any.
		StopErr error
	}

	// Coordinator performs a single command dispatch.
	Coordinator struct {
		line    CommandLine
		cfg     Config
		logger  *log.Logger
		state   atomic.Int32
		started atomic.Bool
		done    chan struct{}

		mu      sync.Mutex
		outcome Outcome
	}
)

// New creates a Coordinator for line.
func New(line CommandLine, cfg Config) (*Coordinator, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("dispatch: registry is required")
	}
	if cfg.Process == nil {
		return nil, fmt.Errorf("dispatch: process controller is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Stdin == nil {
		cfg.Stdin = os.Stdin
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	c := &Coordinator{
		line:   line,
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
	c.state.Store(int32(StateIdle))
	return c, nil
}

// Launch starts a Coordinator for line. When line is nil no command was
// requested: no coordinator is created and (nil, nil) is returned.
func Launch(ctx context.Context, line *CommandLine, cfg Config) (*Coordinator, error) {
	if line == nil {
		return nil, nil
	}
	c, err := New(*line, cfg)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Start runs the dispatch in the background. Cancelling ctx (or the context
// the Spawn hook provides) interrupts the wait for a handler.
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if c.cfg.Spawn == nil {
		go c.execute(ctx)
		return nil
	}

	err := c.cfg.Spawn("command-dispatch", func(spawnCtx context.Context) {
		runCtx, cancel := context.WithCancel(spawnCtx)
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
		c.execute(runCtx)
	})
	if err != nil {
		c.started.Store(false)
		return fmt.Errorf("dispatch: start coordinator: %w", err)
	}
	return nil
}

// Run performs the dispatch synchronously and returns its outcome.
func (c *Coordinator) Run(ctx context.Context) (Outcome, error) {
	if !c.started.CompareAndSwap(false, true) {
		return Outcome{}, ErrAlreadyStarted
	}
	c.execute(ctx)
	return c.Outcome(), nil
}

// Done is closed once the dispatch has reached a terminal state.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// State returns the current coordinator state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Outcome returns the dispatch result. It is only meaningful after Done is
// closed.
func (c *Coordinator) Outcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

func (c *Coordinator) execute(ctx context.Context) {
	defer close(c.done)

	c.state.Store(int32(StateAwaiting))
	c.logger.Info("Waiting for command", "command", c.line.Name, "timeout", c.cfg.Timeout)

	handler, ok, err := c.cfg.Registry.AwaitOne(ctx, c.line.Name, c.cfg.Timeout)
	if err != nil {
		// Shutdown is already under way; stopping again would race it.
		c.logger.Debug("Command dispatch interrupted", "command", c.line.Name, "err", err)
		c.state.Store(int32(StateCancelled))
		c.setOutcome(Outcome{Result: StateCancelled, Err: err})
		return
	}

	var out Outcome
	if !ok {
		c.logger.Error("Command not found", "command", c.line.Name)
		c.state.Store(int32(StateTimedOut))
		out.Result = StateTimedOut
	} else {
		c.state.Store(int32(StateDispatching))
		ec := &ExecutionContext{
			Args:    slices.Clone(c.line.Args),
			WorkDir: c.line.WorkDir,
			Stdin:   c.cfg.Stdin,
			Stdout:  c.cfg.Stdout,
			Stderr:  c.cfg.Stderr,
		}

		c.logger.Info("Executing command-line", "cmdline", "$ "+c.line.String())
		keep, execErr := invoke(ctx, handler, ec)
		if execErr != nil {
			c.logger.Error("Command execution failed", "command", c.line.Name, "err", execErr)
			out.Err = fmt.Errorf("%w: %s: %w", ErrDispatchFailed, c.line.Name, execErr)
			keep = false
		}
		c.state.Store(int32(StateCompleted))
		out.Result = StateCompleted
		out.KeepRunning = keep
	}

	if !out.KeepRunning {
		c.state.Store(int32(StateStopping))
		out.StopRequested = true
		if stopErr := c.cfg.Process.Stop(); stopErr != nil {
			c.logger.Error("Failed to stop host", "err", stopErr)
			out.StopErr = stopErr
		}
	}
	c.setOutcome(out)
}

func (c *Coordinator) setOutcome(out Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcome = out
}

// invoke executes h, converting a panic into a PanicError.
func invoke(ctx context.Context, h Handler, ec *ExecutionContext) (keep bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			keep = false
			err = &PanicError{Value: r}
		}
	}()
	return h.Execute(ctx, ec)
}
