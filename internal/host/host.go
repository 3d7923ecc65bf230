// SPDX-License-Identifier: MPL-2.0

package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

var (
	// ErrStop is wrapped by every failed stop request.
	ErrStop = errors.New("failed to stop host")
	// ErrNotRunning is returned when an operation needs a running host.
	ErrNotRunning = errors.New("host is not running")
)

type (
	// Option configures a Host.
	Option func(*Host)

	// Host tracks the process lifecycle and its non-daemon goroutines.
	// A Host is single-use: once stopped or failed, create a new instance.
	Host struct {
		// State management (atomic for lock-free reads)
		state atomic.Int32

		// State transition protection
		stateMu sync.Mutex
		lastErr error

		// ctx and cancel are set under stateMu before the state leaves
		// StateStarting.
		ctx      context.Context
		cancel   context.CancelFunc
		wg       sync.WaitGroup
		doneCh   chan struct{}
		doneOnce sync.Once

		logger *log.Logger
	}
)

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(logger *log.Logger) Option {
	return func(h *Host) {
		h.logger = logger
	}
}

// New creates a Host in the Created state.
func New(opts ...Option) *Host {
	h := &Host{
		doneCh: make(chan struct{}),
		logger: log.New(io.Discard),
	}
	h.state.Store(int32(StateCreated))
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// State returns the current host state (atomic, lock-free read).
func (h *Host) State() State {
	return State(h.state.Load())
}

// IsRunning returns true if the host is in the Running state.
func (h *Host) IsRunning() bool {
	return h.State() == StateRunning
}

// Start moves the host to Running. Cancelling ctx afterwards requests a stop,
// which is how process signals reach the host.
func (h *Host) Start(ctx context.Context) error {
	// Check for an already-cancelled context before any setup.
	select {
	case <-ctx.Done():
		h.fail(fmt.Errorf("context cancelled before start: %w", ctx.Err()))
		return h.LastError()
	default:
	}

	h.stateMu.Lock()
	if !h.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		h.stateMu.Unlock()
		return fmt.Errorf("cannot start host in state %s", h.State())
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.state.Store(int32(StateRunning))
	h.stateMu.Unlock()
	h.logger.Debug("Host started")

	go func() {
		select {
		case <-ctx.Done():
			if err := h.Stop(); err == nil {
				h.logger.Info("Shutdown requested", "reason", context.Cause(ctx))
			}
		case <-h.ctx.Done():
		}
	}()
	return nil
}

// Context returns a context cancelled when the host begins stopping.
// It is nil before Start.
func (h *Host) Context() context.Context {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.ctx
}

// Go runs fn in a tracked goroutine. Wait blocks until fn returns. fn receives
// the host context and should return promptly once it is cancelled.
func (h *Host) Go(name string, fn func(ctx context.Context)) error {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	if !h.IsRunning() {
		return fmt.Errorf("start %s: %w", name, ErrNotRunning)
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn(h.ctx)
		h.logger.Debug("Host task finished", "task", name)
	}()
	return nil
}

// Stop requests the host to stop. It returns an error wrapping ErrStop when
// the host is not running, including when it is already stopping.
func (h *Host) Stop() error {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	for {
		current := h.State()
		switch current {
		case StateStarting, StateRunning:
			if !h.state.CompareAndSwap(int32(current), int32(StateStopping)) {
				continue // State changed, retry
			}
			if h.cancel != nil {
				h.cancel()
			}
			h.logger.Debug("Host stopping")
			return nil
		default:
			return fmt.Errorf("%w: %w (state %s)", ErrStop, ErrNotRunning, current)
		}
	}
}

// Wait blocks until the host has been asked to stop and every tracked
// goroutine has returned, then marks the host Stopped. It returns the error
// that failed the host, if any.
func (h *Host) Wait() error {
	ctx := h.Context()
	if ctx == nil {
		return fmt.Errorf("wait: %w", ErrNotRunning)
	}
	<-ctx.Done()
	h.wg.Wait()

	h.stateMu.Lock()
	if !h.State().IsTerminal() {
		h.state.Store(int32(StateStopped))
	}
	h.stateMu.Unlock()

	h.doneOnce.Do(func() {
		close(h.doneCh)
		h.logger.Debug("Host stopped")
	})
	return h.LastError()
}

// Done returns a channel closed once Wait has observed the host stopped.
func (h *Host) Done() <-chan struct{} {
	return h.doneCh
}

// Fail marks the host failed with err and cancels all tracked work.
func (h *Host) Fail(err error) {
	h.fail(err)
}

// LastError returns the error that caused the Failed state, or nil.
func (h *Host) LastError() error {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.lastErr
}

func (h *Host) fail(err error) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	h.lastErr = err
	h.state.Store(int32(StateFailed))
	if h.cancel != nil {
		h.cancel()
	}
	h.logger.Error("Host failed", "err", err)
}
