// SPDX-License-Identifier: MPL-2.0

package dispatch

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/stamina/stamina/internal/host"
	"github.com/stamina/stamina/internal/testutil"
)

// fakeProcess counts stop requests.
type fakeProcess struct {
	stops atomic.Int32
	err   error
}

func (p *fakeProcess) Stop() error {
	p.stops.Add(1)
	return p.err
}

func waitDone(t *testing.T, c *Coordinator) Outcome {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("coordinator did not finish, state %s", c.State())
	}
	return c.Outcome()
}

func TestCoordinator_Timeout(t *testing.T) {
	t.Parallel()

	logger, logs := testutil.NewLogger()
	proc := &fakeProcess{}
	line := &CommandLine{Name: "missing", WorkDir: "/tmp"}

	c, err := Launch(context.Background(), line, Config{
		Registry: NewServiceRegistry(),
		Process:  proc,
		Timeout:  50 * time.Millisecond,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("Launch() error: %v", err)
	}

	out := waitDone(t, c)
	if out.Result != StateTimedOut {
		t.Errorf("Result = %s, want %s", out.Result, StateTimedOut)
	}
	if out.KeepRunning || !out.StopRequested {
		t.Errorf("outcome = %+v, want stop requested", out)
	}
	if got := proc.stops.Load(); got != 1 {
		t.Errorf("expected exactly 1 stop, got %d", got)
	}
	if c.State() != StateStopping {
		t.Errorf("State() = %s, want %s", c.State(), StateStopping)
	}
	if !logs.Contains("Command not found") || !logs.Contains("missing") {
		t.Errorf("expected command-not-found log, got:\n%s", logs.String())
	}
}

func TestCoordinator_KeepAlive(t *testing.T) {
	t.Parallel()

	registry := NewServiceRegistry()
	proc := &fakeProcess{}
	var (
		calls atomic.Int32
		seen  *ExecutionContext
	)
	var stdout bytes.Buffer
	line := &CommandLine{Name: "hello", Args: []string{"mr", "bond"}, WorkDir: "/tmp"}

	c, err := Launch(context.Background(), line, Config{
		Registry: registry,
		Process:  proc,
		Timeout:  5 * time.Second,
		Stdout:   &stdout,
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("Launch() error: %v", err)
	}

	// Register after the coordinator is already waiting.
	time.Sleep(20 * time.Millisecond)
	_, err = registry.Register("hello", HandlerFunc(func(_ context.Context, ec *ExecutionContext) (bool, error) {
		calls.Add(1)
		seen = ec
		_, _ = ec.Stdout.Write([]byte("Hello " + strings.Join(ec.Args, " ")))
		return true, nil
	}))
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	out := waitDone(t, c)
	if out.Result != StateCompleted || !out.KeepRunning || out.StopRequested {
		t.Errorf("outcome = %+v, want completed keep-running without stop", out)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("handler called %d times, want 1", got)
	}
	if proc.stops.Load() != 0 {
		t.Errorf("host stop requested %d times, want 0", proc.stops.Load())
	}
	if !slices.Equal(seen.Args, []string{"mr", "bond"}) {
		t.Errorf("Args = %v, want [mr bond]", seen.Args)
	}
	if seen.WorkDir != "/tmp" {
		t.Errorf("WorkDir = %q, want /tmp", seen.WorkDir)
	}
	if stdout.String() != "Hello mr bond" {
		t.Errorf("stdout = %q", stdout.String())
	}
	if c.State() != StateCompleted {
		t.Errorf("State() = %s, want %s", c.State(), StateCompleted)
	}
}

func TestCoordinator_HandlerReturnsFalse(t *testing.T) {
	t.Parallel()

	registry := NewServiceRegistry()
	proc := &fakeProcess{}
	if _, err := registry.Register("once", HandlerFunc(func(context.Context, *ExecutionContext) (bool, error) {
		return false, nil
	})); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	c, err := New(CommandLine{Name: "once"}, Config{Registry: registry, Process: proc, Logger: testLogger()})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	out, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out.Err != nil || !out.StopRequested || proc.stops.Load() != 1 {
		t.Errorf("outcome = %+v, stops = %d", out, proc.stops.Load())
	}
}

func TestCoordinator_DispatchFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tests := []struct {
		name    string
		handler HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "handler error",
			handler: func(context.Context, *ExecutionContext) (bool, error) {
				return true, boom
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, boom) {
					t.Errorf("Err = %v, want wrapping %v", err, boom)
				}
			},
		},
		{
			name: "handler panic",
			handler: func(context.Context, *ExecutionContext) (bool, error) {
				panic("kaboom")
			},
			check: func(t *testing.T, err error) {
				var pe *PanicError
				if !errors.As(err, &pe) || pe.Value != "kaboom" {
					t.Errorf("Err = %v, want PanicError(kaboom)", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			logger, logs := testutil.NewLogger()
			registry := NewServiceRegistry()
			proc := &fakeProcess{}
			if _, err := registry.Register("fail", tt.handler); err != nil {
				t.Fatalf("Register() error: %v", err)
			}

			c, err := Launch(context.Background(), &CommandLine{Name: "fail"}, Config{
				Registry: registry,
				Process:  proc,
				Logger:   logger,
			})
			if err != nil {
				t.Fatalf("Launch() error: %v", err)
			}

			out := waitDone(t, c)
			if !errors.Is(out.Err, ErrDispatchFailed) {
				t.Errorf("Err = %v, want ErrDispatchFailed", out.Err)
			}
			tt.check(t, out.Err)
			if out.KeepRunning {
				t.Error("a failed command must not keep the host running")
			}
			if got := proc.stops.Load(); got != 1 {
				t.Errorf("expected exactly 1 stop, got %d", got)
			}
			if !logs.Contains("Command execution failed") {
				t.Errorf("expected failure log, got:\n%s", logs.String())
			}
		})
	}
}

func TestCoordinator_NoCommand(t *testing.T) {
	t.Parallel()

	proc := &fakeProcess{}
	c, err := Launch(context.Background(), NewCommandLine(nil, "/tmp"), Config{
		Registry: NewServiceRegistry(),
		Process:  proc,
	})
	if err != nil {
		t.Fatalf("Launch() error: %v", err)
	}
	if c != nil {
		t.Fatal("no coordinator should be created without a command line")
	}
	if proc.stops.Load() != 0 {
		t.Errorf("unexpected stop requests: %d", proc.stops.Load())
	}
}

func TestCoordinator_Cancelled(t *testing.T) {
	t.Parallel()

	logger, logs := testutil.NewLogger()
	proc := &fakeProcess{}
	ctx, cancel := context.WithCancel(context.Background())

	c, err := Launch(ctx, &CommandLine{Name: "never"}, Config{
		Registry: NewServiceRegistry(),
		Process:  proc,
		Timeout:  time.Minute,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("Launch() error: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	cancel()

	out := waitDone(t, c)
	if out.Result != StateCancelled {
		t.Errorf("Result = %s, want %s", out.Result, StateCancelled)
	}
	if !errors.Is(out.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", out.Err)
	}
	if proc.stops.Load() != 0 {
		t.Errorf("cancelled dispatch must not stop the host, got %d stops", proc.stops.Load())
	}
	if !logs.Contains("Command dispatch interrupted") {
		t.Errorf("expected interrupt debug log, got:\n%s", logs.String())
	}
}

func TestCoordinator_StopFailureIsLogged(t *testing.T) {
	t.Parallel()

	logger, logs := testutil.NewLogger()
	stopErr := errors.New("already stopping")
	proc := &fakeProcess{err: stopErr}

	c, err := New(CommandLine{Name: "missing"}, Config{
		Registry: NewServiceRegistry(),
		Process:  proc,
		Timeout:  10 * time.Millisecond,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	out, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !errors.Is(out.StopErr, stopErr) {
		t.Errorf("StopErr = %v, want %v", out.StopErr, stopErr)
	}
	if proc.stops.Load() != 1 {
		t.Errorf("stop must not be retried, got %d attempts", proc.stops.Load())
	}
	if !logs.Contains("Failed to stop host") {
		t.Errorf("expected stop failure log, got:\n%s", logs.String())
	}
}

func TestCoordinator_StartsOnce(t *testing.T) {
	t.Parallel()

	c, err := New(CommandLine{Name: "x"}, Config{
		Registry: NewServiceRegistry(),
		Process:  &fakeProcess{},
		Timeout:  10 * time.Millisecond,
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
	if _, err := c.Run(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Run() after Start error = %v, want ErrAlreadyStarted", err)
	}
	waitDone(t, c)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := New(CommandLine{Name: "x"}, Config{Process: &fakeProcess{}}); err == nil {
		t.Error("New() without registry should fail")
	}
	if _, err := New(CommandLine{Name: "x"}, Config{Registry: NewServiceRegistry()}); err == nil {
		t.Error("New() without process should fail")
	}
}

func TestCoordinator_HostIntegration(t *testing.T) {
	t.Parallel()

	h := host.New()
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("host Start() error: %v", err)
	}

	registry := NewServiceRegistry()
	var ran atomic.Bool
	if _, err := registry.Register("job", HandlerFunc(func(context.Context, *ExecutionContext) (bool, error) {
		time.Sleep(20 * time.Millisecond)
		ran.Store(true)
		return false, nil
	})); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	c, err := Launch(context.Background(), &CommandLine{Name: "job"}, Config{
		Registry: registry,
		Process:  h,
		Logger:   testLogger(),
		Spawn:    h.Go,
	})
	if err != nil {
		t.Fatalf("Launch() error: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- h.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("host Wait() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("host did not stop after the command finished")
	}
	if !ran.Load() {
		t.Error("host stopped before the handler completed")
	}
	if c.Outcome().StopErr != nil {
		t.Errorf("StopErr = %v", c.Outcome().StopErr)
	}
	if h.State() != host.StateStopped {
		t.Errorf("host state = %s, want stopped", h.State())
	}
}

func TestCoordinator_HostShutdownCancelsWait(t *testing.T) {
	t.Parallel()

	h := host.New()
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("host Start() error: %v", err)
	}

	c, err := Launch(context.Background(), &CommandLine{Name: "never"}, Config{
		Registry: NewServiceRegistry(),
		Process:  h,
		Timeout:  time.Minute,
		Logger:   testLogger(),
		Spawn:    h.Go,
	})
	if err != nil {
		t.Fatalf("Launch() error: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if err := h.Stop(); err != nil {
		t.Fatalf("host Stop() error: %v", err)
	}
	if err := h.Wait(); err != nil {
		t.Fatalf("host Wait() error: %v", err)
	}
	out := waitDone(t, c)
	if out.Result != StateCancelled || out.StopRequested {
		t.Errorf("outcome = %+v, want cancelled without stop", out)
	}
}

func TestNewCommandLine(t *testing.T) {
	t.Parallel()

	if NewCommandLine([]string{}, "/") != nil {
		t.Error("empty args should yield no command line")
	}

	args := []string{"hello", "mr", "bond"}
	line := NewCommandLine(args, "/tmp")
	args[1] = "changed"
	if line.Name != "hello" || !slices.Equal(line.Args, []string{"mr", "bond"}) || line.WorkDir != "/tmp" {
		t.Errorf("NewCommandLine() = %+v", line)
	}
	if line.String() != "hello mr bond" {
		t.Errorf("String() = %q", line.String())
	}
	if (CommandLine{Name: "solo"}).String() != "solo" {
		t.Error("String() without args should be the name")
	}
}

func testLogger() *log.Logger {
	logger, _ := testutil.NewLogger()
	return logger
}
