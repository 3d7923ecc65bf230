// SPDX-License-Identifier: MPL-2.0

package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/stamina/stamina/internal/dispatch"
)

// ErrEmptyScript is returned when "sh" is dispatched without a script.
var ErrEmptyScript = errors.New("no script given")

// ScriptExitError reports a script that finished with a non-zero status.
type ScriptExitError struct {
	Status int
}

// Error implements the error interface.
func (e *ScriptExitError) Error() string {
	return fmt.Sprintf("script exited with status %d", e.Status)
}

// Shell runs its arguments as a POSIX shell script in the embedded
// interpreter. Arguments are joined with spaces, so both
// `sh 'echo hi'` and `sh echo hi` work.
type Shell struct {
	// Env is the script environment. nil inherits the process environment.
	Env []string
	// Logger receives debug output. nil discards it.
	Logger *log.Logger
}

// Execute implements dispatch.Handler.
func (s *Shell) Execute(ctx context.Context, ec *dispatch.ExecutionContext) (bool, error) {
	script := strings.TrimSpace(strings.Join(ec.Args, " "))
	if script == "" {
		return false, ErrEmptyScript
	}

	prog, err := syntax.NewParser().Parse(strings.NewReader(script), "sh")
	if err != nil {
		return false, fmt.Errorf("parse script: %w", err)
	}

	env := s.Env
	if env == nil {
		env = os.Environ()
	}
	opts := []interp.RunnerOption{
		interp.Env(expand.ListEnviron(env...)),
		interp.StdIO(ec.Stdin, ec.Stdout, ec.Stderr),
	}
	if ec.WorkDir != "" {
		opts = append(opts, interp.Dir(ec.WorkDir))
	}

	runner, err := interp.New(opts...)
	if err != nil {
		return false, fmt.Errorf("create interpreter: %w", err)
	}

	s.logger().Debug("Running script", "script", script, "dir", ec.WorkDir)
	if err := runner.Run(ctx, prog); err != nil {
		var status interp.ExitStatus
		if errors.As(err, &status) {
			return false, &ScriptExitError{Status: int(status)}
		}
		return false, fmt.Errorf("run script: %w", err)
	}
	return false, nil
}

func (s *Shell) logger() *log.Logger {
	if s.Logger == nil {
		return log.New(io.Discard)
	}
	return s.Logger
}
