// SPDX-License-Identifier: MPL-2.0

package cmd

import "fmt"

// exitFailure is the exit code of a failed run.
const exitFailure = 1

// ExitError signals a non-zero exit code without forcing os.Exit in RunE
// handlers. An ExitError without Err is reported by its code alone.
type ExitError struct {
	Code int
	Err  error
}

// Error returns the error message for ExitError.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error, if any.
func (e *ExitError) Unwrap() error {
	return e.Err
}
