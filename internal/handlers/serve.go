// SPDX-License-Identifier: MPL-2.0

package handlers

import (
	"context"
	"io"

	"github.com/charmbracelet/log"

	"github.com/stamina/stamina/internal/dispatch"
)

// Serve returns a handler that keeps the host running until it is stopped
// by a signal.
func Serve(logger *log.Logger) dispatch.Handler {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return dispatch.HandlerFunc(func(context.Context, *dispatch.ExecutionContext) (bool, error) {
		logger.Info("Host will keep running until interrupted")
		return true, nil
	})
}
