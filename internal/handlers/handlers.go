// SPDX-License-Identifier: MPL-2.0

// Package handlers provides the command handlers the runtime registers on
// its own registry.
//
// Built-ins other than "serve" are one-shot: they report that the host may
// stop once they return.
package handlers

import (
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/stamina/stamina/internal/dispatch"
	"github.com/stamina/stamina/internal/unittree"
)

// Built-in command names.
const (
	NameUnits  = "units"
	NameShell  = "sh"
	NameStatus = "status"
	NameServe  = "serve"
)

type (
	// Registrar is the registration side of a handler registry.
	Registrar interface {
		Register(name string, h dispatch.Handler) (deregister func(), err error)
	}

	// Deps are the collaborators shared by the built-in handlers.
	Deps struct {
		// Root lists the installed deployment units for "units".
		Root unittree.Root
		// Logger receives handler diagnostics. nil discards them.
		Logger *log.Logger
	}
)

// RegisterBuiltins registers every built-in handler. The returned function
// deregisters all of them. On error nothing stays registered.
func RegisterBuiltins(r Registrar, deps Deps) (deregister func(), err error) {
	if deps.Root == nil {
		return nil, errors.New("handlers: unit tree root is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	builtins := []struct {
		name    string
		handler dispatch.Handler
	}{
		{NameUnits, &Units{Root: deps.Root}},
		{NameShell, &Shell{Logger: logger}},
		{NameStatus, &Status{}},
		{NameServe, Serve(logger)},
	}

	var undo []func()
	deregisterAll := func() {
		for _, fn := range undo {
			fn()
		}
	}
	for _, b := range builtins {
		fn, regErr := r.Register(b.name, b.handler)
		if regErr != nil {
			deregisterAll()
			return nil, fmt.Errorf("handlers: register %q: %w", b.name, regErr)
		}
		undo = append(undo, fn)
	}
	return deregisterAll, nil
}
