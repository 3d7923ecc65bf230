// SPDX-License-Identifier: MPL-2.0

package unittree

import (
	"context"
	"errors"
	"fmt"
)

const (
	// RootID is the id of the root unit.
	RootID ID = 0

	// StateInstalled marks a unit that is installed but not started.
	StateInstalled State = "installed"
	// StateActive marks a started unit.
	StateActive State = "active"
	// StateUninstalled marks a unit removed from the tree.
	StateUninstalled State = "uninstalled"
)

var (
	// ErrInstall is wrapped by every failure to install a unit.
	ErrInstall = errors.New("install failed")
	// ErrStart is wrapped by every failure to start a unit.
	ErrStart = errors.New("start failed")
	// ErrUninstall is wrapped by every failure to uninstall a unit.
	ErrUninstall = errors.New("uninstall failed")
	// ErrDuplicateLocation is returned when a location is already installed.
	ErrDuplicateLocation = errors.New("location already installed")
	// ErrUnsupportedLocation is returned for locations that are not file URLs.
	ErrUnsupportedLocation = errors.New("unsupported location")
)

type (
	// ID identifies a unit within the tree.
	ID uint64

	// State is the lifecycle state of a unit.
	State string

	// Unit is a deployment unit installed in the tree.
	Unit interface {
		ID() ID
		// Location is the canonical URL the unit was installed from.
		Location() string
		SymbolicName() string
		Version() string
		State() State
		Start(ctx context.Context) error
		Uninstall(ctx context.Context) error
	}

	// Root is the entry point into the tree. Children are re-queried on every
	// call; implementations may be mutated concurrently by the host.
	Root interface {
		Install(ctx context.Context, location string) (Unit, error)
		Children(ctx context.Context) ([]Unit, error)
		// UnitByLocation returns the unit installed from location, if any.
		UnitByLocation(ctx context.Context, location string) (Unit, bool, error)
	}

	// OperationError records a failed unit operation. It unwraps to both the
	// operation kind (ErrInstall, ErrStart, ErrUninstall) and the cause.
	OperationError struct {
		Kind     error
		Location string
		Err      error
	}
)

// String returns the state name.
func (s State) String() string { return string(s) }

// Error implements the error interface.
func (e *OperationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Location, e.Err)
}

// Unwrap exposes the kind and the cause to errors.Is / errors.As.
func (e *OperationError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Identity formats "<symbolic name>/<version>" for a unit.
func Identity(u Unit) string {
	return u.SymbolicName() + "/" + u.Version()
}
