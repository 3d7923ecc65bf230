// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for stamina.
//
// "stamina run" is the runtime entry point: it starts the host, keeps the
// deploy directory in step with the installed deployment units and
// dispatches the command given on the command line, if any.
package cmd
