// SPDX-License-Identifier: MPL-2.0

// Package dispatch hands a launch-time command line to a single command
// handler and decides whether the host process keeps running afterwards.
//
// A Coordinator runs at most once per process launch. It waits, bounded by a
// timeout, for a handler to be registered under the command name, executes it
// exactly once, and requests a host stop unless the handler asked to keep the
// process alive. Timeouts and handler failures both fail closed: the host is
// stopped. Cancelling the wait (process shutdown) ends the coordinator without
// requesting a stop.
package dispatch
