// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helpers shared by package tests: artifact
// builders that write unit archives to disk, a captured logger, and Must*
// wrappers that fail the test on unexpected errors.
package testutil
