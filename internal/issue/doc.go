// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable errors and a catalog of markdown issue
// explanations.
//
// An ActionableError names the failed operation, the resource involved and
// suggestions for recovery; it may link to a catalog Issue that the CLI
// renders with glamour.
package issue
