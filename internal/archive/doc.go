// SPDX-License-Identifier: MPL-2.0

// Package archive reads deployment unit metadata out of artifact archives.
//
// An artifact is a ZIP file carrying a manifest at OSGI-INF/SUBSYSTEM.MF. The
// manifest is a list of "Name: value" headers; only the main section (up to the
// first blank line) is read. Subsystem-SymbolicName is mandatory and
// Subsystem-Version defaults to 0.0.0.
//
// Metadata is never cached: archives can be rewritten between two reads, so
// callers re-read it whenever they need the identity of an artifact.
package archive
