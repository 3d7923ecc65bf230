// SPDX-License-Identifier: MPL-2.0

// Package unittree models the host-owned tree of deployment units.
//
// Root and Unit are the boundary the installer works against: the root unit
// (id 0) installs children from a location and enumerates them, and each child
// can be started and uninstalled. Tree is the in-process implementation used by
// the stamina host; it optionally persists its children to a TOML state file so
// installed units survive a restart.
package unittree
