// SPDX-License-Identifier: MPL-2.0

// Package installer installs, updates, and uninstalls deployment units from
// artifact files dropped into the deploy directory.
//
// Every operation is idempotent: installing an artifact whose location is
// already in the unit tree is a no-op, and uninstalling an artifact that was
// never installed does nothing. The artifact watcher may replay operations on
// startup scans, duplicated filesystem events, or retries.
package installer

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/stamina/stamina/internal/archive"
	"github.com/stamina/stamina/internal/unittree"

	"github.com/charmbracelet/log"
	"golang.org/x/mod/semver"
)

// DefaultSuffix is the file extension of deployable unit artifacts.
const DefaultSuffix = ".esa"

type (
	// ArtifactInstaller is the contract the artifact watcher drives.
	// CanHandle is always consulted before a mutating call for an artifact.
	ArtifactInstaller interface {
		CanHandle(path string) bool
		Install(ctx context.Context, path string) error
		Update(ctx context.Context, path string) error
		Uninstall(ctx context.Context, path string) error
	}

	// Inventory lists the artifacts behind units already in the tree. The
	// artifact watcher uses it on startup to reconcile units restored from a
	// previous run against the deploy directory.
	Inventory interface {
		// Installed returns the paths, joined onto dir, of every unit installed
		// from a file below dir.
		Installed(ctx context.Context, dir string) ([]string, error)
		// Current reports whether the unit installed from path has the version
		// of the artifact now at path.
		Current(ctx context.Context, path string) (bool, error)
	}

	// Config holds the parameters for an Installer.
	Config struct {
		// Root is the unit tree root that children are installed into.
		Root unittree.Root
		// Suffix is the artifact file extension, matched case-insensitively.
		// Empty defaults to DefaultSuffix.
		Suffix string
		// Logger receives install/update/uninstall messages. nil uses the
		// charmbracelet/log default logger.
		Logger *log.Logger
	}

	// Installer implements ArtifactInstaller against a unit tree. It keeps no
	// state of its own; the tree is re-queried on every call.
	Installer struct {
		root   unittree.Root
		suffix string
		logger *log.Logger
	}
)

// New creates an Installer from cfg.
func New(cfg Config) (*Installer, error) {
	if cfg.Root == nil {
		return nil, fmt.Errorf("installer: root unit is required")
	}
	suffix := cfg.Suffix
	if suffix == "" {
		suffix = DefaultSuffix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Installer{
		root:   cfg.Root,
		suffix: strings.ToLower(suffix),
		logger: logger,
	}, nil
}

// CanHandle reports whether path is a readable unit artifact. It never fails:
// unreadable or invalid artifacts are logged and reported as not handled.
func (i *Installer) CanHandle(path string) bool {
	if !strings.HasSuffix(strings.ToLower(filepath.Base(path)), i.suffix) {
		return false
	}
	if _, err := archive.ReadMetadata(path); err != nil {
		i.logger.Warn("Failed to open file as a deployment unit", "artifact", path, "err", err)
		return false
	}
	return true
}

// Install installs and starts the unit in path unless a unit is already
// installed from the same location.
func (i *Installer) Install(ctx context.Context, path string) error {
	md, err := archive.ReadMetadata(path)
	if err != nil {
		return err
	}
	id := md.Identity()

	location, err := CanonicalLocation(path)
	if err != nil {
		return err
	}

	_, exists, err := i.root.UnitByLocation(ctx, location)
	if err != nil {
		return err
	}
	if exists {
		i.logger.Debug("Deployment unit is already installed", "unit", id)
		return nil
	}

	i.logger.Info("Installing deployment unit", "unit", id)
	unit, err := i.root.Install(ctx, location)
	if err != nil {
		return err
	}
	i.logger.Info("Starting deployment unit", "unit", id)
	return unit.Start(ctx)
}

// Update replaces the unit installed from path with the current artifact
// content. Metadata is re-read because the file may have changed since the
// unit was installed.
func (i *Installer) Update(ctx context.Context, path string) error {
	md, err := archive.ReadMetadata(path)
	if err != nil {
		return err
	}
	id := md.Identity()

	i.logger.Info("Updating deployment unit", "unit", id, "change", i.versionChange(ctx, path, md.Version))
	if err := i.Uninstall(ctx, path); err != nil {
		return err
	}
	if err := i.Install(ctx, path); err != nil {
		return err
	}
	i.logger.Info("Deployment unit updated", "unit", id)
	return nil
}

// Uninstall removes every child of the root installed from path's location.
// A location with no installed unit is not an error.
func (i *Installer) Uninstall(ctx context.Context, path string) error {
	location, err := CanonicalLocation(path)
	if err != nil {
		return err
	}

	children, err := i.root.Children(ctx)
	if err != nil {
		return err
	}
	// The tree should hold at most one unit per location, but the host does
	// not guarantee it, so every match is removed.
	for _, unit := range children {
		if unit.Location() != location {
			continue
		}
		id := unittree.Identity(unit)
		i.logger.Info("Uninstalling deployment unit", "unit", id)
		if err := unit.Uninstall(ctx); err != nil {
			return err
		}
		i.logger.Info("Deployment unit uninstalled", "unit", id)
	}
	return nil
}

// Installed returns the paths of the units installed from files below dir.
// Paths are joined onto dir as given, so they compare equal to paths the
// caller builds from dir even when dir contains symlinks.
func (i *Installer) Installed(ctx context.Context, dir string) ([]string, error) {
	base, err := CanonicalLocation(dir)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimSuffix(base, "/") + "/"

	children, err := i.root.Children(ctx)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, unit := range children {
		rest, ok := strings.CutPrefix(unit.Location(), prefix)
		if !ok || rest == "" {
			continue
		}
		rel, err := url.PathUnescape(rest)
		if err != nil {
			i.logger.Warn("Skipping unit with malformed location", "unit", unittree.Identity(unit), "location", unit.Location())
			continue
		}
		paths = append(paths, filepath.Join(dir, filepath.FromSlash(rel)))
	}
	return paths, nil
}

// Current reports whether the unit installed from path matches the version
// of the artifact at path. A location with no installed unit is not current.
func (i *Installer) Current(ctx context.Context, path string) (bool, error) {
	location, err := CanonicalLocation(path)
	if err != nil {
		return false, err
	}
	unit, ok, err := i.root.UnitByLocation(ctx, location)
	if err != nil || !ok {
		return false, err
	}
	md, err := archive.ReadMetadata(path)
	if err != nil {
		return false, err
	}
	return unit.Version() == md.Version, nil
}

// versionChange describes how version relates to the unit currently
// installed from path. It is informational only.
func (i *Installer) versionChange(ctx context.Context, path, version string) string {
	location, err := CanonicalLocation(path)
	if err != nil {
		return "unknown"
	}
	unit, ok, err := i.root.UnitByLocation(ctx, location)
	if err != nil || !ok {
		return "install"
	}
	return compareVersions(unit.Version(), version)
}

// compareVersions classifies the transition from old to next. Versions that
// are not semver-like compare by string equality only.
func compareVersions(old, next string) string {
	if old == next {
		return "reinstall"
	}
	ov, nv := "v"+old, "v"+next
	if !semver.IsValid(ov) || !semver.IsValid(nv) {
		return old + " -> " + next
	}
	switch semver.Compare(ov, nv) {
	case -1:
		return "upgrade " + old + " -> " + next
	case 1:
		return "downgrade " + old + " -> " + next
	default:
		return "reinstall"
	}
}

// CanonicalLocation returns the file URL under which the artifact at path is
// installed. Symlinks are resolved; when the file no longer exists (as on
// removal) the parent directory is resolved instead so the location still
// matches the one computed at install time.
func CanonicalLocation(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve artifact path %s: %w", path, err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("resolve artifact path %s: %w", path, err)
		}
		resolved = abs
		if dir, dirErr := filepath.EvalSymlinks(filepath.Dir(abs)); dirErr == nil {
			resolved = filepath.Join(dir, filepath.Base(abs))
		}
	}
	return unittree.FileLocation(resolved), nil
}
