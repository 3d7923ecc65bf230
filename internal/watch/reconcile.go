// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/stamina/stamina/internal/unittree"
)

// Scan installs every handled artifact already present in the deploy
// directory. When the installer is an installer.Inventory, units installed
// from the directory by a previous run are reconciled too: those whose
// artifact is gone are uninstalled and those whose artifact changed version
// are updated. Failures are logged and joined; one bad artifact does not
// stop the scan.
func (w *Watcher) Scan(ctx context.Context) error {
	var candidates []string
	walkErr := filepath.WalkDir(w.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("Skipping inaccessible path", "path", path, "err", err)
			return nil //nolint:nilerr // intentional skip of inaccessible paths
		}
		rel, relErr := filepath.Rel(w.baseDir, path)
		if relErr != nil {
			return nil //nolint:nilerr // skip paths that cannot be made relative
		}
		if d.IsDir() {
			if rel != "." && (w.isIgnored(rel) || w.isIgnored(rel+"/")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		if w.isIgnored(rel) || !w.matchesPatterns(rel) {
			return nil
		}
		candidates = append(candidates, rel)
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("watch: scan deploy directory: %w", walkErr)
	}

	w.logger.Debug("Scanned deploy directory", "dir", w.baseDir, "candidates", len(candidates))

	w.applyMu.Lock()
	defer w.applyMu.Unlock()
	return w.applyLocked(ctx, w.adoptLocked(ctx, candidates))
}

// adoptLocked takes over units installed from BaseDir before this watcher
// started, as restored from a state file. Their paths become known so the
// apply that follows uninstalls those whose artifact is gone and updates
// those whose artifact changed version. Units that are still current are
// dropped from the returned list. Callers must hold w.applyMu.
func (w *Watcher) adoptLocked(ctx context.Context, candidates []string) []string {
	paths := make([]string, 0, len(candidates))
	present := make(map[string]struct{}, len(candidates))
	for _, rel := range candidates {
		p := w.absPath(rel)
		paths = append(paths, p)
		present[p] = struct{}{}
	}
	if w.inventory == nil {
		return paths
	}

	installed, err := w.inventory.Installed(ctx, w.baseDir)
	if err != nil {
		w.logger.Warn("Failed to list installed deployment units", "dir", w.baseDir, "err", err)
		return paths
	}
	adopted := make(map[string]struct{}, len(installed))
	for _, p := range installed {
		if _, ok := w.known[p]; ok {
			continue
		}
		w.known[p] = struct{}{}
		adopted[p] = struct{}{}
	}
	if len(adopted) == 0 {
		return paths
	}
	w.logger.Info("Reconciling restored deployment units", "dir", w.baseDir, "count", len(adopted))

	out := make([]string, 0, len(paths)+len(adopted))
	for _, p := range paths {
		if _, ok := adopted[p]; ok {
			if current, err := w.inventory.Current(ctx, p); err == nil && current {
				w.logger.Debug("Restored deployment unit is current", "path", p)
				continue
			}
		}
		out = append(out, p)
	}
	for p := range adopted {
		if _, ok := present[p]; !ok {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return out
}

// Apply reconciles the given paths (relative to BaseDir, or absolute)
// against the installer:
//   - a known artifact the installer still handles is updated
//   - a known artifact the installer no longer handles is uninstalled
//   - an unknown file the installer can handle is installed
//   - a missing known artifact is uninstalled
//
// Calls are serialized with any concurrent Scan or Apply.
func (w *Watcher) Apply(ctx context.Context, paths []string) error {
	w.applyMu.Lock()
	defer w.applyMu.Unlock()
	return w.applyLocked(ctx, paths)
}

func (w *Watcher) applyLocked(ctx context.Context, paths []string) error {
	var errs []error
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := w.reconcile(ctx, w.absPath(p)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Known returns the absolute paths of the artifacts installed by this
// watcher, sorted.
func (w *Watcher) Known() []string {
	w.applyMu.Lock()
	defer w.applyMu.Unlock()
	out := make([]string, 0, len(w.known))
	for p := range w.known {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

func (w *Watcher) reconcile(ctx context.Context, path string) error {
	inst := w.cfg.Installer
	_, known := w.known[path]

	info, statErr := os.Stat(path)
	switch {
	case statErr == nil && info.IsDir():
		return nil

	case statErr == nil && known && !inst.CanHandle(path):
		w.logger.Warn("Artifact is no longer a deployment unit", "path", path)
		return w.uninstall(ctx, path)

	case statErr == nil && known:
		// The path stays known when the update fails: the old unit may still
		// be installed and has to go when the artifact is removed.
		return w.retry(ctx, "update", path, func() error { return inst.Update(ctx, path) })

	case statErr == nil:
		if !inst.CanHandle(path) {
			w.logger.Debug("Ignoring file", "path", path)
			return nil
		}
		if err := w.retry(ctx, "install", path, func() error { return inst.Install(ctx, path) }); err != nil {
			// A unit that installed but failed to start is still in the tree.
			if w.current(ctx, path) {
				w.known[path] = struct{}{}
			}
			return err
		}
		w.known[path] = struct{}{}
		return nil

	case errors.Is(statErr, fs.ErrNotExist) && known:
		return w.uninstall(ctx, path)

	case errors.Is(statErr, fs.ErrNotExist):
		return nil

	default:
		w.logger.Warn("Failed to inspect deploy directory entry", "path", path, "err", statErr)
		return nil
	}
}

// uninstall removes the unit installed from path and forgets the path once
// the installer succeeded.
func (w *Watcher) uninstall(ctx context.Context, path string) error {
	inst := w.cfg.Installer
	if err := w.retry(ctx, "uninstall", path, func() error { return inst.Uninstall(ctx, path) }); err != nil {
		return err
	}
	delete(w.known, path)
	return nil
}

// current reports whether the inventory holds an up to date unit for path.
func (w *Watcher) current(ctx context.Context, path string) bool {
	if w.inventory == nil {
		return false
	}
	ok, err := w.inventory.Current(ctx, path)
	return err == nil && ok
}

// retry runs op with exponential backoff. Duplicate locations and context
// errors are not retried.
func (w *Watcher) retry(ctx context.Context, action, path string, op func() error) error {
	attempt := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, unittree.ErrDuplicateLocation) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		w.logger.Warn("Retrying deployment unit "+action, "path", path, "err", err, "backoff", next)
	}

	err := backoff.RetryNotify(attempt, w.newBackOff(ctx), notify)
	if err != nil {
		w.logger.Error("Failed to "+action+" deployment unit", "path", path, "err", err)
		return fmt.Errorf("watch: %s %s: %w", action, path, err)
	}
	return nil
}

func (w *Watcher) newBackOff(ctx context.Context) backoff.BackOffContext {
	interval := w.cfg.RetryInterval
	if interval <= 0 {
		interval = defaultRetryInterval
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = interval
	exp.MaxElapsedTime = 0

	var b backoff.BackOff
	switch maxRetries := w.cfg.MaxRetries; {
	case maxRetries < 0:
		b = &backoff.StopBackOff{}
	case maxRetries == 0:
		b = backoff.WithMaxRetries(exp, defaultMaxRetries)
	default:
		b = backoff.WithMaxRetries(exp, uint64(maxRetries))
	}
	return backoff.WithContext(b, ctx)
}

func (w *Watcher) absPath(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(w.baseDir, p)
}
