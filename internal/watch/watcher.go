// SPDX-License-Identifier: MPL-2.0

// Package watch keeps the installed deployment units in step with the deploy
// directory.
//
// A Watcher scans the directory once at startup, then monitors it with
// fsnotify. Events within the debounce window are coalesced; when the window
// closes each changed path is reconciled against the installer: new
// artifacts are installed, changed ones updated and removed ones uninstalled.
// Installer calls are never made concurrently.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/stamina/stamina/internal/installer"
)

// ErrWatchFailed is wrapped by Run when the filesystem watcher can no longer
// deliver events, typically because the system ran out of watch handles.
var ErrWatchFailed = errors.New("filesystem watcher failed")

// Watcher monitors a deploy directory and drives an installer. Run must be
// called exactly once; calling it a second time returns an error.
type Watcher struct {
	cfg      Config
	fsw      *fsnotify.Watcher
	ignores  []string
	logger   *log.Logger
	debounce time.Duration
	baseDir  string
	started  atomic.Bool

	// inventory is set when the installer can list installed units.
	inventory installer.Inventory

	// applyMu serializes installer calls between Scan and the event loop.
	applyMu sync.Mutex
	// known holds the absolute paths of artifacts with a unit installed by
	// this watcher or adopted from a previous run.
	known map[string]struct{}
}

// New creates a Watcher from cfg. It resolves BaseDir to an absolute path,
// initialises the fsnotify watcher and registers every non-ignored directory
// under BaseDir.
func New(cfg Config) (*Watcher, error) {
	if cfg.Installer == nil {
		return nil, errors.New("watch: installer is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}

	baseDir := cfg.BaseDir
	if baseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("watch: determine working directory: %w", err)
		}
		baseDir = wd
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve base directory: %w", err)
	}
	info, err := os.Stat(absBase)
	if err != nil {
		return nil, fmt.Errorf("watch: deploy directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch: deploy directory %q is not a directory", absBase)
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}

	ignores := make([]string, 0, len(defaultIgnores)+len(cfg.Ignore))
	ignores = append(ignores, defaultIgnores...)
	ignores = append(ignores, cfg.Ignore...)

	w := &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		ignores:  ignores,
		logger:   logger,
		debounce: debounce,
		baseDir:  absBase,
		known:    make(map[string]struct{}),
	}
	w.inventory, _ = cfg.Installer.(installer.Inventory)

	if err := w.addDirectories(); err != nil {
		if closeErr := fsw.Close(); closeErr != nil {
			logger.Warn("Failed to close watcher after init failure", "err", closeErr)
		}
		return nil, err
	}
	return w, nil
}

// Run blocks until ctx is cancelled, processing filesystem events and
// applying debounced changes. It returns nil on clean cancellation and
// propagates fatal watcher errors.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return fmt.Errorf("watch: Run called more than once")
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]struct{})
		timer   *time.Timer
		running atomic.Bool
	)

	// fire drains the pending set. It may run after ctx is cancelled since
	// time.AfterFunc schedules it; the ctx check is best-effort.
	fire := func() {
		if ctx.Err() != nil {
			return
		}
		if !running.CompareAndSwap(false, true) {
			w.logger.Debug("Deferring changes, previous batch still in progress")
			// Reschedule so the pending set is not lost when no further
			// events arrive.
			mu.Lock()
			if timer != nil {
				timer.Reset(w.debounce)
			}
			mu.Unlock()
			return
		}
		defer running.Store(false)

		mu.Lock()
		if len(pending) == 0 {
			mu.Unlock()
			return
		}
		changed := slices.Sorted(maps.Keys(pending))
		clear(pending)
		mu.Unlock()

		if err := w.Apply(ctx, changed); err != nil {
			w.logger.Error("Failed to apply deploy directory changes", "err", err)
		}
	}

	defer func() {
		mu.Lock()
		localTimer := timer
		mu.Unlock()
		if localTimer != nil {
			localTimer.Stop()
		}
		if closeErr := w.fsw.Close(); closeErr != nil {
			w.logger.Warn("Failed to close fsnotify watcher", "err", closeErr)
		}
		// A batch already under way finishes before Run returns.
		w.applyMu.Lock()
		w.applyMu.Unlock() //nolint:staticcheck // barrier only
	}()

	w.logger.Info("Watching deploy directory", "dir", w.baseDir)
	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return fmt.Errorf("watch: %w: event channel closed unexpectedly", ErrWatchFailed)
			}

			rel, err := filepath.Rel(w.baseDir, evt.Name)
			if err != nil {
				rel = evt.Name
			}
			if w.isIgnored(rel) {
				continue
			}

			// Extend the recursive watch to directories created after
			// startup; artifacts copied in with them are picked up by the
			// pattern check below on their own events.
			if evt.Has(fsnotify.Create) && w.maybeAddDir(evt.Name) {
				continue
			}
			if !w.matchesPatterns(rel) {
				continue
			}

			mu.Lock()
			pending[rel] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return fmt.Errorf("watch: %w: error channel closed unexpectedly", ErrWatchFailed)
			}
			// isFatalFsnotifyError is platform specific (see watcher_fatal_*.go).
			if isFatalFsnotifyError(err) {
				return fmt.Errorf("watch: %w: %w", ErrWatchFailed, err)
			}
			w.logger.Warn("Filesystem watcher error", "err", err)
		}
	}
}

// addDirectories walks BaseDir and adds every non-ignored directory to the
// fsnotify watcher.
func (w *Watcher) addDirectories() error {
	walkErr := filepath.WalkDir(w.baseDir, func(path string, d os.DirEntry, walkDirErr error) error {
		if walkDirErr != nil {
			w.logger.Warn("Skipping inaccessible path", "path", path, "err", walkDirErr)
			return nil //nolint:nilerr // intentional skip of inaccessible paths
		}
		if !d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(w.baseDir, path)
		if relErr != nil {
			return nil //nolint:nilerr // skip paths that cannot be made relative
		}
		if w.isIgnored(rel) || w.isIgnored(rel+"/") {
			return filepath.SkipDir
		}

		if addErr := w.fsw.Add(path); addErr != nil {
			return fmt.Errorf("watch: add directory %q: %w", path, addErr)
		}
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("watch: walk directory tree: %w", walkErr)
	}
	return nil
}

// maybeAddDir adds path to the fsnotify watcher when it is a non-ignored
// directory and reports whether it was a directory.
func (w *Watcher) maybeAddDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}

	rel, err := filepath.Rel(w.baseDir, path)
	if err != nil {
		return true
	}
	if w.isIgnored(rel) || w.isIgnored(rel+"/") {
		return true
	}

	if addErr := w.fsw.Add(path); addErr != nil {
		w.logger.Warn("Failed to watch new directory", "path", path, "err", addErr)
	}
	return true
}

// isIgnored reports whether rel (relative to BaseDir) matches an ignore
// pattern.
func (w *Watcher) isIgnored(rel string) bool {
	normalized := filepath.ToSlash(rel)
	for _, pat := range w.ignores {
		if matched, matchErr := doublestar.Match(pat, normalized); matchErr == nil && matched {
			return true
		}
	}
	return false
}

// matchesPatterns reports whether rel matches a watch pattern. With no
// patterns configured every path matches.
func (w *Watcher) matchesPatterns(rel string) bool {
	if len(w.cfg.Patterns) == 0 {
		return true
	}
	normalized := filepath.ToSlash(rel)
	for _, pat := range w.cfg.Patterns {
		if matched, matchErr := doublestar.Match(pat, normalized); matchErr == nil && matched {
			return true
		}
	}
	return false
}
