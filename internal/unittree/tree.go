// SPDX-License-Identifier: MPL-2.0

package unittree

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"slices"
	"sync"

	"github.com/stamina/stamina/internal/archive"

	"github.com/charmbracelet/log"
)

type (
	// Options configures a Tree.
	Options struct {
		// StateFile persists the children between runs. Empty keeps the tree
		// in memory only.
		StateFile string
		// Logger receives lifecycle messages. nil discards them.
		Logger *log.Logger
		// Resolve reads the metadata of the artifact behind a location path.
		// nil defaults to archive.ReadMetadata.
		Resolve func(path string) (archive.Metadata, error)
	}

	// Tree is an in-process unit tree. It is safe for concurrent use.
	Tree struct {
		mu       sync.Mutex
		children []*node
		nextID   ID
		store    *stateStore
		logger   *log.Logger
		resolve  func(path string) (archive.Metadata, error)
	}

	// node is a child unit of the tree.
	node struct {
		tree         *Tree
		id           ID
		location     string
		symbolicName string
		version      string
		state        State
	}
)

// Open creates a Tree, restoring children from opts.StateFile when it exists.
func Open(opts Options) (*Tree, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	resolve := opts.Resolve
	if resolve == nil {
		resolve = archive.ReadMetadata
	}

	t := &Tree{
		nextID:  RootID + 1,
		logger:  logger,
		resolve: resolve,
	}

	if opts.StateFile == "" {
		return t, nil
	}

	t.store = &stateStore{path: opts.StateFile}
	snap, err := t.store.load()
	if err != nil {
		return nil, err
	}
	for _, rec := range snap.Units {
		t.children = append(t.children, &node{
			tree:         t,
			id:           rec.ID,
			location:     rec.Location,
			symbolicName: rec.SymbolicName,
			version:      rec.Version,
			state:        State(rec.State),
		})
	}
	if snap.NextID > t.nextID {
		t.nextID = snap.NextID
	}
	if len(t.children) > 0 {
		t.logger.Info("Restored deployment units", "count", len(t.children), "state_file", opts.StateFile)
	}
	return t, nil
}

// Install resolves the artifact at location and adds it as a new child in the
// installed state.
func (t *Tree) Install(ctx context.Context, location string) (Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, &OperationError{Kind: ErrInstall, Location: location, Err: err}
	}

	path, err := pathFromLocation(location)
	if err != nil {
		return nil, &OperationError{Kind: ErrInstall, Location: location, Err: err}
	}
	md, err := t.resolve(path)
	if err != nil {
		return nil, &OperationError{Kind: ErrInstall, Location: location, Err: err}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if slices.ContainsFunc(t.children, func(n *node) bool { return n.location == location }) {
		return nil, &OperationError{Kind: ErrInstall, Location: location, Err: ErrDuplicateLocation}
	}

	n := &node{
		tree:         t,
		id:           t.nextID,
		location:     location,
		symbolicName: md.SymbolicName,
		version:      md.Version,
		state:        StateInstalled,
	}
	t.nextID++
	t.children = append(t.children, n)

	if err := t.persistLocked(); err != nil {
		t.children = t.children[:len(t.children)-1]
		return nil, &OperationError{Kind: ErrInstall, Location: location, Err: err}
	}
	t.logger.Debug("Unit installed", "id", n.id, "unit", md.Identity())
	return n, nil
}

// Children returns a snapshot of the installed children ordered by id.
func (t *Tree) Children(_ context.Context) ([]Unit, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	units := make([]Unit, 0, len(t.children))
	for _, n := range t.children {
		units = append(units, n)
	}
	return units, nil
}

// UnitByLocation returns the child installed from location.
func (t *Tree) UnitByLocation(_ context.Context, location string) (Unit, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, n := range t.children {
		if n.location == location {
			return n, true, nil
		}
	}
	return nil, false, nil
}

// persistLocked writes the current children to the state file.
// Callers must hold t.mu.
func (t *Tree) persistLocked() error {
	if t.store == nil {
		return nil
	}
	snap := snapshot{NextID: t.nextID, Units: make([]unitRecord, 0, len(t.children))}
	for _, n := range t.children {
		snap.Units = append(snap.Units, unitRecord{
			ID:           n.id,
			Location:     n.location,
			SymbolicName: n.symbolicName,
			Version:      n.version,
			State:        string(n.state),
		})
	}
	return t.store.save(snap)
}

// ID returns the unit id.
func (n *node) ID() ID { return n.id }

// Location returns the canonical URL the unit was installed from.
func (n *node) Location() string { return n.location }

// SymbolicName returns the unit symbolic name.
func (n *node) SymbolicName() string { return n.symbolicName }

// Version returns the unit version.
func (n *node) Version() string { return n.version }

// State returns the current lifecycle state.
func (n *node) State() State {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.state
}

// Start marks the unit active. Starting an active unit is a no-op.
func (n *node) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &OperationError{Kind: ErrStart, Location: n.location, Err: err}
	}

	t := n.tree
	t.mu.Lock()
	defer t.mu.Unlock()

	switch n.state {
	case StateActive:
		return nil
	case StateUninstalled:
		return &OperationError{Kind: ErrStart, Location: n.location, Err: errors.New("unit is uninstalled")}
	}

	prev := n.state
	n.state = StateActive
	if err := t.persistLocked(); err != nil {
		n.state = prev
		return &OperationError{Kind: ErrStart, Location: n.location, Err: err}
	}
	t.logger.Debug("Unit started", "id", n.id, "unit", n.symbolicName+"/"+n.version)
	return nil
}

// Uninstall removes the unit from the tree.
func (n *node) Uninstall(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &OperationError{Kind: ErrUninstall, Location: n.location, Err: err}
	}

	t := n.tree
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := slices.Index(t.children, n)
	if idx < 0 {
		return &OperationError{Kind: ErrUninstall, Location: n.location, Err: errors.New("unit is not installed")}
	}

	prev := n.state
	t.children = slices.Delete(t.children, idx, idx+1)
	n.state = StateUninstalled
	if err := t.persistLocked(); err != nil {
		t.children = slices.Insert(t.children, idx, n)
		n.state = prev
		return &OperationError{Kind: ErrUninstall, Location: n.location, Err: err}
	}
	t.logger.Debug("Unit uninstalled", "id", n.id, "unit", n.symbolicName+"/"+n.version)
	return nil
}

// pathFromLocation converts a file URL back into a filesystem path.
func pathFromLocation(location string) (string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnsupportedLocation, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("%w: scheme %q", ErrUnsupportedLocation, u.Scheme)
	}
	path := filepath.FromSlash(u.Path)
	if vol := filepath.VolumeName(path[min(1, len(path)):]); vol != "" {
		// file:///C:/x decodes to /C:/x on Windows.
		path = path[1:]
	}
	return path, nil
}

// FileLocation renders an absolute filesystem path as a file URL.
func FileLocation(path string) string {
	p := filepath.ToSlash(path)
	if p != "" && p[0] != '/' {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}
