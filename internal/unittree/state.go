// SPDX-License-Identifier: MPL-2.0

package unittree

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

type (
	// stateStore reads and writes the tree snapshot as TOML.
	stateStore struct {
		path string
	}

	snapshot struct {
		NextID ID           `toml:"next_id"`
		Units  []unitRecord `toml:"units"`
	}

	unitRecord struct {
		ID           ID     `toml:"id"`
		Location     string `toml:"location"`
		SymbolicName string `toml:"symbolic_name"`
		Version      string `toml:"version"`
		State        string `toml:"state"`
	}
)

// load returns the persisted snapshot. A missing file yields an empty snapshot.
func (s *stateStore) load() (snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return snapshot{}, nil
		}
		return snapshot{}, fmt.Errorf("read unit state %s: %w", s.path, err)
	}

	var snap snapshot
	if err := toml.Unmarshal(data, &snap); err != nil {
		return snapshot{}, fmt.Errorf("decode unit state %s: %w", s.path, err)
	}
	return snap, nil
}

// save writes the snapshot through a temporary file and renames it into place.
func (s *stateStore) save(snap snapshot) error {
	data, err := toml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode unit state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create unit state directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write unit state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("replace unit state: %w", err)
	}
	return nil
}
