// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// ManifestEntry is the archive path of the unit manifest.
const ManifestEntry = "OSGI-INF/SUBSYSTEM.MF"

// Manifest renders a minimal unit manifest. An empty version omits the
// Subsystem-Version header.
func Manifest(symbolicName, version string) string {
	var b bytes.Buffer
	b.WriteString("Manifest-Version: 1.0\r\n")
	if symbolicName != "" {
		fmt.Fprintf(&b, "Subsystem-SymbolicName: %s\r\n", symbolicName)
	}
	if version != "" {
		fmt.Fprintf(&b, "Subsystem-Version: %s\r\n", version)
	}
	b.WriteString("\r\n")
	return b.String()
}

// ZipBytes builds a ZIP archive holding the given entries.
func ZipBytes(t testing.TB, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("failed to create zip entry %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("failed to write zip entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to finish zip: %v", err)
	}
	return buf.Bytes()
}

// WriteZip writes a ZIP archive with the given entries to dir/name and
// returns its path.
func WriteZip(t testing.TB, dir, name string, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	MustWriteFile(t, path, ZipBytes(t, entries))
	return path
}

// WriteArtifact writes a unit artifact whose manifest names the given unit.
func WriteArtifact(t testing.TB, dir, name, symbolicName, version string) string {
	t.Helper()
	return WriteZip(t, dir, name, map[string]string{
		ManifestEntry: Manifest(symbolicName, version),
	})
}

// WriteArtifactAtomic writes the artifact to a temporary sibling and renames
// it into place so watchers never observe a partially written archive.
func WriteArtifactAtomic(t testing.TB, dir, name, symbolicName, version string) string {
	t.Helper()
	tmp := WriteArtifact(t, t.TempDir(), name, symbolicName, version)
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(tmp)
	if err != nil {
		t.Fatalf("failed to read %s: %v", tmp, err)
	}
	staged := filepath.Join(dir, "."+name+".tmp")
	MustWriteFile(t, staged, data)
	if err := os.Rename(staged, path); err != nil {
		t.Fatalf("failed to rename %s: %v", staged, err)
	}
	return path
}
