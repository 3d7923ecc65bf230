// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// ManifestPath is the location of the unit manifest inside an artifact.
	ManifestPath = "OSGI-INF/SUBSYSTEM.MF"

	// HeaderSymbolicName names the unit. It is required.
	HeaderSymbolicName = "Subsystem-SymbolicName"
	// HeaderVersion carries the unit version. It is optional.
	HeaderVersion = "Subsystem-Version"

	// DefaultVersion is used when the manifest declares no version.
	DefaultVersion = "0.0.0"

	// maxManifestSize bounds how much of the manifest entry is read.
	maxManifestSize = 1 << 20
)

var (
	// ErrMissingMetadataEntry is returned when the archive has no manifest entry.
	ErrMissingMetadataEntry = errors.New("missing unit manifest")
	// ErrMissingSymbolicName is returned when the manifest does not name the unit.
	ErrMissingSymbolicName = errors.New("missing symbolic name in unit manifest")
	// ErrMalformedManifest is returned when a manifest header cannot be parsed.
	ErrMalformedManifest = errors.New("malformed unit manifest")
)

// Metadata is the identity record parsed from an artifact manifest.
type Metadata struct {
	// SymbolicName is the trimmed Subsystem-SymbolicName header value.
	SymbolicName string
	// Version is the Subsystem-Version header value, or DefaultVersion.
	Version string
	// Attributes holds every main-section header keyed by its canonical name
	// (as first spelled in the manifest).
	Attributes map[string]string
}

// Identity returns "<symbolic name>/<version>".
func (m Metadata) Identity() string {
	return Identity(m.SymbolicName, m.Version)
}

// Attribute looks up a header case-insensitively.
func (m Metadata) Attribute(name string) (string, bool) {
	for k, v := range m.Attributes {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Identity formats a unit identity, defaulting an empty version.
func Identity(symbolicName, version string) string {
	if version == "" {
		version = DefaultVersion
	}
	return symbolicName + "/" + version
}

// ReadMetadata opens the artifact at path and parses its manifest.
// The archive is closed before returning on every path.
func ReadMetadata(path string) (md Metadata, err error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("open artifact %s: %w", path, err)
	}
	defer func() {
		if closeErr := zr.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close artifact %s: %w", path, closeErr)
		}
	}()

	entry := findEntry(zr.File, ManifestPath)
	if entry == nil {
		return Metadata{}, fmt.Errorf("%s: %w", path, ErrMissingMetadataEntry)
	}

	rc, err := entry.Open()
	if err != nil {
		return Metadata{}, fmt.Errorf("open %s in %s: %w", ManifestPath, path, err)
	}
	defer rc.Close() //nolint:errcheck // read-only entry

	data, err := io.ReadAll(io.LimitReader(rc, maxManifestSize))
	if err != nil {
		return Metadata{}, fmt.Errorf("read %s in %s: %w", ManifestPath, path, err)
	}

	md, err = ParseManifest(data)
	if err != nil {
		return Metadata{}, fmt.Errorf("%s: %w", path, err)
	}
	return md, nil
}

// ParseManifest parses manifest bytes into Metadata and validates that a
// symbolic name is present.
func ParseManifest(data []byte) (Metadata, error) {
	attrs, err := parseMainSection(string(data))
	if err != nil {
		return Metadata{}, err
	}

	md := Metadata{Attributes: attrs}
	name, _ := md.Attribute(HeaderSymbolicName)
	md.SymbolicName = strings.TrimSpace(name)
	if md.SymbolicName == "" {
		return Metadata{}, ErrMissingSymbolicName
	}

	version, _ := md.Attribute(HeaderVersion)
	md.Version = strings.TrimSpace(version)
	if md.Version == "" {
		md.Version = DefaultVersion
	}
	return md, nil
}

// findEntry returns the zip entry whose name equals name, or nil.
func findEntry(files []*zip.File, name string) *zip.File {
	for _, f := range files {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// parseMainSection reads headers up to the first blank line. Lines starting
// with a single space continue the previous header value.
func parseMainSection(text string) (map[string]string, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	attrs := make(map[string]string)
	var (
		current string
		value   strings.Builder
	)
	flush := func() {
		if current != "" {
			attrs[current] = value.String()
		}
		current = ""
		value.Reset()
	}

	for i, line := range strings.Split(text, "\n") {
		if line == "" {
			break
		}
		if line[0] == ' ' {
			if current == "" {
				return nil, fmt.Errorf("%w: line %d: continuation without header", ErrMalformedManifest, i+1)
			}
			value.WriteString(line[1:])
			continue
		}

		name, val, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) == "" || strings.ContainsAny(name, " \t") {
			return nil, fmt.Errorf("%w: line %d: invalid header %q", ErrMalformedManifest, i+1, line)
		}
		flush()
		current = existingKey(attrs, name)
		value.WriteString(strings.TrimPrefix(val, " "))
	}
	flush()

	return attrs, nil
}

// existingKey returns the spelling already used for name in attrs so repeated
// headers with different case overwrite the same entry.
func existingKey(attrs map[string]string, name string) string {
	for k := range attrs {
		if strings.EqualFold(k, name) {
			return k
		}
	}
	return name
}
