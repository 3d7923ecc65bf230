// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"

	"github.com/stamina/stamina/internal/installer"
)

const (
	// defaultDebounce is the quiet period before pending changes are applied.
	// Copying an artifact usually produces a burst of write events; they
	// coalesce into a single install.
	defaultDebounce = 500 * time.Millisecond

	// defaultMaxRetries bounds the retries of a failed installer call.
	defaultMaxRetries = 3

	// defaultRetryInterval is the first backoff interval between retries.
	defaultRetryInterval = 200 * time.Millisecond
)

// ErrInvalidWatchConfig is the sentinel wrapped by InvalidWatchConfigError.
var ErrInvalidWatchConfig = errors.New("invalid watch config")

// defaultIgnores lists path patterns that never reach the installer: editor
// swap files, partial downloads and OS metadata.
var defaultIgnores = []string{
	"**/.git/**",
	"**/*.swp",
	"**/*.swo",
	"**/*~",
	"**/*.part",
	"**/*.tmp",
	"**/.DS_Store",
}

type (
	// Config holds the parameters for a Watcher.
	Config struct {
		// BaseDir is the deploy directory. An empty value defaults to the
		// current working directory.
		BaseDir string

		// Patterns are doublestar glob patterns, relative to BaseDir, that
		// select candidate artifacts. An empty slice considers every
		// non-ignored file and leaves the decision to the installer.
		Patterns []string

		// Ignore are additional doublestar patterns merged with the built-in
		// default ignores.
		Ignore []string

		// Debounce is the quiet period after the last event before changes
		// are applied. Zero or negative values fall back to defaultDebounce.
		Debounce time.Duration

		// Installer receives the install, update and uninstall calls. Required.
		Installer installer.ArtifactInstaller

		// MaxRetries bounds the retries of a failed installer call. Zero falls
		// back to defaultMaxRetries; a negative value disables retries.
		MaxRetries int

		// RetryInterval is the initial backoff interval. Zero or negative
		// values fall back to defaultRetryInterval.
		RetryInterval time.Duration

		// Logger receives watcher messages. nil discards them.
		Logger *log.Logger
	}

	// InvalidWatchConfigError collects every problem found by Config.Validate.
	InvalidWatchConfigError struct {
		FieldErrors []error
	}
)

// Validate checks the glob patterns and the base directory.
func (c Config) Validate() error {
	var errs []error
	for i, pat := range c.Patterns {
		if err := validatePattern(pat); err != nil {
			errs = append(errs, fmt.Errorf("patterns[%d]: %w", i, err))
		}
	}
	for i, pat := range c.Ignore {
		if err := validatePattern(pat); err != nil {
			errs = append(errs, fmt.Errorf("ignore[%d]: %w", i, err))
		}
	}
	if c.BaseDir != "" && strings.TrimSpace(c.BaseDir) == "" {
		errs = append(errs, errors.New("base dir: must not be blank"))
	}
	if len(errs) > 0 {
		return &InvalidWatchConfigError{FieldErrors: errs}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidWatchConfigError) Error() string {
	return fmt.Sprintf("%s: %d field error(s): %v", ErrInvalidWatchConfig, len(e.FieldErrors), errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidWatchConfig so callers can use errors.Is.
func (e *InvalidWatchConfigError) Unwrap() error {
	return ErrInvalidWatchConfig
}

func validatePattern(pat string) error {
	if strings.TrimSpace(pat) == "" {
		return errors.New("pattern must not be empty")
	}
	if !doublestar.ValidatePattern(pat) {
		return fmt.Errorf("invalid glob %q: %w", pat, doublestar.ErrBadPattern)
	}
	return nil
}
