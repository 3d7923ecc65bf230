// SPDX-License-Identifier: MPL-2.0

// Package logging builds the runtime logger from configuration.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/stamina/stamina/internal/config"
)

// Options configures New.
type Options struct {
	Level  config.LogLevel
	Format config.LogFormat
	// Prefix is printed before every message. Components add their own with
	// WithPrefix.
	Prefix string
	// Writer receives log records. nil writes to stderr.
	Writer io.Writer
	// NoTimestamp omits the time of each record.
	NoTimestamp bool
}

// New creates a logger. Empty level and format fall back to info and text.
func New(opts Options) (*log.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	formatter, err := ParseFormat(opts.Format)
	if err != nil {
		return nil, err
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	return log.NewWithOptions(w, log.Options{
		Level:           level,
		Formatter:       formatter,
		Prefix:          opts.Prefix,
		ReportTimestamp: !opts.NoTimestamp,
		TimeFormat:      time.RFC3339,
	}), nil
}

// FromConfig creates the logger described by cfg.
func FromConfig(cfg config.LogConfig, w io.Writer) (*log.Logger, error) {
	return New(Options{Level: cfg.Level, Format: cfg.Format, Prefix: config.AppName, Writer: w})
}

// ParseLevel maps a configured level to a log.Level.
func ParseLevel(l config.LogLevel) (log.Level, error) {
	switch l {
	case "", config.LogLevelInfo:
		return log.InfoLevel, nil
	case config.LogLevelDebug:
		return log.DebugLevel, nil
	case config.LogLevelWarn:
		return log.WarnLevel, nil
	case config.LogLevelError:
		return log.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("logging: %w", l.Validate())
	}
}

// ParseFormat maps a configured format to a log.Formatter.
func ParseFormat(f config.LogFormat) (log.Formatter, error) {
	switch f {
	case "", config.LogFormatText:
		return log.TextFormatter, nil
	case config.LogFormatJSON:
		return log.JSONFormatter, nil
	case config.LogFormatLogfmt:
		return log.LogfmtFormatter, nil
	default:
		return 0, fmt.Errorf("logging: %w", f.Validate())
	}
}
