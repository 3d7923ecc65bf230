// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// LogLevelDebug enables debug output.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo is the default level.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn reports warnings and errors only.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError reports errors only.
	LogLevelError LogLevel = "error"

	// LogFormatText is the human readable log format.
	LogFormatText LogFormat = "text"
	// LogFormatJSON writes one JSON object per line.
	LogFormatJSON LogFormat = "json"
	// LogFormatLogfmt writes logfmt key=value lines.
	LogFormatLogfmt LogFormat = "logfmt"
)

var (
	// ErrInvalidLogLevel is returned for an unknown log level.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidLogFormat is returned for an unknown log format.
	ErrInvalidLogFormat = errors.New("invalid log format")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// LogLevel is the minimum level of emitted log records.
	LogLevel string

	// LogFormat selects the log record encoding.
	LogFormat string

	// Config is the runtime configuration.
	Config struct {
		// DeployDir is the directory watched for artifacts.
		DeployDir string `json:"deploy_dir" mapstructure:"deploy_dir"`
		// ArtifactSuffix is the file suffix of deployable artifacts.
		ArtifactSuffix string `json:"artifact_suffix" mapstructure:"artifact_suffix"`
		// StateFile persists the unit tree between runs. Empty keeps it in memory.
		StateFile string `json:"state_file" mapstructure:"state_file"`
		// Command configures command dispatch.
		Command CommandConfig `json:"command" mapstructure:"command"`
		// Watch configures the deploy directory watcher.
		Watch WatchConfig `json:"watch" mapstructure:"watch"`
		// Log configures logging.
		Log LogConfig `json:"log" mapstructure:"log"`

		// Source is the config file the values were read from, if any.
		Source string `json:"-" mapstructure:"-"`
	}

	// CommandConfig configures command dispatch.
	CommandConfig struct {
		// Timeout bounds the wait for a command handler.
		Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	}

	// WatchConfig configures the deploy directory watcher.
	WatchConfig struct {
		Debounce time.Duration `json:"debounce" mapstructure:"debounce"`
		Ignore   []string      `json:"ignore" mapstructure:"ignore"`
		// MaxRetries bounds the retries of a failed deploy. 0 and -1 disable
		// retries.
		MaxRetries int `json:"max_retries" mapstructure:"max_retries"`
	}

	// LogConfig configures logging.
	LogConfig struct {
		Level  LogLevel  `json:"level" mapstructure:"level"`
		Format LogFormat `json:"format" mapstructure:"format"`
	}

	// InvalidConfigError collects every invalid field of a Config.
	InvalidConfigError struct {
		FieldErrors []error
	}
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		DeployDir:      "deploy",
		ArtifactSuffix: ".esa",
		Command: CommandConfig{
			Timeout: 30 * time.Second,
		},
		Watch: WatchConfig{
			Debounce:   500 * time.Millisecond,
			Ignore:     []string{},
			MaxRetries: 3,
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: LogFormatText,
		},
	}
}

// Validate checks the values that the file schema cannot cover, such as
// those set through environment variables.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DeployDir) == "" {
		errs = append(errs, errors.New("deploy_dir: must not be empty"))
	}
	if !strings.HasPrefix(c.ArtifactSuffix, ".") || len(c.ArtifactSuffix) < 2 {
		errs = append(errs, fmt.Errorf("artifact_suffix: %q must start with a dot", c.ArtifactSuffix))
	}
	if c.Command.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("command.timeout: %s must be positive", c.Command.Timeout))
	}
	if c.Watch.Debounce <= 0 {
		errs = append(errs, fmt.Errorf("watch.debounce: %s must be positive", c.Watch.Debounce))
	}
	if c.Watch.MaxRetries < -1 {
		errs = append(errs, fmt.Errorf("watch.max_retries: %d must be -1 or greater", c.Watch.MaxRetries))
	}
	if err := c.Log.Level.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if err := c.Log.Format.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("log.format: %w", err))
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %d field error(s): %v", len(e.FieldErrors), errors.Join(e.FieldErrors...))
}

// Unwrap exposes ErrInvalidConfig and every field error to errors.Is.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}

// String returns the level name.
func (l LogLevel) String() string { return string(l) }

// Validate reports an unknown level.
func (l LogLevel) Validate() error {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return nil
	default:
		return fmt.Errorf("%w: %q (valid: debug, info, warn, error)", ErrInvalidLogLevel, string(l))
	}
}

// String returns the format name.
func (f LogFormat) String() string { return string(f) }

// Validate reports an unknown format.
func (f LogFormat) Validate() error {
	switch f {
	case LogFormatText, LogFormatJSON, LogFormatLogfmt:
		return nil
	default:
		return fmt.Errorf("%w: %q (valid: text, json, logfmt)", ErrInvalidLogFormat, string(f))
	}
}
