// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stamina/stamina/internal/issue"
	"github.com/stamina/stamina/internal/testutil"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	testutil.MustWriteFile(t, path, []byte(content))
	return path
}

func load(t *testing.T, opts LoadOptions) (*Config, error) {
	t.Helper()
	return NewProvider().Load(context.Background(), opts)
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.DeployDir != "deploy" || cfg.ArtifactSuffix != ".esa" || cfg.StateFile != "" {
		t.Errorf("unexpected paths: %+v", cfg)
	}
	if cfg.Command.Timeout != 30*time.Second {
		t.Errorf("Command.Timeout = %s, want 30s", cfg.Command.Timeout)
	}
	if cfg.Watch.Debounce != 500*time.Millisecond || cfg.Watch.MaxRetries != 3 || len(cfg.Watch.Ignore) != 0 {
		t.Errorf("unexpected watch config: %+v", cfg.Watch)
	}
	if cfg.Log.Level != LogLevelInfo || cfg.Log.Format != LogFormatText {
		t.Errorf("unexpected log config: %+v", cfg.Log)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Parallel()

	cfg, err := load(t, LoadOptions{ConfigDirPath: t.TempDir(), IgnoreEnv: true})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Source != "" {
		t.Errorf("Source = %q, want empty", cfg.Source)
	}
	want := DefaultConfig()
	if cfg.DeployDir != want.DeployDir || cfg.Command.Timeout != want.Command.Timeout || cfg.Log.Level != want.Log.Level {
		t.Errorf("Load() = %+v, want defaults", cfg)
	}
}

func TestLoad_FromConfigDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, `
deploy_dir: "/srv/stamina/deploy"
state_file: "/var/lib/stamina/units.toml"
command: timeout: "2m"
watch: {
	debounce: "250ms"
	ignore: ["**/staging/**"]
	max_retries: -1
}
log: level: "debug"
`)

	cfg, err := load(t, LoadOptions{ConfigDirPath: dir, IgnoreEnv: true})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Source != path {
		t.Errorf("Source = %q, want %q", cfg.Source, path)
	}
	if cfg.DeployDir != "/srv/stamina/deploy" || cfg.StateFile != "/var/lib/stamina/units.toml" {
		t.Errorf("paths not loaded: %+v", cfg)
	}
	if cfg.Command.Timeout != 2*time.Minute {
		t.Errorf("Command.Timeout = %s, want 2m", cfg.Command.Timeout)
	}
	if cfg.Watch.Debounce != 250*time.Millisecond || cfg.Watch.MaxRetries != -1 {
		t.Errorf("watch not loaded: %+v", cfg.Watch)
	}
	if !slices.Equal(cfg.Watch.Ignore, []string{"**/staging/**"}) {
		t.Errorf("Watch.Ignore = %v", cfg.Watch.Ignore)
	}
	if cfg.Log.Level != LogLevelDebug {
		t.Errorf("Log.Level = %s, want debug", cfg.Log.Level)
	}
	// Unset values keep their defaults.
	if cfg.ArtifactSuffix != ".esa" || cfg.Log.Format != LogFormatText {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoad_ExplicitFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, t.TempDir(), `artifact_suffix: ".unit"`)
	cfg, err := load(t, LoadOptions{ConfigFilePath: path, ConfigDirPath: t.TempDir(), IgnoreEnv: true})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ArtifactSuffix != ".unit" || cfg.Source != path {
		t.Errorf("Load() = %+v", cfg)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "syntax error", content: `deploy_dir: "unterminated`, want: "config.cue"},
		{name: "unknown field", content: `deploy_directory: "x"`, want: "deploy_directory"},
		{name: "bad duration", content: `command: timeout: "soon"`, want: "timeout"},
		{name: "bad level", content: `log: level: "trace"`, want: "level"},
		{name: "bad suffix", content: `artifact_suffix: "esa"`, want: "artifact_suffix"},
		{name: "retries below -1", content: `watch: max_retries: -2`, want: "max_retries"},
		{name: "oversized file", content: "// " + strings.Repeat("x", int(MaxConfigFileSize)), want: "exceeds maximum"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			writeConfig(t, dir, tt.content)
			_, err := load(t, LoadOptions{ConfigDirPath: dir, IgnoreEnv: true})
			if err == nil {
				t.Fatal("Load() should fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}

			var ae *issue.ActionableError
			if !errors.As(err, &ae) {
				t.Fatalf("error should be *issue.ActionableError, got %T", err)
			}
			if ae.Issue != issue.ConfigLoadFailedId || !ae.HasSuggestions() {
				t.Errorf("actionable error = %+v", ae)
			}
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := load(t, LoadOptions{ConfigFilePath: filepath.Join(t.TempDir(), "absent.cue"), IgnoreEnv: true})
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("Load() error = %v, want not found", err)
	}
}

func TestLoad_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewProvider().Load(ctx, LoadOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Load() error = %v, want context.Canceled", err)
	}
}

// Environment tests mutate process state and must not run in parallel.
func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `deploy_dir: "from-file"
command: timeout: "10s"`)

	t.Setenv("STAMINA_DEPLOY_DIR", "from-env")
	t.Setenv("STAMINA_WATCH_MAX_RETRIES", "5")
	t.Setenv("STAMINA_LOG_FORMAT", "json")

	cfg, err := load(t, LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DeployDir != "from-env" {
		t.Errorf("DeployDir = %q, want env override", cfg.DeployDir)
	}
	if cfg.Command.Timeout != 10*time.Second {
		t.Errorf("Command.Timeout = %s, want file value", cfg.Command.Timeout)
	}
	if cfg.Watch.MaxRetries != 5 || cfg.Log.Format != LogFormatJSON {
		t.Errorf("env overrides not applied: %+v", cfg)
	}

	ignored, err := load(t, LoadOptions{ConfigDirPath: dir, IgnoreEnv: true})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if ignored.DeployDir != "from-file" {
		t.Errorf("IgnoreEnv: DeployDir = %q, want file value", ignored.DeployDir)
	}
}

func TestLoad_InvalidEnvOverride(t *testing.T) {
	t.Setenv("STAMINA_LOG_LEVEL", "loud")

	_, err := load(t, LoadOptions{ConfigDirPath: t.TempDir()})
	if !errors.Is(err, ErrInvalidConfig) || !errors.Is(err, ErrInvalidLogLevel) {
		t.Errorf("Load() error = %v, want invalid log level", err)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.DeployDir = " "
	cfg.ArtifactSuffix = "esa"
	cfg.Command.Timeout = 0
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	var configErr *InvalidConfigError
	if !errors.As(err, &configErr) {
		t.Fatalf("Validate() error = %v, want *InvalidConfigError", err)
	}
	if len(configErr.FieldErrors) != 4 {
		t.Errorf("expected 4 field errors, got %d: %v", len(configErr.FieldErrors), configErr.FieldErrors)
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Error("error should wrap ErrInvalidConfig")
	}
}

func TestCreateDefaultConfig(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "stamina")
	path, created, err := CreateDefaultConfig(dir)
	if err != nil {
		t.Fatalf("CreateDefaultConfig() error: %v", err)
	}
	if !created || filepath.Dir(path) != dir {
		t.Errorf("CreateDefaultConfig() = (%q, %v)", path, created)
	}

	// The generated file must load back to the defaults.
	cfg, err := load(t, LoadOptions{ConfigFilePath: path, IgnoreEnv: true})
	if err != nil {
		t.Fatalf("loading generated config: %v", err)
	}
	def := DefaultConfig()
	if cfg.Command.Timeout != def.Command.Timeout || cfg.Watch.Debounce != def.Watch.Debounce || cfg.DeployDir != def.DeployDir {
		t.Errorf("generated config loads as %+v", cfg)
	}

	// An existing file is left alone.
	testutil.MustWriteFile(t, path, []byte(`deploy_dir: "custom"`))
	if _, created, err := CreateDefaultConfig(dir); err != nil || created {
		t.Errorf("second CreateDefaultConfig() = (%v, %v), want untouched", created, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `deploy_dir: "custom"` {
		t.Errorf("existing config overwritten: %q", data)
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	tests := map[time.Duration]string{
		30 * time.Second:        "30s",
		500 * time.Millisecond:  "500ms",
		time.Minute:             "1m",
		time.Hour:               "1h",
		90 * time.Second:        "1m30s",
		time.Hour + time.Minute: "1h1m",
	}
	for in, want := range tests {
		if got := formatDuration(in); got != want {
			t.Errorf("formatDuration(%s) = %q, want %q", in, got, want)
		}
	}
}
