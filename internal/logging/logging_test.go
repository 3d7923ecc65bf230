// SPDX-License-Identifier: MPL-2.0

package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/stamina/stamina/internal/config"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      config.LogLevel
		want    log.Level
		wantErr bool
	}{
		{in: "", want: log.InfoLevel},
		{in: config.LogLevelDebug, want: log.DebugLevel},
		{in: config.LogLevelInfo, want: log.InfoLevel},
		{in: config.LogLevelWarn, want: log.WarnLevel},
		{in: config.LogLevelError, want: log.ErrorLevel},
		{in: "trace", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			t.Parallel()

			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				if !errors.Is(err, config.ErrInvalidLogLevel) {
					t.Errorf("ParseLevel(%q) error = %v, want ErrInvalidLogLevel", tt.in, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseLevel(%q) = (%v, %v), want %v", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestParseFormat_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := ParseFormat("xml"); !errors.Is(err, config.ErrInvalidLogFormat) {
		t.Errorf("ParseFormat(xml) error = %v, want ErrInvalidLogFormat", err)
	}
}

func TestNew_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := New(Options{Level: config.LogLevelWarn, Format: config.LogFormatJSON, Prefix: "stamina", Writer: &buf, NoTimestamp: true})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	logger.Info("dropped")
	logger.Warn("Command not found", "command", "hello")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one record, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("record is not JSON: %v", err)
	}
	if rec["msg"] != "Command not found" || rec["command"] != "hello" || rec["prefix"] != "stamina" {
		t.Errorf("unexpected record: %v", rec)
	}
	if _, ok := rec["time"]; ok {
		t.Error("NoTimestamp should omit the time field")
	}
}

func TestFromConfig_Logfmt(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := FromConfig(config.LogConfig{Level: config.LogLevelDebug, Format: config.LogFormatLogfmt}, &buf)
	if err != nil {
		t.Fatalf("FromConfig() error: %v", err)
	}
	logger.Debug("Waiting for command", "command", "units")

	out := buf.String()
	if !strings.Contains(out, `msg="Waiting for command"`) || !strings.Contains(out, "command=units") {
		t.Errorf("unexpected logfmt output: %q", out)
	}
}

func TestNew_InvalidOptions(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Error("New() should reject an unknown level")
	}
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Error("New() should reject an unknown format")
	}
}
