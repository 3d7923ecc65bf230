// SPDX-License-Identifier: MPL-2.0

package handlers

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stamina/stamina/internal/dispatch"
	"github.com/stamina/stamina/internal/testutil"
	"github.com/stamina/stamina/internal/unittree"
)

func execContext(args ...string) (*dispatch.ExecutionContext, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	return &dispatch.ExecutionContext{
		Args:    args,
		Stdin:   strings.NewReader(""),
		Stdout:  &stdout,
		Stderr:  &stderr,
		WorkDir: "",
	}, &stdout, &stderr
}

func openTree(t *testing.T) *unittree.Tree {
	t.Helper()
	tree, err := unittree.Open(unittree.Options{})
	if err != nil {
		t.Fatalf("unittree.Open() error: %v", err)
	}
	return tree
}

func TestRegisterBuiltins(t *testing.T) {
	t.Parallel()

	registry := dispatch.NewServiceRegistry()
	deregister, err := RegisterBuiltins(registry, Deps{Root: openTree(t)})
	if err != nil {
		t.Fatalf("RegisterBuiltins() error: %v", err)
	}

	want := []string{NameServe, NameShell, NameStatus, NameUnits}
	slices.Sort(want)
	if got := registry.Names(); !slices.Equal(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}

	deregister()
	if got := registry.Names(); len(got) != 0 {
		t.Errorf("Names() after deregister = %v, want none", got)
	}
}

func TestRegisterBuiltins_RollsBackOnConflict(t *testing.T) {
	t.Parallel()

	registry := dispatch.NewServiceRegistry()
	if _, err := registry.Register(NameStatus, Serve(nil)); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	_, err := RegisterBuiltins(registry, Deps{Root: openTree(t)})
	if !errors.Is(err, dispatch.ErrDuplicateHandler) {
		t.Fatalf("RegisterBuiltins() error = %v, want ErrDuplicateHandler", err)
	}
	if got := registry.Names(); !slices.Equal(got, []string{NameStatus}) {
		t.Errorf("partial registration left behind: %v", got)
	}
}

func TestRegisterBuiltins_RequiresRoot(t *testing.T) {
	t.Parallel()

	if _, err := RegisterBuiltins(dispatch.NewServiceRegistry(), Deps{}); err == nil {
		t.Error("RegisterBuiltins() without root should fail")
	}
}

func TestUnits(t *testing.T) {
	t.Parallel()

	tree := openTree(t)
	h := &Units{Root: tree}

	ec, stdout, _ := execContext()
	keep, err := h.Execute(context.Background(), ec)
	if err != nil || keep {
		t.Fatalf("Execute() = (%v, %v), want (false, nil)", keep, err)
	}
	if !strings.Contains(stdout.String(), "No deployment units installed") {
		t.Errorf("empty listing = %q", stdout.String())
	}

	dir := t.TempDir()
	ctx := context.Background()
	for _, a := range []struct{ file, name, version string }{
		{"a.esa", "org.example.alpha", "1.0.0"},
		{"b.esa", "org.example.beta", "2.3.4"},
	} {
		path := testutil.WriteArtifact(t, dir, a.file, a.name, a.version)
		unit, err := tree.Install(ctx, unittree.FileLocation(path))
		if err != nil {
			t.Fatalf("Install(%s) error: %v", a.file, err)
		}
		if a.name == "org.example.alpha" {
			if err := unit.Start(ctx); err != nil {
				t.Fatalf("Start() error: %v", err)
			}
		}
	}

	ec, stdout, _ = execContext()
	if _, err := h.Execute(ctx, ec); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	out := stdout.String()
	for _, want := range []string{"SYMBOLIC NAME", "org.example.alpha", "2.3.4", "active", "installed", "a.esa"} {
		if !strings.Contains(out, want) {
			t.Errorf("listing missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "org.example.alpha") > strings.Index(out, "org.example.beta") {
		t.Errorf("units not ordered by id:\n%s", out)
	}
}

func TestShell(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	realWorkDir, err := filepath.EvalSymlinks(workDir)
	if err != nil {
		t.Fatalf("EvalSymlinks() error: %v", err)
	}

	tests := []struct {
		name       string
		args       []string
		env        []string
		wantStdout string
		wantErr    error
		wantStatus int
	}{
		{name: "joined arguments", args: []string{"echo", "Hello", "mr", "bond"}, wantStdout: "Hello mr bond\n"},
		{name: "single script argument", args: []string{"echo one; echo two"}, wantStdout: "one\ntwo\n"},
		{name: "working directory", args: []string{"pwd"}, wantStdout: realWorkDir + "\n"},
		{name: "environment", args: []string{`echo "$GREETING"`}, env: []string{"GREETING=hi"}, wantStdout: "hi\n"},
		{name: "non-zero exit", args: []string{"exit 3"}, wantStatus: 3},
		{name: "empty script", args: nil, wantErr: ErrEmptyScript},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := &Shell{Env: tt.env}
			ec, stdout, _ := execContext(tt.args...)
			ec.WorkDir = realWorkDir

			keep, err := h.Execute(context.Background(), ec)
			if keep {
				t.Error("sh must not keep the host running")
			}
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Execute() error = %v, want %v", err, tt.wantErr)
				}
			case tt.wantStatus != 0:
				var exitErr *ScriptExitError
				if !errors.As(err, &exitErr) || exitErr.Status != tt.wantStatus {
					t.Errorf("Execute() error = %v, want exit status %d", err, tt.wantStatus)
				}
			default:
				if err != nil {
					t.Fatalf("Execute() error: %v", err)
				}
				if stdout.String() != tt.wantStdout {
					t.Errorf("stdout = %q, want %q", stdout.String(), tt.wantStdout)
				}
			}
		})
	}
}

func TestShell_ParseError(t *testing.T) {
	t.Parallel()

	ec, _, _ := execContext("if then fi (")
	if _, err := (&Shell{}).Execute(context.Background(), ec); err == nil || !strings.Contains(err.Error(), "parse script") {
		t.Errorf("Execute() error = %v, want parse error", err)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	h := &Status{}
	stats, err := h.Collect(context.Background())
	if err != nil {
		t.Skipf("process statistics unavailable: %v", err)
	}
	if stats.PID != int32(os.Getpid()) { //nolint:gosec // test pid
		t.Errorf("PID = %d, want %d", stats.PID, os.Getpid())
	}
	if stats.RSS == 0 || stats.Goroutines == 0 {
		t.Errorf("stats look empty: %+v", stats)
	}

	ec, stdout, _ := execContext()
	keep, err := h.Execute(context.Background(), ec)
	if err != nil || keep {
		t.Fatalf("Execute() = (%v, %v), want (false, nil)", keep, err)
	}
	for _, label := range []string{"pid", "uptime", "rss", "goroutines"} {
		if !strings.Contains(stdout.String(), label) {
			t.Errorf("status output missing %q:\n%s", label, stdout.String())
		}
	}
}

func TestRenderStatus(t *testing.T) {
	t.Parallel()

	out := RenderStatus(ProcessStats{
		PID:        42,
		Hostname:   "box",
		Platform:   "linux ",
		Uptime:     90 * time.Second,
		RSS:        3 * 1024 * 1024,
		Threads:    7,
		Goroutines: 5,
		MemUsedPct: 12.34,
	})
	for _, want := range []string{"42", "box", "1m30s", "3.0 MiB", "12.3%"} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderStatus() missing %q:\n%s", want, out)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	t.Parallel()

	tests := map[uint64]string{
		512:             "512 B",
		2048:            "2.0 KiB",
		5 * 1024 * 1024: "5.0 MiB",
	}
	for in, want := range tests {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestServe(t *testing.T) {
	t.Parallel()

	logger, logs := testutil.NewLogger()
	ec, _, _ := execContext()
	keep, err := Serve(logger).Execute(context.Background(), ec)
	if err != nil || !keep {
		t.Fatalf("Execute() = (%v, %v), want (true, nil)", keep, err)
	}
	if !logs.Contains("keep running") {
		t.Errorf("expected serve log, got:\n%s", logs.String())
	}
}
