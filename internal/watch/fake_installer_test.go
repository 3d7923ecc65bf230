// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
)

// recordingInstaller records installer calls as "action name" strings.
type recordingInstaller struct {
	mu        sync.Mutex
	calls     []string
	attempts  map[string]int
	handleAll bool
	// failures makes the first n attempts of an action fail with err.
	failures int
	err      error
	events   chan string
}

func newRecordingInstaller() *recordingInstaller {
	return &recordingInstaller{
		attempts: make(map[string]int),
		events:   make(chan string, 64),
	}
}

func (r *recordingInstaller) CanHandle(path string) bool {
	return r.handleAll || strings.HasSuffix(strings.ToLower(path), ".esa")
}

func (r *recordingInstaller) Install(_ context.Context, path string) error {
	return r.record("install", path)
}

func (r *recordingInstaller) Update(_ context.Context, path string) error {
	return r.record("update", path)
}

func (r *recordingInstaller) Uninstall(_ context.Context, path string) error {
	return r.record("uninstall", path)
}

func (r *recordingInstaller) record(action, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attempts[action]++
	if r.attempts[action] <= r.failures {
		return r.err
	}
	call := action + " " + filepath.Base(path)
	r.calls = append(r.calls, call)
	select {
	case r.events <- call:
	default:
	}
	return nil
}

func (r *recordingInstaller) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingInstaller) Attempts(action string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts[action]
}
