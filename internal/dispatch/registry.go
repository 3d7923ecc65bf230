// SPDX-License-Identifier: MPL-2.0

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// ErrDuplicateHandler is returned when a name already has a handler.
var ErrDuplicateHandler = errors.New("handler already registered")

// ServiceRegistry is an in-process Registry. Handlers come and go at any time;
// waiters are woken on every registration.
type ServiceRegistry struct {
	mu       sync.Mutex
	handlers map[string]*registration
	changed  chan struct{}
}

// registration is a single Register call; its pointer identity lets a
// deregister func remove only the registration it created.
type registration struct {
	handler Handler
}

// NewServiceRegistry creates an empty registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{
		handlers: make(map[string]*registration),
		changed:  make(chan struct{}),
	}
}

// Register makes h available under name. The returned function removes it
// again; calling it more than once is harmless.
func (r *ServiceRegistry) Register(name string, h Handler) (deregister func(), err error) {
	if name == "" || h == nil {
		return nil, fmt.Errorf("register handler %q: name and handler are required", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return nil, fmt.Errorf("%q: %w", name, ErrDuplicateHandler)
	}
	reg := &registration{handler: h}
	r.handlers[name] = reg
	close(r.changed)
	r.changed = make(chan struct{})

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.handlers[name] == reg {
				delete(r.handlers, name)
			}
		})
	}, nil
}

// Lookup returns the handler registered under name without waiting.
func (r *ServiceRegistry) Lookup(name string) (Handler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.handlers[name]
	if !ok {
		return nil, false
	}
	return reg.handler, true
}

// Names returns the registered handler names in sorted order.
func (r *ServiceRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// AwaitOne implements Registry.
func (r *ServiceRegistry) AwaitOne(ctx context.Context, name string, timeout time.Duration) (Handler, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		r.mu.Lock()
		reg, ok := r.handlers[name]
		changed := r.changed
		r.mu.Unlock()

		if ok {
			return reg.handler, true, nil
		}

		select {
		case <-changed:
		case <-timer.C:
			return nil, false, nil
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}
