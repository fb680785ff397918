// Package lifecycle holds the process shutdown hooks.
//
// Components register a hook when they start. The process runs all hooks
// once, in reverse registration order, when it receives a termination
// signal. Tests can drive the same hooks through a Registry of their own.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/szibis/logship/internal/logging"
)

// Hook releases a component. It should return once ctx is done.
type Hook func(ctx context.Context) error

type entry struct {
	name string
	hook Hook
}

// Registry is an ordered set of shutdown hooks that runs at most once.
type Registry struct {
	mu      sync.Mutex
	entries []entry
	ran     bool
	done    chan struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{done: make(chan struct{})}
}

// Register adds a hook. Hooks registered after Run has started are run
// immediately with a background context.
func (r *Registry) Register(name string, hook Hook) {
	r.mu.Lock()
	if r.ran {
		r.mu.Unlock()
		runHook(context.Background(), name, hook)
		return
	}
	r.entries = append(r.entries, entry{name: name, hook: hook})
	r.mu.Unlock()
}

// Run executes every hook in reverse registration order. Hook errors are
// logged and do not stop the remaining hooks. Only the first call runs the
// hooks; later calls wait for it to finish or for ctx to end.
func (r *Registry) Run(ctx context.Context) {
	r.mu.Lock()
	if r.ran {
		r.mu.Unlock()
		select {
		case <-r.done:
		case <-ctx.Done():
		}
		return
	}
	r.ran = true
	entries := r.entries
	r.entries = nil
	r.mu.Unlock()

	defer close(r.done)
	for i := len(entries) - 1; i >= 0; i-- {
		runHook(ctx, entries[i].name, entries[i].hook)
	}
}

// Len returns the number of hooks waiting to run.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func runHook(ctx context.Context, name string, hook Hook) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			logging.Error("shutdown hook panicked", logging.F("hook", name, "panic", p))
		}
	}()
	if err := hook(ctx); err != nil {
		logging.Error("shutdown hook failed", logging.F(
			"hook", name,
			"error", err.Error(),
			"duration_ms", time.Since(start).Milliseconds(),
		))
		return
	}
	logging.Debug("shutdown hook completed", logging.F(
		"hook", name,
		"duration_ms", time.Since(start).Milliseconds(),
	))
}

var defaultRegistry = NewRegistry()

// Register adds a hook to the process-wide registry.
func Register(name string, hook Hook) {
	defaultRegistry.Register(name, hook)
}

// Run runs the process-wide hooks.
func Run(ctx context.Context) {
	defaultRegistry.Run(ctx)
}
