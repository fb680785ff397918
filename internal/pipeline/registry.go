package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/szibis/logship/internal/lifecycle"
)

// Registry maps pipeline keys to running pipelines. Pipelines are created on
// first use and stay registered for the life of the process.
type Registry struct {
	m sync.Map // key -> *registryEntry
}

type registryEntry struct {
	once sync.Once
	p    atomic.Pointer[Pipeline]
	err  error
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// GetOrCreate returns the pipeline for key, calling factory if there is
// none. Concurrent callers for the same key all get the same pipeline and
// factory runs at most once per successful creation. A failed factory is
// not cached; the next call tries again.
func (r *Registry) GetOrCreate(key string, factory func() (*Pipeline, error)) (*Pipeline, error) {
	v, _ := r.m.LoadOrStore(key, &registryEntry{})
	e := v.(*registryEntry)
	e.once.Do(func() {
		p, err := factory()
		if err != nil {
			e.err = err
			r.m.CompareAndDelete(key, e)
			return
		}
		e.p.Store(p)
	})
	if p := e.p.Load(); p != nil {
		return p, nil
	}
	if e.err == nil {
		return nil, errors.New("pipeline factory returned nil")
	}
	return nil, e.err
}

// Get returns the pipeline for key if it exists.
func (r *Registry) Get(key string) (*Pipeline, bool) {
	v, ok := r.m.Load(key)
	if !ok {
		return nil, false
	}
	p := v.(*registryEntry).p.Load()
	return p, p != nil
}

// Len is the number of running pipelines.
func (r *Registry) Len() int {
	n := 0
	r.each(func(*Pipeline) { n++ })
	return n
}

// Keys returns the keys of running pipelines in sorted order.
func (r *Registry) Keys() []string {
	var keys []string
	r.each(func(p *Pipeline) { keys = append(keys, p.Key()) })
	sort.Strings(keys)
	return keys
}

// Pipelines returns the running pipelines ordered by key.
func (r *Registry) Pipelines() []*Pipeline {
	var ps []*Pipeline
	r.each(func(p *Pipeline) { ps = append(ps, p) })
	sort.Slice(ps, func(i, j int) bool { return ps[i].Key() < ps[j].Key() })
	return ps
}

func (r *Registry) each(fn func(*Pipeline)) {
	r.m.Range(func(_, v any) bool {
		if p := v.(*registryEntry).p.Load(); p != nil {
			fn(p)
		}
		return true
	})
}

// ShutdownAll shuts every pipeline down in parallel and returns the
// joined shutdown errors.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	ps := r.Pipelines()
	errs := make([]error, len(ps))
	var wg sync.WaitGroup
	for i, p := range ps {
		wg.Add(1)
		go func(i int, p *Pipeline) {
			defer wg.Done()
			errs[i] = p.Shutdown(ctx)
		}(i, p)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Default is the process-wide registry used by Get.
var Default = NewRegistry()

// Get returns the pipeline for opts from the Default registry, creating it
// on first use. New pipelines register their Shutdown with the lifecycle
// package so they are drained on process exit.
func Get(opts Options) (*Pipeline, error) {
	key := opts.Key()
	return Default.GetOrCreate(key, func() (*Pipeline, error) {
		p, err := New(opts)
		if err != nil {
			return nil, err
		}
		lifecycle.Register("pipeline "+key, p.Shutdown)
		return p, nil
	})
}
