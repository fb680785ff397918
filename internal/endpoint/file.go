package endpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/szibis/logship/internal/logging"
)

// File resolves from a local properties file with a servers key, reloading
// it whenever the file changes while Watch is running. Unlike ZooKeeper, a
// file without the servers key is rejected, so a half-written file never
// replaces a good endpoint list.
type File struct {
	path string

	mu        sync.RWMutex
	endpoints []Endpoint
}

// NewFile loads path and returns a resolver over its endpoints.
func NewFile(path string) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	f := &File{path: abs}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Reload reads the file again. On error the previous endpoints are kept.
func (f *File) Reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read servers file: %w", err)
	}
	eps, err := ParseServers(data, "")
	if err != nil {
		return err
	}
	if len(eps) == 0 {
		return fmt.Errorf("servers file %s: %w", f.path, ErrNoEndpoints)
	}
	f.mu.Lock()
	f.endpoints = eps
	f.mu.Unlock()
	endpointsKnown.WithLabelValues("file").Set(float64(len(eps)))
	return nil
}

// Endpoints returns a copy of the current endpoint list.
func (f *File) Endpoints() []Endpoint {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Endpoint(nil), f.endpoints...)
}

// Resolve returns one of the current endpoints at random.
func (f *File) Resolve(context.Context) (Endpoint, error) {
	f.mu.RLock()
	ep, err := pick(f.endpoints)
	f.mu.RUnlock()
	recordResolve("file", err)
	return ep, err
}

// Describe returns "file:" followed by the absolute path.
func (f *File) Describe() string {
	return "file:" + f.path
}

// Watch reloads the file on every change until ctx is cancelled. The parent
// directory is watched so that editors replacing the file by rename are
// picked up too. onReload, if non-nil, is called after each successful reload.
func (f *File) Watch(ctx context.Context, onReload func([]Endpoint)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		return err
	}
	logging.Info("watching servers file for endpoint changes", logging.F("path", f.path))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := f.Reload(); err != nil {
				logging.Error("servers file reload failed, keeping previous endpoints", logging.F(
					"path", f.path,
					"error", err.Error(),
				))
				continue
			}
			eps := f.Endpoints()
			logging.Info("servers file reloaded", logging.F("path", f.path, "endpoints", len(eps)))
			if onReload != nil {
				onReload(eps)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Error("servers file watcher error", logging.F("error", err.Error()))
		}
	}
}
