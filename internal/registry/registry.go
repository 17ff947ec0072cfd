// Package registry implements ResourceRegistry: a single process-wide,
// mutex-protected table of open resource handles (file descriptors, Redis
// clients, OTLP HTTP clients), so process shutdown can drain them
// deterministically (spec.md §3, §9).
package registry

import "sync"

// Handle is anything a sink registers on creation and unregisters on Close.
type Handle interface {
	Close() error
}

// Registry tracks open handles by an opaque id. Registration and
// unregistration are O(1).
type Registry struct {
	mu      sync.Mutex
	handles map[string]Handle
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{handles: make(map[string]Handle)}
}

// Register adds h under id, replacing any prior handle registered at id.
func (r *Registry) Register(id string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[id] = h
}

// Unregister removes id from the table without closing it.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, id)
}

// Len reports the number of currently registered handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// CloseAll closes every registered handle, collecting (not short-circuiting
// on) any errors, and empties the table. Used during process shutdown to
// drain resources deterministically regardless of individual failures.
func (r *Registry) CloseAll() []error {
	r.mu.Lock()
	handles := make(map[string]Handle, len(r.handles))
	for k, v := range r.handles {
		handles[k] = v
	}
	r.handles = make(map[string]Handle)
	r.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
