package sshbridge

import (
	"log"
	"sync"
)

// Registry tracks live bridge handles keyed by client connection id. It is
// owned by the gateway's composition root and injected where needed, so
// tests can run isolated registries.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Register stores the handle under its connection id. If a handle is already
// registered for that id it is closed first, so replacing a session never
// leaks the old remote connection.
func (r *Registry) Register(h *Handle) {
	r.mu.Lock()
	old := r.handles[h.ConnID]
	r.handles[h.ConnID] = h
	r.mu.Unlock()

	if old != nil && old != h {
		log.Printf("[sshbridge] conn=%s replacing existing bridge", h.ConnID)
		old.Close()
	}
}

// Get returns the handle for a connection id, or nil.
func (r *Registry) Get(connID string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[connID]
}

// Remove closes and unregisters the handle for connID. Idempotent: removing
// an unknown id is a no-op.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	h := r.handles[connID]
	delete(r.handles, connID)
	r.mu.Unlock()

	if h != nil {
		h.Close()
	}
}

// Len reports the number of registered bridges.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// CloseAll tears down every registered bridge, for shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.handles = make(map[string]*Handle)
	r.mu.Unlock()

	for _, h := range handles {
		h.Close()
	}
}
