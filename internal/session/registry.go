package session

import (
	"fmt"
	"sync"
)

// Registry is the set of currently connected sessions.
//
// Membership has no ordering. ForEach iterates over a copy taken under the
// read lock, so sessions may be added or removed while a broadcast is in
// progress.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]Session)}
}

// Add registers s. Adding a second session with the same ID fails.
func (r *Registry) Add(s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, s.ID())
	}
	r.sessions[s.ID()] = s
	return nil
}

// Remove unregisters the session with the given ID and reports whether it
// was present. Removing an unknown ID is a no-op.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; !exists {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Get returns the session with the given ID.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns a copy of the current membership.
func (r *Registry) List() []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	return out
}

// ForEach calls fn for every session registered when ForEach was called.
// fn runs without the registry lock held and may call Remove.
func (r *Registry) ForEach(fn func(Session)) {
	for _, s := range r.List() {
		fn(s)
	}
}

// CloseAll removes and closes every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]Session)
	r.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
}
