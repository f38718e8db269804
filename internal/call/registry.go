package call

import (
	"sort"
	"sync"
)

// Registry holds the live session of every connected call. A call has at
// most one.
type Registry struct {
	mu   sync.Mutex
	live map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{live: map[string]*Session{}}
}

func (r *Registry) Add(callID string, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.live[callID]; ok && cur != s {
		return ErrSessionExists
	}
	r.live[callID] = s
	return nil
}

// Remove drops callID if s still owns it.
func (r *Registry) Remove(callID string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live[callID] == s {
		delete(r.live, callID)
	}
}

func (r *Registry) Get(callID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.live[callID]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// List returns the live sessions ordered by call id.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	ids := make([]string, 0, len(r.live))
	for id := range r.live {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.live[id])
	}
	r.mu.Unlock()
	return out
}
