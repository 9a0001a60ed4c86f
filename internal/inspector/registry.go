package inspector

import (
	"fmt"
	"sort"
	"sync"
)

// registry maps connection ids to live sessions. Lookups share the read lock;
// nothing performs network I/O while holding it.
type registry struct {
	mu      sync.RWMutex
	clients map[ConnectionID]*session
}

func newRegistry() *registry {
	return &registry{clients: make(map[ConnectionID]*session)}
}

// insert registers s. Ids are unique by construction, so a duplicate means the
// id allocator is broken.
func (r *registry) insert(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[s.client.ID]; exists {
		panic(fmt.Sprintf("inspector: connection id %d registered twice", s.client.ID))
	}
	r.clients[s.client.ID] = s
	ConnectedClients.Inc()
}

// remove deregisters id and reports whether it was present.
func (r *registry) remove(id ConnectionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[id]; !ok {
		return false
	}
	delete(r.clients, id)
	ConnectedClients.Dec()
	return true
}

func (r *registry) get(id ConnectionID) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.clients[id]
	return s, ok
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// snapshot returns the sessions registered at the time of the call, ordered by id.
func (r *registry) snapshot() []*session {
	r.mu.RLock()
	out := make([]*session, 0, len(r.clients))
	for _, s := range r.clients {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].client.ID < out[j].client.ID })
	return out
}

// forEach calls fn for every session in a snapshot; fn runs without the lock held.
func (r *registry) forEach(fn func(*session)) {
	for _, s := range r.snapshot() {
		fn(s)
	}
}
