package chains

import (
	"sort"
	"sync"
)

// Registry maps stable chain keys (such as "ecommerce") to stored chain ids.
// It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	ids map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ids: make(map[string]string)}
}

// Set binds key to id, replacing any previous binding.
func (r *Registry) Set(key, id string) {
	r.mu.Lock()
	r.ids[key] = id
	r.mu.Unlock()
}

// Lookup returns the chain id bound to key.
func (r *Registry) Lookup(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ids[key]
	return id, ok
}

// Forget drops every key bound to id.
func (r *Registry) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range r.ids {
		if v == id {
			delete(r.ids, k)
		}
	}
}

// Keys returns the registered keys sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.ids))
	for k := range r.ids {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Entries returns a copy of the key to id map.
func (r *Registry) Entries() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.ids))
	for k, v := range r.ids {
		out[k] = v
	}
	return out
}
