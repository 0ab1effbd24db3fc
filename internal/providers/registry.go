package providers

import (
	"context"
	"sort"
	"sync"
)

// Registry holds the configured adapters. Enablement is re-read on every call
// so settings changes apply without a restart.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	enabled  func(id string) bool
}

// NewRegistry builds a registry. enabled decides per provider; nil enables
// everything registered.
func NewRegistry(enabled func(id string) bool) *Registry {
	if enabled == nil {
		enabled = func(string) bool { return true }
	}
	return &Registry{adapters: map[string]Adapter{}, enabled: enabled}
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Capabilities().ID] = a
}

// Get returns an adapter whether or not it is enabled; callers doing work on
// behalf of a user override (manual search) still get disabled providers.
func (r *Registry) Get(id string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, ok
}

// Enabled returns the enabled adapters in stable ID order.
func (r *Registry) Enabled() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		if r.enabled(id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]Adapter, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.adapters[id])
	}
	return out
}

// TestAll probes connectivity of every enabled provider and returns the
// per-provider outcome.
func (r *Registry) TestAll(ctx context.Context) map[string]error {
	results := map[string]error{}
	for _, a := range r.Enabled() {
		results[a.Capabilities().ID] = a.TestConnection(ctx)
	}
	return results
}
