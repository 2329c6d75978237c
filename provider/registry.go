package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the backend adapters one engine was constructed with.
// It is populated explicitly at construction time; there is no
// package-level registration.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a registry holding the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Register adds a provider, replacing any provider with the same name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get retrieves a provider by name.
// Returns an error if the provider is not present.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown provider: %q (available: %v)", name, r.Names())
	}
	return p, nil
}

// Names returns the names of all registered providers, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has checks whether a provider is registered under the given name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[name]
	return ok
}

// Listers returns, in name order, the registered providers that can
// enumerate their models.
func (r *Registry) Listers() []ModelLister {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	listers := make([]ModelLister, 0, len(names))
	for _, name := range names {
		if l, ok := r.providers[name].(ModelLister); ok {
			listers = append(listers, l)
		}
	}
	return listers
}
