package catalog

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/plumehq/plume/provider"
)

// Registry answers capability and eligibility queries for the engine.
// Until the first successful refresh (or Seed) every query fails closed:
// no model is known, no model is eligible. The engine never guesses a
// provider for a model it has not been told about.
type Registry struct {
	mu        sync.RWMutex
	models    map[string]Model
	order     []string
	refreshed bool

	enabled EnabledSet
	log     *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for refresh reporting.
func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) {
		r.log = log
	}
}

// NewRegistry creates an empty registry gated by the given enabled set.
// A nil enabled set enables everything.
func NewRegistry(enabled EnabledSet, opts ...Option) *Registry {
	if enabled == nil {
		enabled = AllEnabled()
	}
	r := &Registry{
		models:  make(map[string]Model),
		enabled: enabled,
		log:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh fetches model listings from every source concurrently and
// installs them. Each provider's entries are replaced wholesale by its
// source's listing; a source that fails keeps that provider's previous
// entries. If every source fails, the registry is left unchanged and an
// error of kind registry_unavailable is returned.
func (r *Registry) Refresh(ctx context.Context, sources ...provider.ModelLister) error {
	type result struct {
		infos []provider.ModelInfo
		err   error
	}

	results := make([]result, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src provider.ModelLister) {
			defer wg.Done()
			infos, err := src.Models(ctx)
			results[i] = result{infos: infos, err: err}
		}(i, src)
	}
	wg.Wait()

	var fetched []provider.ModelInfo
	var errs []error
	succeeded := 0
	for _, res := range results {
		if res.err != nil {
			r.log.Warn("model listing failed", "error", res.err)
			errs = append(errs, res.err)
			continue
		}
		succeeded++
		fetched = append(fetched, res.infos...)
	}

	if succeeded == 0 {
		return &provider.Error{
			Kind:    provider.KindRegistryUnavailable,
			Message: "no model listing could be fetched",
			Cause:   errors.Join(errs...),
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	replaced := make(map[string]bool)
	for _, info := range fetched {
		replaced[info.Provider] = true
	}

	next := make(map[string]Model, len(fetched))
	order := make([]string, 0, len(fetched))

	// Entries from providers not covered by this round survive as-is.
	for _, id := range r.order {
		old := r.models[id]
		if !replaced[old.Provider] {
			next[id] = old
			order = append(order, id)
		}
	}

	for _, info := range fetched {
		if info.ID == "" {
			continue
		}
		if _, dup := next[info.ID]; dup {
			continue
		}
		next[info.ID] = fromInfo(info)
		order = append(order, info.ID)
	}

	r.models = next
	r.order = order
	r.refreshed = true

	r.log.Info("model catalog refreshed",
		"models", len(order), "sources", succeeded, "failed", len(errs))
	return nil
}

// Seed installs descriptors directly, as an alternative to a network
// refresh. Seeding counts as a successful refresh for fail-closed
// purposes.
func (r *Registry) Seed(models ...Model) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range models {
		if m.ID == "" {
			continue
		}
		if _, exists := r.models[m.ID]; !exists {
			r.order = append(r.order, m.ID)
		}
		r.models[m.ID] = m
	}
	r.refreshed = true
}

// Refreshed reports whether the registry has ever been populated.
func (r *Registry) Refreshed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refreshed
}

// Lookup returns the descriptor for id. ok is false for unknown ids and
// always false before the first successful refresh.
func (r *Registry) Lookup(id string) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.refreshed {
		return Model{}, false
	}
	m, ok := r.models[id]
	return m, ok
}

// Enabled reports whether id is selected by the user's enabled set.
// This is stage 1 of eligibility; it does not consult capabilities.
func (r *Registry) Enabled(id string) bool {
	return matchesEnabled(r.enabled.EnabledModelIDs(), id)
}

// IsEligible reports whether id may serve an operation with the given
// requirement: the model must be known, enabled, and capable.
func (r *Registry) IsEligible(id string, req Requirement) bool {
	m, ok := r.Lookup(id)
	if !ok {
		return false
	}
	return r.Enabled(id) && m.Capabilities.Satisfies(req)
}

// Eligible returns every model that may serve the requirement, in
// listing order. The slice is a copy.
func (r *Registry) Eligible(req Requirement) []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.refreshed {
		return nil
	}

	patterns := r.enabled.EnabledModelIDs()
	var out []Model
	for _, id := range r.order {
		m := r.models[id]
		if matchesEnabled(patterns, id) && m.Capabilities.Satisfies(req) {
			out = append(out, m)
		}
	}
	return out
}

// Models returns a copy of every known descriptor in listing order,
// without eligibility filtering.
func (r *Registry) Models() []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Model, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.models[id])
	}
	return out
}
