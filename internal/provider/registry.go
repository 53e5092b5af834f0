package provider

import (
	"log/slog"

	"github.com/membrane-ai/membrane/internal/model"
)

// Registry holds the configured providers in their configured order and
// resolves the primary. It is built once and never mutated afterwards.
type Registry struct {
	byName  map[string]Provider
	order   []Provider
	primary Provider
}

// NewRegistry builds a registry from an ordered provider list. The primary is
// the enabled provider marked primary; failing that, the first enabled
// provider is promoted. With no enabled providers at all the unified store
// cannot exist, so construction fails with ErrNoProviders.
func NewRegistry(providers []Provider) (*Registry, error) {
	r := &Registry{byName: make(map[string]Provider, len(providers))}

	var primary Provider
	var firstEnabled Provider
	for _, p := range providers {
		r.byName[p.Name()] = p
		r.order = append(r.order, p)
		if !p.Enabled() {
			continue
		}
		if firstEnabled == nil {
			firstEnabled = p
		}
		if primary == nil {
			if pc, ok := p.(primaryMarker); ok && pc.IsPrimary() {
				primary = p
			}
		}
	}
	if primary == nil {
		primary = firstEnabled
	}
	if primary == nil {
		return nil, model.ErrNoProviders
	}
	r.primary = primary

	slog.Info("provider registry initialized",
		"providers", len(r.order),
		"primary", primary.Name(),
	)
	return r, nil
}

// primaryMarker is implemented by providers whose config flags them primary.
type primaryMarker interface {
	IsPrimary() bool
}

// Primary returns the provider that must durably accept writes.
func (r *Registry) Primary() Provider {
	return r.primary
}

// Get looks a provider up by name.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Enabled returns every enabled provider in configured order.
func (r *Registry) Enabled() []Provider {
	var out []Provider
	for _, p := range r.order {
		if p.Enabled() {
			out = append(out, p)
		}
	}
	return out
}

// Secondaries returns every enabled provider other than the primary, in
// configured order. These are the replication targets.
func (r *Registry) Secondaries() []Provider {
	var out []Provider
	for _, p := range r.order {
		if p.Enabled() && p != r.primary {
			out = append(out, p)
		}
	}
	return out
}

// Select resolves the provider set for a query. A caller-specified subset is
// filtered to known, enabled names; unknown names are silently dropped.
// Without a subset the primary alone is queried — a deliberately simple
// default with room for cost-based routing later.
func (r *Registry) Select(names []string) []Provider {
	if len(names) > 0 {
		var out []Provider
		for _, name := range names {
			if p, ok := r.byName[name]; ok && p.Enabled() {
				out = append(out, p)
			}
		}
		return out
	}
	if r.primary.Enabled() {
		return []Provider{r.primary}
	}
	if enabled := r.Enabled(); len(enabled) > 0 {
		return enabled[:1]
	}
	return nil
}
