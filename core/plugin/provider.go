// Package plugin defines the song lookup provider contract and the
// providers shipped with Boombot.
package plugin

import (
	"context"
	"fmt"

	"Boombot/model"

	"github.com/samber/lo"
)

// Provider looks songs up by free-text query.
//
// Find never returns an error: any internal failure (network, parse,
// cancellation) yields an empty slice and is logged by the provider.
// Find must return promptly once ctx is done.
type Provider interface {
	Name() string
	Find(ctx context.Context, query string) []model.Track
}

// Registry keeps providers in registration order. The order is the tie-break
// order when ranking results, so it must not change once serving starts.
type Registry struct {
	providers []Provider
	byName    map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Provider),
	}
}

// Register appends p. Names must be unique.
func (r *Registry) Register(p Provider) error {
	if _, exists := r.byName[p.Name()]; exists {
		return fmt.Errorf("provider %q already registered", p.Name())
	}
	r.providers = append(r.providers, p)
	r.byName[p.Name()] = p
	return nil
}

// Get returns the provider registered under name, or nil.
func (r *Registry) Get(name string) Provider {
	return r.byName[name]
}

// Providers returns the providers in registration order.
func (r *Registry) Providers() []Provider {
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// Names returns provider names in registration order.
func (r *Registry) Names() []string {
	return lo.Map(r.providers, func(p Provider, _ int) string { return p.Name() })
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	return len(r.providers)
}
