// Package fetch resolves asset URLs to bytes through an ordered list of resolvers.
package fetch

import (
	"context"
	"errors"
	"fmt"
)

var ErrNoResolver = errors.New("no resolver for url")

// Resolver fetches the URLs it matches.
type Resolver interface {
	Name() string
	Match(url string) bool
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Registry holds registered resolvers in priority order.
type Registry struct {
	resolvers []Resolver
}

// NewRegistry creates a new resolver registry.
func NewRegistry(resolvers ...Resolver) *Registry {
	return &Registry{resolvers: resolvers}
}

// Register adds a resolver to the registry.
func (r *Registry) Register(res Resolver) {
	r.resolvers = append(r.resolvers, res)
}

// Match returns the first resolver that matches the URL, or nil.
func (r *Registry) Match(url string) Resolver {
	for _, res := range r.resolvers {
		if res.Match(url) {
			return res
		}
	}
	return nil
}

// Resolvers returns all registered resolvers.
func (r *Registry) Resolvers() []Resolver {
	return r.resolvers
}

// Fetch implements domain.Fetcher using the first matching resolver.
func (r *Registry) Fetch(ctx context.Context, url string) ([]byte, error) {
	res := r.Match(url)
	if res == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoResolver, url)
	}
	data, err := res.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", res.Name(), err)
	}
	return data, nil
}
