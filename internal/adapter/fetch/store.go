package fetch

import (
	"context"
	"io"

	"github.com/cwygoda/scouter/internal/adapter/storage"
)

// StoreResolver reads URLs issued by our own asset store directly from it.
type StoreResolver struct {
	store storage.Store
}

// NewStoreResolver creates a resolver backed by store.
func NewStoreResolver(store storage.Store) *StoreResolver {
	return &StoreResolver{store: store}
}

// Name returns the resolver name.
func (s *StoreResolver) Name() string {
	return "store"
}

// Match returns true if the URL was issued by the store.
func (s *StoreResolver) Match(url string) bool {
	_, _, ok := s.store.Resolve(url)
	return ok
}

// Fetch reads the asset from the store.
func (s *StoreResolver) Fetch(ctx context.Context, url string) ([]byte, error) {
	jobID, name, _ := s.store.Resolve(url)
	rc, err := s.store.Open(ctx, jobID, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
