package requestctx

import (
	"context"
	"sync"
)

// Store is the shared map of live request contexts, keyed by correlation id.
// Set on an existing id overwrites it entirely. The store performs no TTL or
// background eviction; the propagation middleware guarantees deletion when
// each request finishes.
type Store interface {
	Set(ctx context.Context, id string, rc Context) error
	Get(ctx context.Context, id string) (Context, bool, error)
	Delete(ctx context.Context, id string) error

	// Clear wipes all entries. Administrative/test use only.
	Clear(ctx context.Context) error
}

// MemoryStore is the in-process Store implementation. Safe for concurrent
// use from every request handler; a Get racing a Delete for the same id
// returns not-found.
type MemoryStore struct {
	mu       sync.RWMutex
	contexts map[string]Context
}

// NewMemoryStore creates an empty in-memory context store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contexts: make(map[string]Context),
	}
}

// Set registers a context under id, overwriting any existing entry.
func (s *MemoryStore) Set(ctx context.Context, id string, rc Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[id] = rc
	return nil
}

// Get returns the context registered under id.
func (s *MemoryStore) Get(ctx context.Context, id string) (Context, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rc, ok := s.contexts[id]
	return rc, ok, nil
}

// Delete removes the context registered under id. Deleting a missing id is
// not an error.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, id)
	return nil
}

// Clear wipes all entries.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts = make(map[string]Context)
	return nil
}

// Len returns the number of live contexts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contexts)
}
