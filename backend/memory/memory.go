// Package memory provides an in-memory storage backend. Nothing survives
// a restart, which makes it suitable for tests and throwaway runs only.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"gitlab.com/tinyland/lab/csp-billing-adapter/billing"
	"gitlab.com/tinyland/lab/csp-billing-adapter/config"
)

// Store is the in-memory Storage backend. Documents are deep-copied on
// the way in and out so callers cannot alias internal state.
type Store struct {
	mu     sync.Mutex
	cache  *billing.Cache
	status *billing.CSPStatus
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{}
}

// Name returns the registry identifier of this backend.
func (s *Store) Name() string { return "memory" }

// Description returns a human-readable description of this backend.
func (s *Store) Description() string { return "volatile in-memory documents (testing only)" }

// SetupAdapter is a no-op for the in-memory store.
func (s *Store) SetupAdapter(ctx context.Context, cfg *config.Config) error { return nil }

// GetCache returns a copy of the cache document, or nil before the first
// save.
func (s *Store) GetCache(ctx context.Context) (*billing.Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache == nil {
		return nil, nil
	}
	out := new(billing.Cache)
	if err := copyDoc(s.cache, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveCache replaces the cache document.
func (s *Store) SaveCache(ctx context.Context, cache *billing.Cache) error {
	stored := new(billing.Cache)
	if err := copyDoc(cache, stored); err != nil {
		return err
	}
	s.mu.Lock()
	s.cache = stored
	s.mu.Unlock()
	return nil
}

// GetCSPConfig returns a copy of the status document, or nil before the
// first save.
func (s *Store) GetCSPConfig(ctx context.Context) (*billing.CSPStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == nil {
		return nil, nil
	}
	out := new(billing.CSPStatus)
	if err := copyDoc(s.status, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveCSPConfig replaces the status document.
func (s *Store) SaveCSPConfig(ctx context.Context, status *billing.CSPStatus) error {
	stored := new(billing.CSPStatus)
	if err := copyDoc(status, stored); err != nil {
		return err
	}
	s.mu.Lock()
	s.status = stored
	s.mu.Unlock()
	return nil
}

// copyDoc deep-copies a document through its JSON form, the same shape
// it takes in durable storage.
func copyDoc(src, dst any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("memory: copy document: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("memory: copy document: %w", err)
	}
	return nil
}
