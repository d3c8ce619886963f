package integration

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation. The production deployment
// backs Store with the workspace database; the core only requires the
// read-then-mutate-then-commit semantics this type provides.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Integration
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Integration)}
}

// Put inserts or replaces an integration record.
func (s *MemoryStore) Put(in Integration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[in.ID] = in
}

// Get returns the integration by id.
func (s *MemoryStore) Get(_ context.Context, id string) (Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	in, ok := s.records[id]
	if !ok {
		return Integration{}, ErrNotFound
	}
	return in, nil
}

// ListByWorkspace returns all integrations for a workspace.
func (s *MemoryStore) ListByWorkspace(_ context.Context, workspaceID string) ([]Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Integration
	for _, in := range s.records {
		if in.WorkspaceID == workspaceID {
			out = append(out, in)
		}
	}
	return out, nil
}

// UpdateHealth persists a refreshed health status.
func (s *MemoryStore) UpdateHealth(_ context.Context, id string, status HealthStatus, checkedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	in.HealthStatus = status
	in.LastCheckedAt = checkedAt
	s.records[id] = in
	return nil
}
