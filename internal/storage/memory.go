// internal/storage/memory.go
package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. It is the default when no postgres
// URL is configured, and the store used by tests.
type MemoryStore struct {
	mu        sync.RWMutex
	positions map[string]PositionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{positions: make(map[string]PositionRecord)}
}

func (s *MemoryStore) SavePosition(_ context.Context, rec *PositionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	cp.UpdatedAt = time.Now().UTC()
	s.positions[rec.TokenAddress] = cp
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, tokenAddress string) (*PositionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.positions[tokenAddress]
	if !ok {
		return nil, ErrNotFound
	}
	cp := rec
	return &cp, nil
}

func (s *MemoryStore) ListOpen(_ context.Context) ([]*PositionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*PositionRecord
	for _, rec := range s.positions {
		if rec.State == "open" || rec.State == "opening" || rec.State == "closing" {
			cp := rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
