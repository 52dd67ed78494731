package app

import (
	"context"
	"sync"

	"quizroom-service/internal/domain"
)

// MemoryPendingStore keeps stashed room-creation requests in process memory.
// Single-instance deployments and tests use this; multi-instance setups use
// the Redis-backed store so the stash survives a reconnect to another node.
type MemoryPendingStore struct {
	mu      sync.Mutex
	entries map[string]domain.PendingRoomCreation
}

func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{entries: make(map[string]domain.PendingRoomCreation)}
}

func (s *MemoryPendingStore) Stash(_ context.Context, userID string, req domain.PendingRoomCreation) error {
	s.mu.Lock()
	s.entries[userID] = req
	s.mu.Unlock()
	return nil
}

func (s *MemoryPendingStore) Take(_ context.Context, userID string) (domain.PendingRoomCreation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.entries[userID]
	if ok {
		delete(s.entries, userID)
	}
	return req, ok, nil
}
