package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps the conversation log for the lifetime of the process.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	byUser  map[string][]int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byUser: make(map[string][]int)}
}

func (s *InMemoryStore) Append(_ context.Context, entry Entry) (Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUser[entry.UserID] = append(s.byUser[entry.UserID], len(s.entries))
	s.entries = append(s.entries, entry)
	return entry, nil
}

func (s *InMemoryStore) Entries(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

func (s *InMemoryStore) ForUser(_ context.Context, userID string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.byUser[userID]
	if len(idx) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(idx) {
		limit = len(idx)
	}
	out := make([]Entry, 0, limit)
	for _, i := range idx[len(idx)-limit:] {
		out = append(out, s.entries[i])
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
