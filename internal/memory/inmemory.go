package memory

import (
	"context"
	"sync"
)

// InMemoryStore is a simple in-process memory store for local/dev use.
// Each user gets an independent shelf so cross-user operations do not contend.
type InMemoryStore struct {
	mu      sync.Mutex
	shelves map[string]*shelf
}

type shelf struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{shelves: make(map[string]*shelf)}
}

func (s *InMemoryStore) shelfFor(userID string) *shelf {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shelves[userID]
	if !ok {
		sh = &shelf{}
		s.shelves[userID] = sh
	}
	return sh
}

func (s *InMemoryStore) Append(_ context.Context, entry Entry) error {
	sh := s.shelfFor(entry.UserID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.entries = append(sh.entries, entry)
	return nil
}

func (s *InMemoryStore) List(_ context.Context, userID string) ([]Entry, error) {
	sh := s.shelfFor(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if len(sh.entries) == 0 {
		return nil, nil
	}
	out := make([]Entry, len(sh.entries))
	copy(out, sh.entries)
	return out, nil
}

func (s *InMemoryStore) UpdateMessage(_ context.Context, userID, memoryID, message string, embedding []float32) error {
	sh := s.shelfFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	for i := range sh.entries {
		if sh.entries[i].ID != memoryID {
			continue
		}
		sh.entries[i].Message = message
		if embedding != nil {
			sh.entries[i].Embedding = embedding
		}
		return nil
	}
	return ErrNotFound
}

func (s *InMemoryStore) Delete(_ context.Context, userID, memoryID string) error {
	sh := s.shelfFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	for i := range sh.entries {
		if sh.entries[i].ID == memoryID {
			sh.entries = append(sh.entries[:i], sh.entries[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (s *InMemoryStore) Close() error { return nil }
