package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps sessions in a map. Nothing survives a restart; used by tests and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		now:      time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, identity string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.sessions[identity]
	if !ok {
		return New(), nil
	}
	return stored.Clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, identity string, value Session) error {
	value = value.Clone()
	value.UpdatedAt = s.now().UTC()
	s.mu.Lock()
	s.sessions[identity] = value
	s.mu.Unlock()
	return nil
}

// All returns entries ordered by identity.
func (s *MemoryStore) All(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]Entry, 0, len(s.sessions))
	for identity, stored := range s.sessions {
		entries = append(entries, Entry{Identity: identity, Session: stored.Clone()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Identity < entries[j].Identity })
	return entries, nil
}
