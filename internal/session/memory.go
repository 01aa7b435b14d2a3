package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore keeps sessions in process memory. Records are stored
// serialized so callers can never alias the store's internals.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, matchID string) (Session, error) {
	m.mu.RLock()
	raw, ok := m.data[matchID]
	m.mu.RUnlock()
	if !ok {
		return Session{}, ErrNotFound
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, fmt.Errorf("session: decode %s: %w", matchID, err)
	}
	return s, nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, s Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", s.MatchID, err)
	}
	m.mu.Lock()
	m.data[s.MatchID] = raw
	m.mu.Unlock()
	return nil
}
