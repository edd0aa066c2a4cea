package session

import (
	"context"
	"sync"

	"github.com/etokosmo/pizza-shop/internal/errx"
)

// MemoryStore keeps states in process memory. Used in development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[int64]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[int64]string)}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, chatID int64) (State, error) {
	m.mu.RLock()
	raw, ok := m.states[chatID]
	m.mu.RUnlock()
	if !ok {
		return "", errx.NotFound("session.get", nil)
	}
	return ParseState(raw)
}

// Set implements Store.
func (m *MemoryStore) Set(_ context.Context, chatID int64, st State) error {
	if !st.Valid() {
		return errx.Invalid("session.set", errx.UnknownState("session.set", string(st)))
	}
	m.mu.Lock()
	m.states[chatID] = string(st)
	m.mu.Unlock()
	return nil
}

// Put stores a raw value without validation. Tests use it to simulate corrupted data.
func (m *MemoryStore) Put(chatID int64, raw string) {
	m.mu.Lock()
	m.states[chatID] = raw
	m.mu.Unlock()
}

// Len returns the number of stored chats.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}
