package state

import (
	"sort"
	"sync"

	"github.com/TheMichaelB/axcrypt/internal/models"
)

// MockStore provides a mock implementation for testing.
type MockStore struct {
	mu     sync.RWMutex
	states map[string]*models.SessionState
	saves  int
}

// NewMockStore creates a mock state store.
func NewMockStore() *MockStore {
	return &MockStore{
		states: make(map[string]*models.SessionState),
	}
}

// Load returns a copy of the stored session.
func (m *MockStore) Load(session string) (*models.SessionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if st, ok := m.states[session]; ok {
		return st.Clone(), nil
	}
	return nil, ErrStateNotFound
}

// Save stores a copy of st.
func (m *MockStore) Save(session string, st *models.SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[session] = st.Clone()
	m.saves++
	return nil
}

// Reset removes a session.
func (m *MockStore) Reset(session string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, session)
	return nil
}

// List returns all stored session names.
func (m *MockStore) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]string, 0, len(m.states))
	for session := range m.states {
		sessions = append(sessions, session)
	}
	sort.Strings(sessions)
	return sessions, nil
}

// Helper methods for testing

// SaveState stores st directly without counting a save.
func (m *MockStore) SaveState(session string, st *models.SessionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[session] = st
}

// Saves returns how many times Save was called.
func (m *MockStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// Migrate copies every session into target.
func (m *MockStore) Migrate(target Store) error {
	sessions, _ := m.List()
	for _, session := range sessions {
		st, err := m.Load(session)
		if err != nil {
			return err
		}
		if err := target.Save(session, st); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the store (no-op for mock).
func (m *MockStore) Close() error {
	return nil
}

// Clear removes all states.
func (m *MockStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = make(map[string]*models.SessionState)
}
