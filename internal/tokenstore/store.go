// Package tokenstore holds the short-lived access token for the current
// session. A store has exactly one slot: Save overwrites, Remove clears.
package tokenstore

import (
	"errors"
	"sync"
)

// ErrNotFound is returned by Load when the slot is empty.
var ErrNotFound = errors.New("no access token stored")

// Store defines the interface for access token storage.
// Implementations must not validate the token shape.
type Store interface {
	Save(token string) error
	Load() (string, error)
	Remove() error
}

// MemoryStore keeps the token in process memory. It lives as long as the
// process does, which is what the console wants.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
	set   bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Save(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.set = true
	return nil
}

func (m *MemoryStore) Load() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.set {
		return "", ErrNotFound
	}
	return m.token, nil
}

func (m *MemoryStore) Remove() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.set = false
	return nil
}

// Current returns the stored token, or "" when the slot is empty or
// unreadable. Intended for callers that treat "no token" and "cannot read
// token" the same way, such as attaching an optional bearer header.
func Current(s Store) string {
	token, err := s.Load()
	if err != nil {
		return ""
	}
	return token
}
