// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"sync"

	"github.com/Ahmdfdhilah/dashgate/internal/domain/token"
)

// TokenStorage implements token.Storage with an in-memory map.
// Thread-safe for concurrent access. Contents are lost on exit, so it
// backs ephemeral runs and tests.
type TokenStorage struct {
	mu      sync.RWMutex
	entries map[string]string
}

var _ token.Storage = (*TokenStorage)(nil)

// NewTokenStorage creates an empty TokenStorage.
func NewTokenStorage() *TokenStorage {
	return &TokenStorage{entries: make(map[string]string)}
}

// Get implements token.Storage.
func (s *TokenStorage) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	return v, ok, nil
}

// Set implements token.Storage.
func (s *TokenStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
	return nil
}

// Delete implements token.Storage.
func (s *TokenStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Len returns the number of stored entries.
func (s *TokenStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
