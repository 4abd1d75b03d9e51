package session

import "sync"

// TokenStore holds the access token for the lifetime of the client
// process. The token is short-lived and tab-scoped by design: it is never
// the persisted long-lived credential. Session continuation across
// restarts is the identity service's job, via its HTTP-only refresh cookie.
type TokenStore interface {
	// Load returns the stored token, or "" when absent.
	Load() string

	// Save replaces the stored token.
	Save(token string)

	// Clear removes the stored token.
	Clear()
}

// MemoryStore is the default in-process TokenStore.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the stored token, or "" when absent.
func (s *MemoryStore) Load() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Save replaces the stored token.
func (s *MemoryStore) Save(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Clear removes the stored token.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}
