package session

import "sync"

// Tokens is the pair a client holds between requests.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// TokenStore keeps the current session. Implementations must be safe for concurrent use.
type TokenStore interface {
	Tokens() Tokens
	Set(tokens Tokens)
	Clear()
}

// MemoryStore is a TokenStore held in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens Tokens
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Tokens() Tokens {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tokens
}

func (s *MemoryStore) Set(tokens Tokens) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens = tokens
}

func (s *MemoryStore) Clear() {
	s.Set(Tokens{})
}
