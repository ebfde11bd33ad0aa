package auth

import (
	"context"
	"sync"
)

// MemoryPersister keeps the token in process memory only.
type MemoryPersister struct {
	mu    sync.Mutex
	token *Token
	saves int
}

func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{}
}

// NewMemoryPersisterWith returns a persister preloaded with tok.
func NewMemoryPersisterWith(tok Token) *MemoryPersister {
	return &MemoryPersister{token: &tok}
}

func (m *MemoryPersister) Load(_ context.Context) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token == nil {
		return Token{}, ErrNoToken
	}
	return *m.token, nil
}

func (m *MemoryPersister) Save(_ context.Context, tok Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.token = &tok
	m.saves++
	return nil
}

// Saves returns how many times Save was called.
func (m *MemoryPersister) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
