package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Persister is the durable backend of a Store.
// Load returns ErrNoToken when nothing has been saved yet.
type Persister interface {
	Load(ctx context.Context) (Token, error)
	Save(ctx context.Context, tok Token) error
}

// Store is the single source of truth for the current token.
// Readers never block and always see a whole token.
type Store struct {
	current   atomic.Pointer[Token]
	mu        sync.Mutex // serializes Replace so saves land in swap order
	persister Persister
}

// NewStore loads the persisted token. A missing token leaves the store empty.
func NewStore(ctx context.Context, persister Persister) (*Store, error) {
	s := &Store{persister: persister}

	tok, err := persister.Load(ctx)
	switch {
	case errors.Is(err, ErrNoToken):
		tok = Token{}
	case err != nil:
		return nil, asPersistenceError("load", err)
	}

	s.current.Store(&tok)
	return s, nil
}

// Get returns the current token without side effects.
func (s *Store) Get() Token {
	if tok := s.current.Load(); tok != nil {
		return *tok
	}
	return Token{}
}

// Replace swaps the token and persists it. On a *PersistenceError the
// in-memory token is already updated.
func (s *Store) Replace(ctx context.Context, tok Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := tok
	s.current.Store(&next)

	if err := s.persister.Save(ctx, tok); err != nil {
		return asPersistenceError("save", err)
	}
	return nil
}

func asPersistenceError(op string, err error) error {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return pe
	}
	return &PersistenceError{Op: op, Err: err}
}
