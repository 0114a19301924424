package token

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mu     sync.Mutex
	tokens map[string]Token
}

// NewMemoryStore returns an in-process Store for development and tests.
func NewMemoryStore() Store {
	return &memoryStore{tokens: make(map[string]Token)}
}

func memoryKey(kind Kind, value string) string {
	return string(kind) + ":" + value
}

func (s *memoryStore) Replace(_ context.Context, t Token) error {
	if err := checkToken(t); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, existing := range s.tokens {
		if existing.UserID == t.UserID && existing.Kind == t.Kind && !existing.Used {
			delete(s.tokens, k)
		}
	}
	key := memoryKey(t.Kind, t.Value)
	if _, ok := s.tokens[key]; ok {
		return ErrDuplicate
	}
	s.tokens[key] = t
	return nil
}

func (s *memoryStore) Insert(_ context.Context, t Token) error {
	if err := checkToken(t); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memoryKey(t.Kind, t.Value)
	if _, ok := s.tokens[key]; ok {
		return ErrDuplicate
	}
	s.tokens[key] = t
	return nil
}

func (s *memoryStore) Latest(_ context.Context, userID string, kind Kind, now time.Time) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		latest Token
		found  bool
	)
	for _, t := range s.tokens {
		if t.UserID != userID || t.Kind != kind || !t.Live(now) {
			continue
		}
		if !found || t.CreatedAt.After(latest.CreatedAt) {
			latest, found = t, true
		}
	}
	if !found {
		return Token{}, ErrNotFound
	}
	return cloneToken(latest), nil
}

func (s *memoryStore) Get(_ context.Context, value string, kind Kind) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[memoryKey(kind, value)]
	if !ok {
		return Token{}, ErrNotFound
	}
	return cloneToken(t), nil
}

func (s *memoryStore) MarkUsed(_ context.Context, value string, kind Kind, now time.Time) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memoryKey(kind, value)
	t, ok := s.tokens[key]
	if !ok {
		return Token{}, ErrNotFound
	}
	if !t.Live(now) {
		return Token{}, ErrUnavailable
	}
	t.Used = true
	s.tokens[key] = t
	return cloneToken(t), nil
}

func cloneToken(t Token) Token {
	if t.Payload != nil {
		t.Payload = append([]byte(nil), t.Payload...)
	}
	return t
}
