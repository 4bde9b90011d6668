package claim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"certledger/internal/certificate"
	"certledger/pkg/platform/sentinel"
)

type entry struct {
	token    string
	deadline time.Time
}

// InMemoryStore guards a single process.
type InMemoryStore struct {
	mu     sync.Mutex
	claims map[certificate.Fingerprint]entry
	now    func() time.Time
}

type Option func(*InMemoryStore)

func WithClock(now func() time.Time) Option {
	return func(s *InMemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewInMemory(opts ...Option) *InMemoryStore {
	s := &InMemoryStore{
		claims: make(map[certificate.Fingerprint]entry),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Acquire returns a release token, or sentinel.ErrConflict while another
// holder's claim is live.
func (s *InMemoryStore) Acquire(_ context.Context, fp certificate.Fingerprint, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if held, ok := s.claims[fp]; ok && !expired(held.deadline, now) {
		return "", fmt.Errorf("claim %s: %w", fp.Short(), sentinel.ErrConflict)
	}
	token := newToken()
	s.claims[fp] = entry{token: token, deadline: now.Add(ttl)}
	return token, nil
}

// Release drops the claim only if token still owns it.
func (s *InMemoryStore) Release(_ context.Context, fp certificate.Fingerprint, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.claims[fp]; ok && held.token == token {
		delete(s.claims, fp)
	}
	return nil
}
