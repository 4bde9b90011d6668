package lockout

import (
	"context"
	"sync"
	"time"

	"certledger/pkg/requestcontext"
)

type record struct {
	failures int
	resetAt  time.Time
}

// InMemoryStore keeps failure counters in process. Windows are fixed: the
// first failure opens one and the counter resets when it expires.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]*record
}

func New() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*record)}
}

func (s *InMemoryStore) RecordFailure(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	now := requestcontext.Now(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key]
	if !ok || !now.Before(r.resetAt) {
		r = &record{resetAt: now.Add(window)}
		s.records[key] = r
	}
	r.failures++
	return r.failures, r.resetAt, nil
}

func (s *InMemoryStore) Failures(ctx context.Context, key string) (int, time.Time, error) {
	now := requestcontext.Now(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key]
	if !ok {
		return 0, time.Time{}, nil
	}
	if !now.Before(r.resetAt) {
		delete(s.records, key)
		return 0, time.Time{}, nil
	}
	return r.failures, r.resetAt, nil
}

func (s *InMemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}
