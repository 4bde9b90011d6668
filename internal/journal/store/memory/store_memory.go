package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"certledger/internal/certificate"
	"certledger/internal/journal"
	"certledger/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]journal.Entry
}

func New() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]journal.Entry)}
}

func (s *InMemoryStore) Record(_ context.Context, entry journal.Entry) error {
	key := strings.ToLower(entry.TxHash)
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.entries[key]; ok {
		// The first sighting owns the identity fields.
		entry.Fingerprint = prev.Fingerprint
		entry.Signer = prev.Signer
		entry.SubmittedAt = prev.SubmittedAt
	}
	s.entries[key] = entry
	return nil
}

func (s *InMemoryStore) Find(_ context.Context, txHash string) (journal.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[strings.ToLower(txHash)]
	if !ok {
		return journal.Entry{}, fmt.Errorf("journal entry %s: %w", txHash, sentinel.ErrNotFound)
	}
	return entry, nil
}

func (s *InMemoryStore) ListByFingerprint(_ context.Context, fp certificate.Fingerprint) ([]journal.Entry, error) {
	return s.filter(func(e journal.Entry) bool { return e.Fingerprint == fp }, 0), nil
}

func (s *InMemoryStore) ListByState(_ context.Context, state journal.State, limit int) ([]journal.Entry, error) {
	return s.filter(func(e journal.Entry) bool { return e.State == state }, limit), nil
}

// filter returns matches oldest first.
func (s *InMemoryStore) filter(match func(journal.Entry) bool, limit int) []journal.Entry {
	s.mu.RLock()
	out := make([]journal.Entry, 0)
	for _, e := range s.entries {
		if match(e) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].TxHash < out[j].TxHash
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

var _ journal.Store = (*InMemoryStore)(nil)
