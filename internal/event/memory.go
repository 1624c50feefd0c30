package event

import (
	"context"
	"sync"
)

// MemoryStore is an in-process event log for tests and single-node use.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryStore creates an empty in-memory event log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(ctx context.Context, e Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = int64(len(s.events) + 1)
	s.events = append(s.events, e)
	return e.ID, nil
}

func (s *MemoryStore) FetchSince(ctx context.Context, since int64, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Event
	for _, e := range s.events {
		if e.ID > since {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}
