package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/worldsmith/engine/internal/game"
)

// MemoryQueue is the in-process Queue backend. Suitable for single-node
// deployments and tests; items do not survive a restart.
type MemoryQueue[T Payload] struct {
	mu       sync.Mutex
	items    []Item[T]
	name     string
	notifier Notifier
	clock    game.Clock
}

// NewMemoryQueue creates an in-memory queue with the given notifier.
func NewMemoryQueue[T Payload](name string, notifier Notifier, clock game.Clock) *MemoryQueue[T] {
	return &MemoryQueue[T]{
		name:     name,
		notifier: notifier,
		clock:    clock,
	}
}

func (q *MemoryQueue[T]) Notifier() Notifier { return q.notifier }

// Name returns the queue kind this instance serves.
func (q *MemoryQueue[T]) Name() string { return q.name }

func (q *MemoryQueue[T]) Enqueue(ctx context.Context, payload T) (uuid.UUID, error) {
	q.mu.Lock()
	item := newItem(payload, q.clock.Now())
	q.items = append(q.items, item)
	q.mu.Unlock()

	// Notify after releasing the lock. A dropped hint is fine: workers
	// re-poll on wait timeout.
	q.notifier.Notify()
	return item.ID, nil
}

func (q *MemoryQueue[T]) DequeueReady(ctx context.Context) (*Item[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.items {
		if q.items[i].Status != StatusPending {
			continue
		}
		q.items[i].Status = StatusProcessing
		q.items[i].Attempts++
		q.items[i].UpdatedAt = q.clock.Now()
		item := q.items[i]
		return &item, nil
	}
	return nil, nil
}

func (q *MemoryQueue[T]) Complete(ctx context.Context, id uuid.UUID) error {
	return q.setFinished(id, StatusCompleted, "")
}

func (q *MemoryQueue[T]) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	return q.setFinished(id, StatusFailed, reason)
}

func (q *MemoryQueue[T]) setFinished(id uuid.UUID, status Status, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.items {
		if q.items[i].ID == id {
			q.items[i].Status = status
			q.items[i].Error = reason
			q.items[i].UpdatedAt = q.clock.Now()
			return nil
		}
	}
	return ErrNotFound
}

func (q *MemoryQueue[T]) Depth(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for i := range q.items {
		if q.items[i].Status == StatusPending {
			n++
		}
	}
	return n, nil
}

func (q *MemoryQueue[T]) Get(ctx context.Context, id uuid.UUID) (*Item[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.items {
		if q.items[i].ID == id {
			item := q.items[i]
			return &item, nil
		}
	}
	return nil, ErrNotFound
}

func (q *MemoryQueue[T]) ListByStatus(ctx context.Context, status Status) ([]Item[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Item[T]
	for i := range q.items {
		if q.items[i].Status == status {
			out = append(out, q.items[i])
		}
	}
	return out, nil
}

func (q *MemoryQueue[T]) ListByWorld(ctx context.Context, worldID string) ([]Item[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Item[T]
	for i := range q.items {
		st := q.items[i].Status
		if (st == StatusPending || st == StatusProcessing) && q.items[i].Payload.World() == worldID {
			out = append(out, q.items[i])
		}
	}
	return out, nil
}

func (q *MemoryQueue[T]) HistoryByWorld(ctx context.Context, worldID string, limit int) ([]Item[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Item[T]
	for i := range q.items {
		st := q.items[i].Status
		if (st == StatusCompleted || st == StatusFailed) && q.items[i].Payload.World() == worldID {
			out = append(out, q.items[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *MemoryQueue[T]) RequeueStale(ctx context.Context, age time.Duration) (int, error) {
	q.mu.Lock()
	cutoff := q.clock.Now().Add(-age)
	n := 0
	for i := range q.items {
		if q.items[i].Status == StatusProcessing && q.items[i].UpdatedAt.Before(cutoff) {
			q.items[i].Status = StatusPending
			q.items[i].UpdatedAt = q.clock.Now()
			n++
		}
	}
	q.mu.Unlock()

	if n > 0 {
		q.notifier.Notify()
	}
	return n, nil
}

func (q *MemoryQueue[T]) ExpireOld(ctx context.Context, age time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.clock.Now().Add(-age)
	n := 0
	for i := range q.items {
		if q.items[i].Status == StatusPending && q.items[i].CreatedAt.Before(cutoff) {
			q.items[i].Status = StatusFailed
			q.items[i].Error = "expired before processing"
			q.items[i].UpdatedAt = q.clock.Now()
			n++
		}
	}
	return n, nil
}

func (q *MemoryQueue[T]) Cleanup(ctx context.Context, age time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.clock.Now().Add(-age)
	kept := q.items[:0]
	removed := 0
	for i := range q.items {
		st := q.items[i].Status
		if (st == StatusCompleted || st == StatusFailed) && q.items[i].UpdatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, q.items[i])
	}
	q.items = kept
	return removed, nil
}
