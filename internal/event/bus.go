package event

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Store is the persistence port for the event log.
type Store interface {
	// Insert appends the event and returns its assigned id.
	Insert(ctx context.Context, e Event) (int64, error)
	// FetchSince returns up to limit events with id greater than since, in
	// id order.
	FetchSince(ctx context.Context, since int64, limit int) ([]Event, error)
}

// Publisher is the narrow write-side interface components hold.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Bus appends events to a Store and fans them out to in-process listeners.
// Fan-out is best-effort: a listener is never allowed to fail a publish, and
// a store failure is logged rather than propagated, because event recording
// must not block the game-state mutation that produced it.
type Bus struct {
	store Store

	mu     sync.RWMutex
	subs   map[int]func(Event)
	nextID int
}

// NewBus creates a bus over the given store.
func NewBus(store Store) *Bus {
	return &Bus{
		store: store,
		subs:  map[int]func(Event){},
	}
}

// Publish appends the event then notifies subscribers. The two steps are
// deliberately sequential: durable write first, wake second.
func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	id, err := b.store.Insert(ctx, e)
	if err != nil {
		slog.WarnContext(ctx, "persisting event", "kind", e.Kind, "error", err)
	} else {
		e.ID = id
	}

	b.mu.RLock()
	subs := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		b.deliver(ctx, e, fn)
	}
}

func (b *Bus) deliver(ctx context.Context, e Event, fn func(Event)) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "event subscriber panicked", "kind", e.Kind, "panic", r)
		}
	}()
	fn(e)
}

// Subscribe registers a listener for every published event. The returned
// function removes the subscription.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// FetchSince reads back persisted events for subscriber catch-up.
func (b *Bus) FetchSince(ctx context.Context, since int64, limit int) ([]Event, error) {
	return b.store.FetchSince(ctx, since, limit)
}
