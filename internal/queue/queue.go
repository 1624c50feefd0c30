// Package queue provides the work-queue infrastructure every asynchronous
// pipeline in the engine runs on: a generic typed store with status
// tracking, a wake/poll notifier, and the worker loop that drains items.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an item id does not exist in the queue.
var ErrNotFound = errors.New("queue item not found")

// Queue is a FIFO-ish store of typed work items. Enqueue publishes the item
// then nudges the notifier (publish-then-notify: the nudge is best-effort and
// its failure is never propagated). DequeueReady hands out the oldest Pending
// item, marking it Processing so no other caller can take it.
type Queue[T Payload] interface {
	Enqueue(ctx context.Context, payload T) (uuid.UUID, error)
	DequeueReady(ctx context.Context) (*Item[T], error)
	Complete(ctx context.Context, id uuid.UUID) error
	Fail(ctx context.Context, id uuid.UUID, reason string) error
	// Depth is the count of Pending items, for backpressure and observability.
	Depth(ctx context.Context) (int, error)

	Get(ctx context.Context, id uuid.UUID) (*Item[T], error)
	ListByStatus(ctx context.Context, status Status) ([]Item[T], error)
	// ListByWorld returns Pending and Processing items owned by a world.
	ListByWorld(ctx context.Context, worldID string) ([]Item[T], error)
	// HistoryByWorld returns finished items for a world, most recent first.
	HistoryByWorld(ctx context.Context, worldID string, limit int) ([]Item[T], error)

	// RequeueStale returns Processing items older than age to Pending. This
	// is the recovery path for items orphaned by a crashed worker; callers
	// run it from a periodic sweep and nudge the notifier afterwards.
	RequeueStale(ctx context.Context, age time.Duration) (int, error)
	// ExpireOld fails Pending items older than age. A request nobody picked
	// up for that long is answered too late to matter.
	ExpireOld(ctx context.Context, age time.Duration) (int, error)
	// Cleanup removes finished items older than age. Returns removed count.
	Cleanup(ctx context.Context, age time.Duration) (int, error)

	Notifier() Notifier
}
