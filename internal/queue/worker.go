package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/worldsmith/engine/internal/event"
)

// Handler processes one dequeued item. A nil return completes the item,
// an error fails it. Handlers must respect ctx so shutdown isn't held up
// by a slow model call.
type Handler[T Payload] func(ctx context.Context, item Item[T]) error

// Worker drains a queue in a loop. After the queue runs dry it blocks on
// the queue's notifier, with a recovery interval as an upper bound so an
// item enqueued without a wakeup still gets picked up.
type Worker[T Payload] struct {
	name     string
	queue    Queue[T]
	handler  Handler[T]
	recovery time.Duration
	events   event.Publisher
}

func NewWorker[T Payload](name string, q Queue[T], h Handler[T], recovery time.Duration, events event.Publisher) *Worker[T] {
	if recovery <= 0 {
		recovery = 5 * time.Second
	}
	return &Worker[T]{
		name:     name,
		queue:    q,
		handler:  h,
		recovery: recovery,
		events:   events,
	}
}

// Start runs the drain loop until ctx is cancelled. It implements the
// service worker contract and always returns nil on shutdown.
func (w *Worker[T]) Start(ctx context.Context) error {
	slog.InfoContext(ctx, "starting queue worker", "worker", w.name)

	for {
		if err := ctx.Err(); err != nil {
			slog.InfoContext(ctx, "stopping queue worker", "worker", w.name)
			return nil
		}

		item, err := w.queue.DequeueReady(ctx)
		if err != nil {
			slog.WarnContext(ctx, "dequeue failed", "worker", w.name, "error", err)
			w.queue.Notifier().Wait(ctx, w.recovery)
			continue
		}
		if item == nil {
			// Queue is drained. Wait for a wakeup, or poll again after
			// the recovery interval in case a notification was lost.
			w.queue.Notifier().Wait(ctx, w.recovery)
			continue
		}

		w.process(ctx, *item)
	}
}

func (w *Worker[T]) process(ctx context.Context, item Item[T]) {
	err := w.handler(ctx, item)
	if err != nil {
		slog.WarnContext(ctx, "item processing failed",
			"worker", w.name,
			"item", item.ID,
			"world", item.Payload.World(),
			"attempts", item.Attempts,
			"error", err)

		if failErr := w.queue.Fail(ctx, item.ID, err.Error()); failErr != nil {
			slog.WarnContext(ctx, "marking item failed", "worker", w.name, "item", item.ID, "error", failErr)
		}
		w.publish(ctx, event.KindQueueItemFailed, item, err.Error())
		return
	}

	if compErr := w.queue.Complete(ctx, item.ID); compErr != nil {
		slog.WarnContext(ctx, "marking item complete", "worker", w.name, "item", item.ID, "error", compErr)
	}
	w.publish(ctx, event.KindQueueItemCompleted, item, "")
}

func (w *Worker[T]) publish(ctx context.Context, kind event.Kind, item Item[T], errMsg string) {
	if w.events == nil {
		return
	}

	w.events.Publish(ctx, event.New(kind, item.Payload.World(), map[string]any{
		"queue":    w.name,
		"item_id":  item.ID.String(),
		"attempts": item.Attempts,
		"error":    errMsg,
	}))
}
