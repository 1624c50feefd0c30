package queue

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a queue item. Transitions are monotonic:
// Pending -> Processing -> Completed or Failed. Only the worker that dequeued
// an item may complete or fail it.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Payload is the constraint on queue payload types: every payload knows its
// owning world so queues can answer per-world queries generically.
type Payload interface {
	World() string
}

// Item is one unit of work in a queue. Items are retained after completion
// for audit and read-state tracking; the queue never deletes them itself.
type Item[T Payload] struct {
	ID        uuid.UUID
	Payload   T
	Status    Status
	Error     string
	Attempts  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

func newItem[T Payload](payload T, now time.Time) Item[T] {
	return Item[T]{
		ID:        uuid.New(),
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
