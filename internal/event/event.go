// Package event provides the engine's application event log: an ordered,
// append-only sequence of facts with best-effort in-process fan-out.
package event

import (
	"encoding/json"
	"time"
)

// Kind classifies application events.
type Kind string

const (
	KindQueueItemEnqueued  Kind = "queue.item_enqueued"
	KindQueueItemCompleted Kind = "queue.item_completed"
	KindQueueItemFailed    Kind = "queue.item_failed"
	KindApprovalRequested  Kind = "approval.requested"
	KindApprovalDecided    Kind = "approval.decided"
	KindApprovalExpired    Kind = "approval.expired"
	KindConnectionJoined   Kind = "connection.joined"
	KindConnectionLeft     Kind = "connection.left"
	KindEffectsExecuted    Kind = "effects.executed"
)

// Event is an immutable fact describing something that happened. ID is
// assigned by the store on append; ordering across the log equals append
// order.
type Event struct {
	ID        int64           `json:"id"`
	Kind      Kind            `json:"kind"`
	WorldID   string          `json:"world_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// New builds an event with a JSON-marshaled payload. A payload that cannot
// marshal is recorded without one rather than dropping the event.
func New(kind Kind, worldID string, payload any) Event {
	e := Event{Kind: kind, WorldID: worldID}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			e.Payload = raw
		}
	}
	return e
}
