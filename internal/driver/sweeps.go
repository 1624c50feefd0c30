package driver

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// QueueJanitor is the maintenance surface of a work queue.
type QueueJanitor interface {
	RequeueStale(ctx context.Context, age time.Duration) (int, error)
	ExpireOld(ctx context.Context, age time.Duration) (int, error)
	Cleanup(ctx context.Context, age time.Duration) (int, error)
}

// QueueSweep returns items stuck in processing to pending, fails pending
// items nobody picked up in time, and trims finished history. A worker
// crash mid-item surfaces here: the item sits in processing until
// staleAge passes, then gets another attempt.
type QueueSweep struct {
	name       string
	queue      QueueJanitor
	staleAge   time.Duration
	pendingAge time.Duration
	retainAge  time.Duration
}

func NewQueueSweep(name string, queue QueueJanitor, staleAge, pendingAge, retainAge time.Duration) *QueueSweep {
	return &QueueSweep{
		name:       name,
		queue:      queue,
		staleAge:   staleAge,
		pendingAge: pendingAge,
		retainAge:  retainAge,
	}
}

func (s *QueueSweep) Tick(ctx context.Context) error {
	requeued, err := s.queue.RequeueStale(ctx, s.staleAge)
	if err != nil {
		return fmt.Errorf("requeueing stale items on %s: %w", s.name, err)
	}
	if requeued > 0 {
		slog.WarnContext(ctx, "requeued stale items", "queue", s.name, "count", requeued)
	}

	expired, err := s.queue.ExpireOld(ctx, s.pendingAge)
	if err != nil {
		return fmt.Errorf("expiring old items on %s: %w", s.name, err)
	}
	if expired > 0 {
		slog.WarnContext(ctx, "expired unprocessed items", "queue", s.name, "count", expired)
	}

	removed, err := s.queue.Cleanup(ctx, s.retainAge)
	if err != nil {
		return fmt.Errorf("cleaning up %s: %w", s.name, err)
	}
	if removed > 0 {
		slog.InfoContext(ctx, "cleaned up finished items", "queue", s.name, "count", removed)
	}

	return nil
}

// StagingExpirer auto-resolves staging approvals the DM has left undecided.
type StagingExpirer interface {
	ExpireOlderThan(ctx context.Context, age time.Duration) int
}

// ApprovalExpiry keeps waiting players from being stuck behind an absent DM.
type ApprovalExpiry struct {
	stagings StagingExpirer
	age      time.Duration
}

func NewApprovalExpiry(stagings StagingExpirer, age time.Duration) *ApprovalExpiry {
	return &ApprovalExpiry{
		stagings: stagings,
		age:      age,
	}
}

func (e *ApprovalExpiry) Tick(ctx context.Context) error {
	expired := e.stagings.ExpireOlderThan(ctx, e.age)
	if expired > 0 {
		slog.InfoContext(ctx, "auto-resolved expired staging approvals", "count", expired)
	}
	return nil
}
