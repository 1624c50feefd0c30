package queue

import (
	"context"
	"time"
)

// WaitResult reports why a Wait call returned.
type WaitResult int

const (
	// WaitTimeout means no notification arrived within the timeout. Workers
	// must re-poll their queue on timeout: a notification can be lost when
	// it races a worker that has not started waiting yet, so the timeout is
	// the upper bound on recovery latency, not just a tuning knob.
	WaitTimeout WaitResult = iota
	// WaitNotified means Notify woke this waiter.
	WaitNotified
)

// Notifier is the per-queue wake primitive. Notify wakes at most one waiter;
// if nobody is waiting the wake is a droppable hint, not a durable signal.
type Notifier interface {
	Notify()
	Wait(ctx context.Context, timeout time.Duration) WaitResult
}

// ChannelNotifier is the in-process Notifier. A one-slot buffer retains at
// most one pending hint so an enqueue that narrowly precedes Wait is not
// always lost, without turning the hint into a counter.
type ChannelNotifier struct {
	ch chan struct{}
}

// NewChannelNotifier creates an in-process notifier.
func NewChannelNotifier() *ChannelNotifier {
	return &ChannelNotifier{ch: make(chan struct{}, 1)}
}

func (n *ChannelNotifier) Notify() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

func (n *ChannelNotifier) Wait(ctx context.Context, timeout time.Duration) WaitResult {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-n.ch:
		return WaitNotified
	case <-timer.C:
		return WaitTimeout
	case <-ctx.Done():
		return WaitTimeout
	}
}
