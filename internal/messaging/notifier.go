package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/worldsmith/engine/internal/queue"
)

// QueueSubject is the wakeup subject for a named queue.
func QueueSubject(queueName string) string {
	return fmt.Sprintf("queue.%s.wake", queueName)
}

// NatsNotifier carries queue wakeups over the broker, so an enqueue in one
// process wakes workers in every process serving the queue. The hint
// semantics match the in-process notifier: droppable, at most one retained.
type NatsNotifier struct {
	inner   *queue.ChannelNotifier
	broker  Broker
	subject string
	unsub   func()
}

// NewNatsNotifier subscribes a notifier to the queue's wakeup subject.
func NewNatsNotifier(broker Broker, queueName string) (*NatsNotifier, error) {
	n := &NatsNotifier{
		inner:   queue.NewChannelNotifier(),
		broker:  broker,
		subject: QueueSubject(queueName),
	}

	unsub, err := broker.Subscribe(n.subject, func(data []byte) {
		n.inner.Notify()
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", n.subject, err)
	}
	n.unsub = unsub
	return n, nil
}

// Notify publishes the wakeup. If the broker rejects it the local waiter
// is still nudged directly; remote workers fall back to their poll timer.
func (n *NatsNotifier) Notify() {
	if err := n.broker.Publish(n.subject, nil); err != nil {
		n.inner.Notify()
	}
}

func (n *NatsNotifier) Wait(ctx context.Context, timeout time.Duration) queue.WaitResult {
	return n.inner.Wait(ctx, timeout)
}

// Close drops the subject subscription.
func (n *NatsNotifier) Close() {
	if n.unsub != nil {
		n.unsub()
	}
}
