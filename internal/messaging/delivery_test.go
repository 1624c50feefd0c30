package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pixil98/go-testutil"

	"github.com/worldsmith/engine/internal/queue"
)

// fakeBroker is an in-memory Broker with synchronous delivery.
type fakeBroker struct {
	mu       sync.Mutex
	handlers map[string][]func([]byte)
	failPub  bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: map[string][]func([]byte){}}
}

func (b *fakeBroker) Publish(subject string, data []byte) error {
	b.mu.Lock()
	if b.failPub {
		b.mu.Unlock()
		return context.DeadlineExceeded
	}
	handlers := make([]func([]byte), len(b.handlers[subject]))
	copy(handlers, b.handlers[subject])
	b.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
	return nil
}

func (b *fakeBroker) Subscribe(subject string, handler func([]byte)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[subject] = append(b.handlers[subject], handler)
	return func() {}, nil
}

func TestClientDelivery_RoundTrip(t *testing.T) {
	broker := newFakeBroker()
	d := NewClientDelivery(broker)
	id := uuid.New()

	var got []string
	unsub, err := d.SubscribeConnection(id, func(data []byte) {
		got = append(got, string(data))
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer unsub()

	send := d.SenderFor(id)
	if err := send(context.Background(), []byte("scene update")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	testutil.AssertEqual(t, "delivered", len(got), 1)
	testutil.AssertEqual(t, "payload", got[0], "scene update")
}

func TestClientDelivery_IsolatedPerConnection(t *testing.T) {
	broker := newFakeBroker()
	d := NewClientDelivery(broker)

	a, b := uuid.New(), uuid.New()

	var gotA, gotB int
	if _, err := d.SubscribeConnection(a, func([]byte) { gotA++ }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := d.SubscribeConnection(b, func([]byte) { gotB++ }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := d.SenderFor(a)(context.Background(), []byte("x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	testutil.AssertEqual(t, "a received", gotA, 1)
	testutil.AssertEqual(t, "b received", gotB, 0)
}

func TestNatsNotifier_WakeCrossesBroker(t *testing.T) {
	broker := newFakeBroker()

	// Two notifiers for the same queue simulate two engine processes
	first, err := NewNatsNotifier(broker, "player-actions")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := NewNatsNotifier(broker, "player-actions")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first.Notify()

	res := second.Wait(context.Background(), time.Second)
	testutil.AssertEqual(t, "remote wake", res, queue.WaitNotified)

	res = first.Wait(context.Background(), 20*time.Millisecond)
	testutil.AssertEqual(t, "local wake", res, queue.WaitNotified)
}

func TestNatsNotifier_PublishFailureFallsBackLocal(t *testing.T) {
	broker := newFakeBroker()
	n, err := NewNatsNotifier(broker, "dm-actions")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	broker.mu.Lock()
	broker.failPub = true
	broker.mu.Unlock()

	n.Notify()

	res := n.Wait(context.Background(), time.Second)
	testutil.AssertEqual(t, "local fallback wake", res, queue.WaitNotified)
}
