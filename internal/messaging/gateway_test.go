package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pixil98/go-testutil"

	"github.com/worldsmith/engine/internal/connection"
	"github.com/worldsmith/engine/internal/game"
)

type fakeEnqueuer[T any] struct {
	mu       sync.Mutex
	payloads []T
}

func (f *fakeEnqueuer[T]) Enqueue(ctx context.Context, payload T) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return uuid.New(), nil
}

func (f *fakeEnqueuer[T]) all() []T {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]T(nil), f.payloads...)
}

type gatewayHarness struct {
	broker        *fakeBroker
	registry      *connection.Registry
	gateway       *Gateway
	playerActions *fakeEnqueuer[game.PlayerAction]
	dmActions     *fakeEnqueuer[game.DMAction]
	assetRequests *fakeEnqueuer[game.AssetRequest]

	cancel context.CancelFunc
	done   chan error
}

func startGateway(t *testing.T) *gatewayHarness {
	t.Helper()

	h := &gatewayHarness{
		broker:        newFakeBroker(),
		registry:      connection.NewRegistry(nil),
		playerActions: &fakeEnqueuer[game.PlayerAction]{},
		dmActions:     &fakeEnqueuer[game.DMAction]{},
		assetRequests: &fakeEnqueuer[game.AssetRequest]{},
		done:          make(chan error, 1),
	}
	h.gateway = NewGateway(h.broker, h.registry, NewClientDelivery(h.broker),
		h.playerActions, h.dmActions, h.assetRequests)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.gateway.Start(ctx) }()

	// Wait until every subject is wired
	deadline := time.After(2 * time.Second)
	for {
		h.broker.mu.Lock()
		n := len(h.broker.handlers)
		h.broker.mu.Unlock()
		if n >= 8 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("gateway never subscribed")
		case <-time.After(time.Millisecond):
		}
	}

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Error("gateway did not stop")
		}
	})
	return h
}

func (h *gatewayHarness) publish(t *testing.T, subject string, body any) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("encoding request: %v", err)
	}
	if err := h.broker.Publish(subject, data); err != nil {
		t.Fatalf("publishing %s: %v", subject, err)
	}
}

func (h *gatewayHarness) register(t *testing.T, userID, clientID string) {
	t.Helper()
	h.publish(t, SubjectRegister, map[string]string{"user_id": userID, "client_id": clientID})

	deadline := time.After(2 * time.Second)
	for {
		if _, err := h.registry.GetByClient(clientID); err == nil {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("client %s never registered", clientID)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestGateway_RegisterAndDeliver(t *testing.T) {
	h := startGateway(t)

	var mu sync.Mutex
	var replies, delivered []string
	if _, err := h.broker.Subscribe(ReplySubject("client-1"), func(data []byte) {
		mu.Lock()
		replies = append(replies, string(data))
		mu.Unlock()
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h.register(t, "u1", "client-1")

	mu.Lock()
	testutil.AssertEqual(t, "ack count", len(replies), 1)
	var ack struct {
		Type         string    `json:"type"`
		ConnectionID uuid.UUID `json:"connection_id"`
	}
	if err := json.Unmarshal([]byte(replies[0]), &ack); err != nil {
		t.Fatalf("decoding ack: %v", err)
	}
	mu.Unlock()
	testutil.AssertEqual(t, "ack type", ack.Type, "registered")

	// World traffic lands on the connection's own subject
	if _, err := h.broker.Subscribe(ConnectionSubject(ack.ConnectionID), func(data []byte) {
		mu.Lock()
		delivered = append(delivered, string(data))
		mu.Unlock()
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h.publish(t, SubjectJoin, map[string]any{"client_id": "client-1", "world_id": "w1", "role": "player", "pc_id": "pc-1"})

	deadline := time.After(2 * time.Second)
	for h.registry.BroadcastToWorld(context.Background(), "w1", []byte(`{"type":"ping"}`)) == 0 {
		select {
		case <-deadline:
			t.Fatal("connection never joined world")
		case <-time.After(time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) == 0 {
		t.Fatal("no delivery on connection subject")
	}
	testutil.AssertEqual(t, "delivered payload", delivered[len(delivered)-1], `{"type":"ping"}`)
}

func TestGateway_JoinReplyCarriesRoster(t *testing.T) {
	h := startGateway(t)
	ctx := context.Background()

	h.register(t, "alice", "client-dm")
	dm, err := h.registry.GetByClient("client-dm")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := h.registry.JoinWorld(ctx, dm.ID, "w1", connection.RoleDM, "", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h.register(t, "bob", "client-2")

	var mu sync.Mutex
	var replies []string
	if _, err := h.broker.Subscribe(ReplySubject("client-2"), func(data []byte) {
		mu.Lock()
		replies = append(replies, string(data))
		mu.Unlock()
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h.publish(t, SubjectJoin, map[string]any{
		"client_id": "client-2", "world_id": "w1", "role": "player", "pc_id": "pc-1",
	})

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(replies)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("no join reply")
		case <-time.After(time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	var ack struct {
		Type  string                     `json:"type"`
		Users []connection.ConnectedUser `json:"users"`
	}
	if err := json.Unmarshal([]byte(replies[0]), &ack); err != nil {
		t.Fatalf("decoding ack: %v", err)
	}
	testutil.AssertEqual(t, "ack type", ack.Type, "joined")
	testutil.AssertEqual(t, "roster size", len(ack.Users), 2)

	byUser := map[string]connection.ConnectedUser{}
	for _, u := range ack.Users {
		byUser[u.UserID] = u
	}
	testutil.AssertEqual(t, "dm listed", byUser["alice"].Role, connection.RoleDM)
	testutil.AssertEqual(t, "joiner listed", byUser["bob"].PCID, "pc-1")
}

func TestGateway_PlayerActionUsesRegistryIdentity(t *testing.T) {
	h := startGateway(t)
	ctx := context.Background()

	h.register(t, "u1", "client-1")
	info, err := h.registry.GetByClient("client-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := h.registry.JoinWorld(ctx, info.ID, "w1", connection.RolePlayer, "pc-1", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h.publish(t, SubjectPlayerAction, map[string]any{
		"client_id": "client-1",
		"action": map[string]any{
			"world_id":    "spoofed",
			"player_id":   "spoofed",
			"pc_id":       "spoofed",
			"action_type": "move",
			"target":      "gate",
		},
	})

	deadline := time.After(2 * time.Second)
	for len(h.playerActions.all()) == 0 {
		select {
		case <-deadline:
			t.Fatal("action never enqueued")
		case <-time.After(time.Millisecond):
		}
	}

	got := h.playerActions.all()[0]
	testutil.AssertEqual(t, "world from registry", got.WorldID, "w1")
	testutil.AssertEqual(t, "user from registry", got.PlayerID, "u1")
	testutil.AssertEqual(t, "pc from registry", got.PCID, "pc-1")
	testutil.AssertEqual(t, "action preserved", got.ActionType, "move")
}

func TestGateway_DMActionRequiresDMSeat(t *testing.T) {
	h := startGateway(t)
	ctx := context.Background()

	h.register(t, "u1", "client-1")
	info, err := h.registry.GetByClient("client-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := h.registry.JoinWorld(ctx, info.ID, "w1", connection.RolePlayer, "pc-1", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var mu sync.Mutex
	var replies []string
	if _, err := h.broker.Subscribe(ReplySubject("client-1"), func(data []byte) {
		mu.Lock()
		replies = append(replies, string(data))
		mu.Unlock()
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h.publish(t, SubjectDMAction, map[string]any{
		"client_id": "client-1",
		"action":    map[string]any{"kind": "trigger_event", "event_id": "ev-1"},
	})

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(replies)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("no error reply")
		case <-time.After(time.Millisecond):
		}
	}

	testutil.AssertEqual(t, "nothing enqueued", len(h.dmActions.all()), 0)

	// With the DM seat the action goes through
	if _, err := h.registry.JoinWorld(ctx, info.ID, "w1", connection.RoleDM, "", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.publish(t, SubjectDMAction, map[string]any{
		"client_id": "client-1",
		"action":    map[string]any{"kind": "trigger_event", "event_id": "ev-1"},
	})

	deadline = time.After(2 * time.Second)
	for len(h.dmActions.all()) == 0 {
		select {
		case <-deadline:
			t.Fatal("dm action never enqueued")
		case <-time.After(time.Millisecond):
		}
	}

	got := h.dmActions.all()[0]
	testutil.AssertEqual(t, "world stamped", got.WorldID, "w1")
	testutil.AssertEqual(t, "dm stamped", got.DMID, "u1")
}
