package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/worldsmith/engine/internal/connection"
	"github.com/worldsmith/engine/internal/game"
)

// Gateway subjects. Transport frontends publish engine requests here and
// listen on gateway.reply.<client-id> for acks plus conn.<connection-id>
// for world traffic.
const (
	SubjectRegister     = "gateway.register"
	SubjectUnregister   = "gateway.unregister"
	SubjectJoin         = "gateway.join"
	SubjectLeave        = "gateway.leave"
	SubjectSpectate     = "gateway.spectate"
	SubjectPlayerAction = "gateway.player_action"
	SubjectDMAction     = "gateway.dm_action"
	SubjectAssetRequest = "gateway.asset_request"
)

// ReplySubject is where a client's request acks land.
func ReplySubject(clientID string) string {
	return fmt.Sprintf("gateway.reply.%s", clientID)
}

// Enqueuer is the queue surface the gateway feeds.
type Enqueuer[T any] interface {
	Enqueue(ctx context.Context, payload T) (uuid.UUID, error)
}

// Gateway bridges broker subjects to the registry and the work queues. It
// is the engine's only inbound edge: everything a frontend can do arrives
// through it.
type Gateway struct {
	broker        Broker
	registry      *connection.Registry
	delivery      *ClientDelivery
	playerActions Enqueuer[game.PlayerAction]
	dmActions     Enqueuer[game.DMAction]
	assetRequests Enqueuer[game.AssetRequest]
}

func NewGateway(broker Broker, registry *connection.Registry, delivery *ClientDelivery,
	playerActions Enqueuer[game.PlayerAction], dmActions Enqueuer[game.DMAction],
	assetRequests Enqueuer[game.AssetRequest]) *Gateway {
	return &Gateway{
		broker:        broker,
		registry:      registry,
		delivery:      delivery,
		playerActions: playerActions,
		dmActions:     dmActions,
		assetRequests: assetRequests,
	}
}

// Start subscribes the gateway subjects and blocks until ctx is done. The
// broker may still be starting when the worker list launches, so the
// initial subscribe is retried.
func (g *Gateway) Start(ctx context.Context) error {
	unsubs, err := g.subscribeAll(ctx)
	if err != nil {
		return err
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
	}()

	slog.InfoContext(ctx, "gateway listening")
	<-ctx.Done()
	return nil
}

func (g *Gateway) subscribeAll(ctx context.Context) ([]func(), error) {
	handlers := map[string]func(context.Context, []byte){
		SubjectRegister:     g.handleRegister,
		SubjectUnregister:   g.handleUnregister,
		SubjectJoin:         g.handleJoin,
		SubjectLeave:        g.handleLeave,
		SubjectSpectate:     g.handleSpectate,
		SubjectPlayerAction: g.handlePlayerAction,
		SubjectDMAction:     g.handleDMAction,
		SubjectAssetRequest: g.handleAssetRequest,
	}

	var unsubs []func()
	for subject, handler := range handlers {
		subject, handler := subject, handler
		unsub, err := g.subscribeRetry(ctx, subject, func(data []byte) {
			handler(ctx, data)
		})
		if err != nil {
			for _, u := range unsubs {
				u()
			}
			return nil, fmt.Errorf("subscribing %s: %w", subject, err)
		}
		unsubs = append(unsubs, unsub)
	}
	return unsubs, nil
}

func (g *Gateway) subscribeRetry(ctx context.Context, subject string, handler func([]byte)) (func(), error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		unsub, err := g.broker.Subscribe(subject, handler)
		if err == nil {
			return unsub, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("broker never became ready: %w", err)
		case <-ticker.C:
		}
	}
}

type registerRequest struct {
	UserID   string `json:"user_id"`
	ClientID string `json:"client_id"`
}

func (g *Gateway) handleRegister(ctx context.Context, data []byte) {
	var req registerRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ClientID == "" || req.UserID == "" {
		slog.WarnContext(ctx, "dropping malformed register request", "error", err)
		return
	}

	// The delivery subject keys on the connection id, which Register
	// itself allocates, so the sender binds after the fact.
	ls := &lazySender{}
	id := g.registry.Register(ctx, req.UserID, req.ClientID, ls.Send)
	ls.bind(g.delivery.SenderFor(id))

	g.reply(ctx, req.ClientID, map[string]any{"type": "registered", "connection_id": id})
}

type lazySender struct {
	mu   sync.Mutex
	send connection.Sender
}

func (l *lazySender) bind(send connection.Sender) {
	l.mu.Lock()
	l.send = send
	l.mu.Unlock()
}

func (l *lazySender) Send(ctx context.Context, data []byte) error {
	l.mu.Lock()
	send := l.send
	l.mu.Unlock()
	if send == nil {
		return errors.New("connection delivery not bound yet")
	}
	return send(ctx, data)
}

type clientRequest struct {
	ClientID string `json:"client_id"`
}

func (g *Gateway) handleUnregister(ctx context.Context, data []byte) {
	var req clientRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ClientID == "" {
		slog.WarnContext(ctx, "dropping malformed unregister request", "error", err)
		return
	}

	info, err := g.registry.GetByClient(req.ClientID)
	if err != nil {
		return
	}
	if err := g.registry.Unregister(ctx, info.ID); err != nil {
		slog.WarnContext(ctx, "unregistering connection", "client", req.ClientID, "error", err)
	}
}

type joinRequest struct {
	ClientID string          `json:"client_id"`
	WorldID  string          `json:"world_id"`
	Role     connection.Role `json:"role"`
	PCID     string          `json:"pc_id,omitempty"`
	TakeOver bool            `json:"take_over,omitempty"`
}

func (g *Gateway) handleJoin(ctx context.Context, data []byte) {
	var req joinRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ClientID == "" || req.WorldID == "" {
		slog.WarnContext(ctx, "dropping malformed join request", "error", err)
		return
	}

	info, err := g.registry.GetByClient(req.ClientID)
	if err != nil {
		g.replyError(ctx, req.ClientID, "join", err)
		return
	}
	roster, err := g.registry.JoinWorld(ctx, info.ID, req.WorldID, req.Role, req.PCID, req.TakeOver)
	if err != nil {
		g.replyError(ctx, req.ClientID, "join", err)
		return
	}
	g.reply(ctx, req.ClientID, map[string]any{
		"type":     "joined",
		"world_id": req.WorldID,
		"role":     req.Role,
		"users":    roster,
	})
}

func (g *Gateway) handleLeave(ctx context.Context, data []byte) {
	var req clientRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ClientID == "" {
		slog.WarnContext(ctx, "dropping malformed leave request", "error", err)
		return
	}

	info, err := g.registry.GetByClient(req.ClientID)
	if err != nil {
		return
	}
	if err := g.registry.LeaveWorld(ctx, info.ID); err != nil {
		g.replyError(ctx, req.ClientID, "leave", err)
	}
}

type spectateRequest struct {
	ClientID string `json:"client_id"`
	PCID     string `json:"pc_id"`
}

func (g *Gateway) handleSpectate(ctx context.Context, data []byte) {
	var req spectateRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ClientID == "" {
		slog.WarnContext(ctx, "dropping malformed spectate request", "error", err)
		return
	}

	info, err := g.registry.GetByClient(req.ClientID)
	if err != nil {
		g.replyError(ctx, req.ClientID, "spectate", err)
		return
	}
	if err := g.registry.SetSpectateTarget(info.ID, req.PCID); err != nil {
		g.replyError(ctx, req.ClientID, "spectate", err)
	}
}

type playerActionRequest struct {
	ClientID string `json:"client_id"`
	Action   game.PlayerAction `json:"action"`
}

func (g *Gateway) handlePlayerAction(ctx context.Context, data []byte) {
	var req playerActionRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ClientID == "" {
		slog.WarnContext(ctx, "dropping malformed player action", "error", err)
		return
	}

	info, err := g.registry.GetByClient(req.ClientID)
	if err != nil || info.WorldID == "" {
		g.replyError(ctx, req.ClientID, "player_action", errors.New("not in a world"))
		return
	}

	// The registry, not the client, is authoritative for identity
	req.Action.WorldID = info.WorldID
	req.Action.PlayerID = info.UserID
	req.Action.PCID = info.PCID
	if req.Action.Timestamp.IsZero() {
		req.Action.Timestamp = time.Now().UTC()
	}

	if _, err := g.playerActions.Enqueue(ctx, req.Action); err != nil {
		g.replyError(ctx, req.ClientID, "player_action", err)
	}
}

type dmActionRequest struct {
	ClientID string        `json:"client_id"`
	Action   game.DMAction `json:"action"`
}

func (g *Gateway) handleDMAction(ctx context.Context, data []byte) {
	var req dmActionRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ClientID == "" {
		slog.WarnContext(ctx, "dropping malformed dm action", "error", err)
		return
	}

	if !g.registry.IsDMByClientID(req.ClientID) {
		g.replyError(ctx, req.ClientID, "dm_action", errors.New("not the dm of a world"))
		return
	}

	info, err := g.registry.GetByClient(req.ClientID)
	if err != nil {
		g.replyError(ctx, req.ClientID, "dm_action", err)
		return
	}
	req.Action.WorldID = info.WorldID
	req.Action.DMID = info.UserID
	if req.Action.Timestamp.IsZero() {
		req.Action.Timestamp = time.Now().UTC()
	}

	if _, err := g.dmActions.Enqueue(ctx, req.Action); err != nil {
		g.replyError(ctx, req.ClientID, "dm_action", err)
	}
}

type assetRequest struct {
	ClientID string            `json:"client_id"`
	Request  game.AssetRequest `json:"request"`
}

func (g *Gateway) handleAssetRequest(ctx context.Context, data []byte) {
	var req assetRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ClientID == "" {
		slog.WarnContext(ctx, "dropping malformed asset request", "error", err)
		return
	}

	// Asset generation is moderator-gated; it is expensive and shapes the
	// table's visuals.
	if !g.registry.IsDMByClientID(req.ClientID) {
		g.replyError(ctx, req.ClientID, "asset_request", errors.New("not the dm of a world"))
		return
	}

	info, err := g.registry.GetByClient(req.ClientID)
	if err != nil {
		g.replyError(ctx, req.ClientID, "asset_request", err)
		return
	}
	req.Request.WorldID = info.WorldID

	if _, err := g.assetRequests.Enqueue(ctx, req.Request); err != nil {
		g.replyError(ctx, req.ClientID, "asset_request", err)
	}
}

func (g *Gateway) reply(ctx context.Context, clientID string, body map[string]any) {
	data, err := json.Marshal(body)
	if err != nil {
		slog.WarnContext(ctx, "encoding reply", "client", clientID, "error", err)
		return
	}
	if err := g.broker.Publish(ReplySubject(clientID), data); err != nil {
		slog.WarnContext(ctx, "publishing reply", "client", clientID, "error", err)
	}
}

func (g *Gateway) replyError(ctx context.Context, clientID, op string, err error) {
	slog.WarnContext(ctx, "gateway request failed", "client", clientID, "op", op, "error", err)
	g.reply(ctx, clientID, map[string]any{"type": "error", "op": op, "error": err.Error()})
}
