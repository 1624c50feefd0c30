package connection

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/worldsmith/engine/internal/event"
)

type conn struct {
	id             uuid.UUID
	userID         string
	clientID       string
	worldID        string
	role           Role
	pcID           string
	spectateTarget string
	send           Sender
}

func (c *conn) info() Info {
	return Info{
		ID:             c.id,
		UserID:         c.userID,
		ClientID:       c.clientID,
		WorldID:        c.worldID,
		Role:           c.role,
		PCID:           c.pcID,
		SpectateTarget: c.spectateTarget,
	}
}

// worldState holds the per-world membership sets. A world state exists only
// while at least one connection is in the world. The DM seat belongs to one
// user but may span several connections, so a moderator can run a second
// screen against the same world.
type worldState struct {
	dmUserID   string
	dms        map[uuid.UUID]struct{}
	players    map[uuid.UUID]struct{}
	spectators map[uuid.UUID]struct{}
}

func newWorldState() *worldState {
	return &worldState{
		dms:        map[uuid.UUID]struct{}{},
		players:    map[uuid.UUID]struct{}{},
		spectators: map[uuid.UUID]struct{}{},
	}
}

func (w *worldState) empty() bool {
	return len(w.dms) == 0 && len(w.players) == 0 && len(w.spectators) == 0
}

// Registry tracks live connections and world membership under one lock.
// Send calls happen outside the lock so a slow client cannot stall joins
// or other broadcasts.
type Registry struct {
	mu       sync.RWMutex
	conns    map[uuid.UUID]*conn
	byClient map[string]uuid.UUID
	worlds   map[string]*worldState

	events event.Publisher
}

// NewRegistry creates an empty registry. The publisher may be nil when
// join/leave events are not wanted, like in tests.
func NewRegistry(events event.Publisher) *Registry {
	return &Registry{
		conns:    map[uuid.UUID]*conn{},
		byClient: map[string]uuid.UUID{},
		worlds:   map[string]*worldState{},
		events:   events,
	}
}

// Register adds a connection and returns its id. A client id maps to at
// most one connection; registering a client again drops its previous
// connection first, which covers reconnects after a network blip.
func (r *Registry) Register(ctx context.Context, userID, clientID string, send Sender) uuid.UUID {
	r.mu.Lock()
	if prev, ok := r.byClient[clientID]; ok {
		r.removeLocked(ctx, prev)
	}

	c := &conn{
		id:       uuid.New(),
		userID:   userID,
		clientID: clientID,
		send:     send,
	}
	r.conns[c.id] = c
	r.byClient[clientID] = c.id
	r.mu.Unlock()

	slog.DebugContext(ctx, "connection registered", "connection", c.id, "user", userID, "client", clientID)
	return c.id
}

// Unregister removes a connection, leaving its world first if needed.
func (r *Registry) Unregister(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[id]; !ok {
		return ErrNotFound
	}
	r.removeLocked(ctx, id)
	return nil
}

func (r *Registry) removeLocked(ctx context.Context, id uuid.UUID) {
	c, ok := r.conns[id]
	if !ok {
		return
	}
	r.leaveLocked(ctx, c)
	delete(r.conns, id)
	if r.byClient[c.clientID] == id {
		delete(r.byClient, c.clientID)
	}
}

// JoinWorld places a connection in a world under the given role and
// returns the participant roster as of the join, snapshotted under the
// same lock so concurrent joins cannot slip between insertion and
// snapshot. Joining while already in a world leaves the old world first.
//
// The DM seat is per user, not per connection: further DM joins by the
// seat holder coexist (multi-screen moderation). A DM join by a
// different user fails with ErrSeatTaken unless takeOver is set, which
// demotes every seat-holder connection to spectator. A player join for a
// character already bound to another live connection fails with
// ErrConnectionLocked unless takeOver is set or the holder is the same
// user; stealing force-leaves the old connection and tells it why.
func (r *Registry) JoinWorld(ctx context.Context, id uuid.UUID, worldID string, role Role, pcID string, takeOver bool) ([]ConnectedUser, error) {
	r.mu.Lock()

	c, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrNotFound
	}

	w, ok := r.worlds[worldID]
	if !ok {
		w = newWorldState()
	}

	if role == RoleDM && len(w.dms) > 0 && w.dmUserID != c.userID {
		if !takeOver {
			r.mu.Unlock()
			return nil, ErrSeatTaken
		}
		for old := range w.dms {
			if oc, ok := r.conns[old]; ok {
				oc.role = RoleSpectator
				w.spectators[old] = struct{}{}
			}
		}
		slog.InfoContext(ctx, "dm seat taken over",
			"world", worldID, "old_user", w.dmUserID, "new_user", c.userID)
		w.dms = map[uuid.UUID]struct{}{}
		w.dmUserID = ""
	}

	var evicted *conn
	if role == RolePlayer && pcID != "" {
		for pid := range w.players {
			p := r.conns[pid]
			if p == nil || p.id == id || p.pcID != pcID {
				continue
			}
			if !takeOver && p.userID != c.userID {
				r.mu.Unlock()
				return nil, ErrConnectionLocked
			}
			evicted = p
			break
		}
	}

	var evictedInfo Info
	var evictedSend Sender
	if evicted != nil {
		evictedInfo = evicted.info()
		evictedSend = evicted.send
		r.leaveLocked(ctx, evicted)
		slog.InfoContext(ctx, "character connection stolen",
			"world", worldID, "pc", pcID, "old_user", evictedInfo.UserID, "new_user", c.userID)
	}

	r.leaveLocked(ctx, c)
	r.worlds[worldID] = w

	c.worldID = worldID
	c.role = role
	c.pcID = ""
	c.spectateTarget = ""

	switch role {
	case RoleDM:
		w.dms[id] = struct{}{}
		w.dmUserID = c.userID
	case RolePlayer:
		c.pcID = pcID
		w.players[id] = struct{}{}
	default:
		w.spectators[id] = struct{}{}
	}
	info := c.info()
	roster := r.rosterLocked(w)
	r.mu.Unlock()

	if evicted != nil {
		r.publish(ctx, event.KindConnectionLeft, worldID, evictedInfo)
		if evictedSend != nil {
			msg := []byte(`{"type":"connection_replaced","reason":"character taken over"}`)
			if err := evictedSend(ctx, msg); err != nil {
				slog.WarnContext(ctx, "notifying evicted connection failed",
					"connection", evictedInfo.ID, "error", err)
			}
		}
	}

	r.publish(ctx, event.KindConnectionJoined, worldID, info)
	return roster, nil
}

// LeaveWorld removes a connection from its current world. Leaving while
// not in a world is a no-op.
func (r *Registry) LeaveWorld(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	c, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}

	worldID := c.worldID
	info := c.info()
	r.leaveLocked(ctx, c)
	r.mu.Unlock()

	if worldID != "" {
		r.publish(ctx, event.KindConnectionLeft, worldID, info)
	}
	return nil
}

func (r *Registry) leaveLocked(ctx context.Context, c *conn) {
	if c.worldID == "" {
		return
	}

	w, ok := r.worlds[c.worldID]
	if ok {
		delete(w.dms, c.id)
		if len(w.dms) == 0 {
			w.dmUserID = ""
		}
		delete(w.players, c.id)
		delete(w.spectators, c.id)
		if w.empty() {
			delete(r.worlds, c.worldID)
		}
	}

	c.worldID = ""
	c.role = ""
	c.pcID = ""
	c.spectateTarget = ""
}

// Get returns the public view of one connection.
func (r *Registry) Get(id uuid.UUID) (Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[id]
	if !ok {
		return Info{}, ErrNotFound
	}
	return c.info(), nil
}

// GetByClient resolves a client id to its connection.
func (r *Registry) GetByClient(clientID string) (Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byClient[clientID]
	if !ok {
		return Info{}, ErrNotFound
	}
	return r.conns[id].info(), nil
}

// GetUserIDByClientID resolves a client id to the user behind it.
func (r *Registry) GetUserIDByClientID(clientID string) (string, error) {
	info, err := r.GetByClient(clientID)
	if err != nil {
		return "", err
	}
	return info.UserID, nil
}

// GetWorldIDByClientID returns the world a client is in, empty when the
// connection has not joined one.
func (r *Registry) GetWorldIDByClientID(clientID string) (string, error) {
	info, err := r.GetByClient(clientID)
	if err != nil {
		return "", err
	}
	return info.WorldID, nil
}

// IsDMByClientID reports whether a client currently holds a DM seat.
func (r *Registry) IsDMByClientID(clientID string) bool {
	info, err := r.GetByClient(clientID)
	return err == nil && info.Role == RoleDM
}

// SetSpectateTarget points a spectator connection at a character to follow.
func (r *Registry) SetSpectateTarget(id uuid.UUID, pcID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return ErrNotFound
	}
	c.spectateTarget = pcID
	return nil
}

// BroadcastToWorld delivers data to every connection in the world and
// returns the number of successful deliveries. Failed sends are logged
// and skipped; one bad client never blocks the rest.
func (r *Registry) BroadcastToWorld(ctx context.Context, worldID string, data []byte) int {
	return r.deliver(ctx, r.collect(worldID, true, true, true, uuid.Nil), data)
}

// BroadcastToWorldExcept delivers to every world connection but one,
// typically the originator of the message.
func (r *Registry) BroadcastToWorldExcept(ctx context.Context, worldID string, except uuid.UUID, data []byte) int {
	return r.deliver(ctx, r.collect(worldID, true, true, true, except), data)
}

// BroadcastExceptClient is BroadcastToWorldExcept keyed by client id, for
// callers that only know the request's originating client.
func (r *Registry) BroadcastExceptClient(ctx context.Context, worldID, clientID string, data []byte) int {
	r.mu.RLock()
	except := r.byClient[clientID]
	r.mu.RUnlock()
	return r.BroadcastToWorldExcept(ctx, worldID, except, data)
}

// BroadcastToPlayers delivers to player and spectator connections only.
func (r *Registry) BroadcastToPlayers(ctx context.Context, worldID string, data []byte) int {
	return r.deliver(ctx, r.collect(worldID, false, true, true, uuid.Nil), data)
}

// SendToDM delivers to every DM connection in the world. The seat holder
// may have several screens open; all of them get the message. Returns
// ErrNoDM when the seat is empty.
func (r *Registry) SendToDM(ctx context.Context, worldID string, data []byte) error {
	targets := r.collect(worldID, true, false, false, uuid.Nil)
	if len(targets) == 0 {
		return ErrNoDM
	}
	r.deliver(ctx, targets, data)
	return nil
}

// BroadcastToDMs delivers to the DM connections only and returns the
// number of successful deliveries.
func (r *Registry) BroadcastToDMs(ctx context.Context, worldID string, data []byte) int {
	return r.deliver(ctx, r.collect(worldID, true, false, false, uuid.Nil), data)
}

// DMUserID returns the user holding the world's DM seat.
func (r *Registry) DMUserID(worldID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.worlds[worldID]
	if !ok || len(w.dms) == 0 {
		return "", ErrNoDM
	}
	return w.dmUserID, nil
}

// HasDM reports whether the world's DM seat is held.
func (r *Registry) HasDM(worldID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.worlds[worldID]
	return ok && len(w.dms) > 0
}

// SendToUser delivers to every connection the user has in the world.
// Returns ErrNotFound if the user has none.
func (r *Registry) SendToUser(ctx context.Context, worldID, userID string, data []byte) error {
	r.mu.RLock()
	var targets []*conn
	for _, c := range r.conns {
		if c.worldID == worldID && c.userID == userID {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	if len(targets) == 0 {
		return ErrNotFound
	}
	r.deliver(ctx, targets, data)
	return nil
}

// FindPlayerForPC returns the player connection controlling a character.
func (r *Registry) FindPlayerForPC(worldID, pcID string) (Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.worlds[worldID]
	if !ok {
		return Info{}, ErrNotFound
	}
	for id := range w.players {
		if c := r.conns[id]; c.pcID == pcID {
			return c.info(), nil
		}
	}
	return Info{}, ErrNotFound
}

// GetWorldPCs lists the characters currently controlled in a world.
func (r *Registry) GetWorldPCs(worldID string) []PC {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.worlds[worldID]
	if !ok {
		return nil
	}

	var out []PC
	for id := range w.players {
		c := r.conns[id]
		if c.pcID != "" {
			out = append(out, PC{PCID: c.pcID, UserID: c.userID, ConnectionID: id})
		}
	}
	return out
}

// ConnectedUsers lists the participants of a world.
func (r *Registry) ConnectedUsers(worldID string) []ConnectedUser {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.worlds[worldID]
	if !ok {
		return nil
	}
	return r.rosterLocked(w)
}

func (r *Registry) rosterLocked(w *worldState) []ConnectedUser {
	var out []ConnectedUser
	for id := range w.dms {
		out = append(out, ConnectedUser{UserID: r.conns[id].userID, Role: RoleDM})
	}
	for id := range w.players {
		c := r.conns[id]
		out = append(out, ConnectedUser{UserID: c.userID, Role: RolePlayer, PCID: c.pcID})
	}
	for id := range w.spectators {
		out = append(out, ConnectedUser{UserID: r.conns[id].userID, Role: RoleSpectator})
	}
	return out
}

// Stats returns a census of connections and worlds.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		Connections: len(r.conns),
		Worlds:      len(r.worlds),
	}
	for _, w := range r.worlds {
		s.DMs += len(w.dms)
		s.Players += len(w.players)
		s.Spectators += len(w.spectators)
	}
	return s
}

func (r *Registry) collect(worldID string, dm, players, spectators bool, except uuid.UUID) []*conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.worlds[worldID]
	if !ok {
		return nil
	}

	var out []*conn
	add := func(id uuid.UUID) {
		if id == except {
			return
		}
		if c, ok := r.conns[id]; ok {
			out = append(out, c)
		}
	}

	if dm {
		for id := range w.dms {
			add(id)
		}
	}
	if players {
		for id := range w.players {
			add(id)
		}
	}
	if spectators {
		for id := range w.spectators {
			add(id)
		}
	}
	return out
}

func (r *Registry) deliver(ctx context.Context, targets []*conn, data []byte) int {
	sent := 0
	for _, c := range targets {
		if err := c.send(ctx, data); err != nil {
			slog.WarnContext(ctx, "send failed", "connection", c.id, "user", c.userID, "error", err)
			continue
		}
		sent++
	}
	return sent
}

func (r *Registry) publish(ctx context.Context, kind event.Kind, worldID string, info Info) {
	if r.events == nil {
		return
	}
	r.events.Publish(ctx, event.New(kind, worldID, map[string]string{
		"connection_id": info.ID.String(),
		"user_id":       info.UserID,
		"role":          string(info.Role),
		"pc_id":         info.PCID,
	}))
}
