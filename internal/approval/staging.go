// Package approval implements the moderator gate: generated content is
// parked here until the DM rules on it, and the coordinators handle
// coalescing, regeneration, timeouts, and releasing whoever is waiting on
// the ruling.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/worldsmith/engine/internal/event"
	"github.com/worldsmith/engine/internal/game"
)

// ErrNotFound is returned when no pending approval matches the given id.
// A decision on a missing approval usually means it was already decided;
// callers treat it as a stale duplicate, not a fault.
var ErrNotFound = errors.New("pending approval not found")

// Broadcaster delivers messages to the connections of a world. Satisfied
// by the connection registry.
type Broadcaster interface {
	SendToDM(ctx context.Context, worldID string, data []byte) error
	BroadcastToWorld(ctx context.Context, worldID string, data []byte) int
}

// ModelRequester enqueues work for the narrative model. Satisfied by the
// model request queue.
type ModelRequester interface {
	Enqueue(ctx context.Context, payload game.ModelRequest) (uuid.UUID, error)
}

// StagingApplier commits an approved staging to world state.
type StagingApplier interface {
	ApplyStaging(ctx context.Context, worldID, regionID string, npcs []game.NPCProposal) error
}

// FallbackProposer builds a rule-based staging proposal. Used both as the
// instant first suggestion while the model call is in flight and as the
// resolution of record when an approval expires undecided.
type FallbackProposer func(worldID, regionID string, pcs []game.WaitingPC) []game.NPCProposal

// StagingApproval is one pending region staging awaiting a DM ruling.
type StagingApproval struct {
	RequestID   uuid.UUID           `json:"request_id"`
	WorldID     string              `json:"world_id"`
	RegionID    string              `json:"region_id"`
	Suggestions []game.NPCProposal  `json:"suggestions"`
	WaitingPCs  []game.WaitingPC    `json:"waiting_pcs"`
	Generating  bool                `json:"generating"`
	Guidance    string              `json:"guidance,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

func (a *StagingApproval) clone() *StagingApproval {
	out := *a
	out.Suggestions = append([]game.NPCProposal(nil), a.Suggestions...)
	out.WaitingPCs = append([]game.WaitingPC(nil), a.WaitingPCs...)
	return &out
}

// StagingCoordinator tracks pending stagings, at most one per world region.
// Players entering a region with a pending staging are coalesced onto it
// instead of spawning duplicate approvals.
type StagingCoordinator struct {
	mu      sync.Mutex
	pending map[string]*StagingApproval
	byID    map[uuid.UUID]string

	requests ModelRequester
	applier  StagingApplier
	fallback FallbackProposer
	cast     Broadcaster
	events   event.Publisher
	clock    game.Clock
}

// NewStagingCoordinator wires a coordinator. fallback must not be nil.
func NewStagingCoordinator(requests ModelRequester, applier StagingApplier, fallback FallbackProposer, cast Broadcaster, events event.Publisher, clock game.Clock) *StagingCoordinator {
	return &StagingCoordinator{
		pending:  map[string]*StagingApproval{},
		byID:     map[uuid.UUID]string{},
		requests: requests,
		applier:  applier,
		fallback: fallback,
		cast:     cast,
		events:   events,
		clock:    clock,
	}
}

func stagingKey(worldID, regionID string) string {
	return worldID + "/" + regionID
}

// Request asks for a staging of the region on behalf of an arriving PC.
// If one is already pending the PC joins its waiting list; otherwise a new
// approval is created with a rule-based proposal and a model refinement is
// queued. Returns the pending approval and whether it was newly created.
func (c *StagingCoordinator) Request(ctx context.Context, worldID, regionID string, pc game.WaitingPC) (*StagingApproval, bool, error) {
	key := stagingKey(worldID, regionID)

	c.mu.Lock()
	if existing, ok := c.pending[key]; ok {
		addWaiting(existing, pc)
		out := existing.clone()
		c.mu.Unlock()

		c.notifyDM(ctx, out)
		return out, false, nil
	}

	a := &StagingApproval{
		RequestID:   uuid.New(),
		WorldID:     worldID,
		RegionID:    regionID,
		Suggestions: c.fallback(worldID, regionID, []game.WaitingPC{pc}),
		Generating:  true,
		CreatedAt:   c.clock.Now(),
	}
	addWaiting(a, pc)
	c.pending[key] = a
	c.byID[a.RequestID] = key
	out := a.clone()
	c.mu.Unlock()

	if _, err := c.requests.Enqueue(ctx, game.ModelRequest{
		Kind:       game.ModelRequestStagingSuggestion,
		WorldID:    worldID,
		CallbackID: a.RequestID.String(),
	}); err != nil {
		// The rule-based suggestions still stand; the DM just won't get
		// a model refinement.
		slog.WarnContext(ctx, "queueing staging suggestion request", "world", worldID, "region", regionID, "error", err)
		c.setGenerating(a.RequestID, false)
		out.Generating = false
	}

	c.publish(ctx, event.KindApprovalRequested, out.WorldID, out.RequestID, "staging")
	c.notifyDM(ctx, out)
	return out, true, nil
}

// AddWaitingPC parks another PC behind a pending staging. Duplicate PC ids
// are ignored so a client retry cannot double-register.
func (c *StagingCoordinator) AddWaitingPC(ctx context.Context, requestID uuid.UUID, pc game.WaitingPC) error {
	c.mu.Lock()
	a, ok := c.get(requestID)
	if !ok {
		c.mu.Unlock()
		return ErrNotFound
	}
	addWaiting(a, pc)
	out := a.clone()
	c.mu.Unlock()

	c.notifyDM(ctx, out)
	return nil
}

// UpdateSuggestions replaces the proposal with model output. Called by the
// model worker when a refinement arrives; a response for an already-decided
// staging is dropped with ErrNotFound.
func (c *StagingCoordinator) UpdateSuggestions(ctx context.Context, requestID uuid.UUID, suggestions []game.NPCProposal) error {
	c.mu.Lock()
	a, ok := c.get(requestID)
	if !ok {
		c.mu.Unlock()
		return ErrNotFound
	}
	a.Suggestions = append([]game.NPCProposal(nil), suggestions...)
	a.Generating = false
	out := a.clone()
	c.mu.Unlock()

	c.notifyDM(ctx, out)
	return nil
}

// Regenerate queues a fresh model proposal with DM guidance.
func (c *StagingCoordinator) Regenerate(ctx context.Context, requestID uuid.UUID, guidance string) error {
	c.mu.Lock()
	a, ok := c.get(requestID)
	if !ok {
		c.mu.Unlock()
		return ErrNotFound
	}
	a.Generating = true
	a.Guidance = guidance
	worldID := a.WorldID
	c.mu.Unlock()

	_, err := c.requests.Enqueue(ctx, game.ModelRequest{
		Kind:       game.ModelRequestStagingSuggestion,
		WorldID:    worldID,
		Guidance:   guidance,
		CallbackID: requestID.String(),
	})
	if err != nil {
		c.setGenerating(requestID, false)
		return fmt.Errorf("queueing regeneration: %w", err)
	}
	return nil
}

// Approve commits a staging and releases the waiting PCs. A nil npcs slice
// approves the current suggestions as-is.
func (c *StagingCoordinator) Approve(ctx context.Context, requestID uuid.UUID, npcs []game.NPCProposal) ([]game.WaitingPC, error) {
	c.mu.Lock()
	a, ok := c.get(requestID)
	if !ok {
		c.mu.Unlock()
		return nil, ErrNotFound
	}
	if npcs == nil {
		npcs = append([]game.NPCProposal(nil), a.Suggestions...)
	}
	c.removeLocked(a)
	released := append([]game.WaitingPC(nil), a.WaitingPCs...)
	worldID, regionID := a.WorldID, a.RegionID
	c.mu.Unlock()

	if err := c.applier.ApplyStaging(ctx, worldID, regionID, npcs); err != nil {
		return nil, fmt.Errorf("applying staging: %w", err)
	}

	c.release(ctx, worldID, regionID, npcs, released)
	c.publish(ctx, event.KindApprovalDecided, worldID, requestID, "staging_approved")
	return released, nil
}

// Discard resolves a pending staging with no NPCs staged. The waiting PCs
// are released with an empty presence rather than left blocked behind a
// proposal that will never be approved. Discarding an already-resolved
// staging returns ErrNotFound.
func (c *StagingCoordinator) Discard(ctx context.Context, requestID uuid.UUID) error {
	c.mu.Lock()
	a, ok := c.get(requestID)
	if !ok {
		c.mu.Unlock()
		return ErrNotFound
	}
	c.removeLocked(a)
	released := append([]game.WaitingPC(nil), a.WaitingPCs...)
	worldID, regionID := a.WorldID, a.RegionID
	c.mu.Unlock()

	if err := c.applier.ApplyStaging(ctx, worldID, regionID, nil); err != nil {
		slog.WarnContext(ctx, "clearing discarded staging", "world", worldID, "region", regionID, "error", err)
	}
	c.release(ctx, worldID, regionID, nil, released)
	c.publish(ctx, event.KindApprovalDecided, worldID, requestID, "staging_discarded")
	return nil
}

// GetByRequestID returns a snapshot of one pending staging.
func (c *StagingCoordinator) GetByRequestID(requestID uuid.UUID) (*StagingApproval, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.get(requestID)
	if !ok {
		return nil, ErrNotFound
	}
	return a.clone(), nil
}

// PendingForWorld lists the pending stagings of a world.
func (c *StagingCoordinator) PendingForWorld(worldID string) []*StagingApproval {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*StagingApproval
	for _, a := range c.pending {
		if a.WorldID == worldID {
			out = append(out, a.clone())
		}
	}
	return out
}

// PendingForRegion returns the pending staging for one region, nil when
// none is outstanding.
func (c *StagingCoordinator) PendingForRegion(worldID, regionID string) *StagingApproval {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.pending[stagingKey(worldID, regionID)]
	if !ok {
		return nil
	}
	return a.clone()
}

// ExpireOlderThan auto-resolves stagings the DM left undecided. The current
// suggestions are applied so waiting players are never stuck forever behind
// an absent moderator. Returns the number resolved.
func (c *StagingCoordinator) ExpireOlderThan(ctx context.Context, age time.Duration) int {
	cutoff := c.clock.Now().Add(-age)

	c.mu.Lock()
	var expired []*StagingApproval
	for _, a := range c.pending {
		if a.CreatedAt.Before(cutoff) {
			expired = append(expired, a)
		}
	}
	for _, a := range expired {
		c.removeLocked(a)
	}
	c.mu.Unlock()

	for _, a := range expired {
		npcs := a.Suggestions
		if len(npcs) == 0 {
			npcs = c.fallback(a.WorldID, a.RegionID, a.WaitingPCs)
		}
		if err := c.applier.ApplyStaging(ctx, a.WorldID, a.RegionID, npcs); err != nil {
			slog.WarnContext(ctx, "applying expired staging", "world", a.WorldID, "region", a.RegionID, "error", err)
			continue
		}
		c.release(ctx, a.WorldID, a.RegionID, npcs, a.WaitingPCs)
		c.publish(ctx, event.KindApprovalExpired, a.WorldID, a.RequestID, "staging")
		slog.InfoContext(ctx, "staging auto-resolved after timeout",
			"world", a.WorldID, "region", a.RegionID, "waiting_pcs", len(a.WaitingPCs))
	}
	return len(expired)
}

func (c *StagingCoordinator) get(requestID uuid.UUID) (*StagingApproval, bool) {
	key, ok := c.byID[requestID]
	if !ok {
		return nil, false
	}
	a, ok := c.pending[key]
	return a, ok
}

func (c *StagingCoordinator) removeLocked(a *StagingApproval) {
	delete(c.pending, stagingKey(a.WorldID, a.RegionID))
	delete(c.byID, a.RequestID)
}

func (c *StagingCoordinator) setGenerating(requestID uuid.UUID, v bool) {
	c.mu.Lock()
	if a, ok := c.get(requestID); ok {
		a.Generating = v
	}
	c.mu.Unlock()
}

func addWaiting(a *StagingApproval, pc game.WaitingPC) {
	for _, w := range a.WaitingPCs {
		if w.PCID == pc.PCID {
			return
		}
	}
	a.WaitingPCs = append(a.WaitingPCs, pc)
}

func (c *StagingCoordinator) notifyDM(ctx context.Context, a *StagingApproval) {
	if c.cast == nil {
		return
	}
	data, err := json.Marshal(map[string]any{
		"type":     "staging_approval",
		"approval": a,
	})
	if err != nil {
		slog.WarnContext(ctx, "marshalling staging notice", "error", err)
		return
	}
	if err := c.cast.SendToDM(ctx, a.WorldID, data); err != nil {
		slog.DebugContext(ctx, "staging notice not delivered", "world", a.WorldID, "error", err)
	}
}

func (c *StagingCoordinator) release(ctx context.Context, worldID, regionID string, npcs []game.NPCProposal, released []game.WaitingPC) {
	if c.cast == nil {
		return
	}
	data, err := json.Marshal(map[string]any{
		"type":      "staging_applied",
		"region_id": regionID,
		"npcs":      npcs,
		"released":  released,
	})
	if err != nil {
		slog.WarnContext(ctx, "marshalling staging release", "error", err)
		return
	}
	c.cast.BroadcastToWorld(ctx, worldID, data)
}

func (c *StagingCoordinator) publish(ctx context.Context, kind event.Kind, worldID string, requestID uuid.UUID, detail string) {
	if c.events == nil {
		return
	}
	c.events.Publish(ctx, event.New(kind, worldID, map[string]string{
		"request_id": requestID.String(),
		"detail":     detail,
	}))
}
