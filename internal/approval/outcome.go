package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/worldsmith/engine/internal/effect"
	"github.com/worldsmith/engine/internal/event"
	"github.com/worldsmith/engine/internal/game"
)

// EffectRunner applies approved effects. Satisfied by the effect executor.
type EffectRunner interface {
	ExecuteEffects(ctx context.Context, worldID string, effects []game.Effect, source effect.Source) effect.Result
}

// OutcomeProposal is generated narration for a challenge resolution, plus
// the tool calls the model wants executed alongside it.
type OutcomeProposal struct {
	ResolutionID  string              `json:"resolution_id"`
	WorldID       string              `json:"world_id"`
	PCID          string              `json:"pc_id"`
	PCName        string              `json:"pc_name,omitempty"`
	ChallengeID   string              `json:"challenge_id"`
	ChallengeName string              `json:"challenge_name,omitempty"`
	Roll          int                 `json:"roll"`
	Modifier      int                 `json:"modifier"`
	Total         int                 `json:"total"`
	OutcomeKind   string              `json:"outcome_kind"`
	Narration     string              `json:"narration"`
	Tools         []game.ProposedTool `json:"tools,omitempty"`
	// Source records what produced the proposal: a rule trigger or the
	// narrative model. Empty means model.
	Source effect.Source `json:"source,omitempty"`
}

// PendingOutcome is a proposal parked for DM review.
type PendingOutcome struct {
	OutcomeProposal
	Branches   []string  `json:"branches,omitempty"`
	Generating bool      `json:"generating"`
	Attempts   int       `json:"attempts"`
	CreatedAt  time.Time `json:"created_at"`
}

func (p *PendingOutcome) clone() *PendingOutcome {
	out := *p
	out.Tools = append([]game.ProposedTool(nil), p.Tools...)
	out.Branches = append([]string(nil), p.Branches...)
	return &out
}

// ResultKind classifies how a decision resolved.
type ResultKind string

const (
	// ResultBroadcast means content was applied and sent to the world.
	ResultBroadcast ResultKind = "broadcast"
	// ResultRegenerating means the proposal went back to the model with
	// feedback and a new version will arrive for review.
	ResultRegenerating ResultKind = "regenerating"
	// ResultRetriesExhausted means the proposal was rejected too many
	// times and was dropped.
	ResultRetriesExhausted ResultKind = "retries_exhausted"
)

// OutcomeResult summarizes a processed decision.
type OutcomeResult struct {
	Kind      ResultKind
	Narration string
	Effects   effect.Result
}

// OutcomeCoordinator parks generated challenge outcomes for DM review and
// applies the ruling: broadcast, edit, regenerate, or take over.
type OutcomeCoordinator struct {
	mu      sync.Mutex
	pending map[string]*PendingOutcome

	effects    EffectRunner
	requests   ModelRequester
	cast       Broadcaster
	events     event.Publisher
	clock      game.Clock
	maxRetries int
}

// NewOutcomeCoordinator wires a coordinator. maxRetries bounds how often a
// rejected proposal is regenerated before being dropped.
func NewOutcomeCoordinator(effects EffectRunner, requests ModelRequester, cast Broadcaster, events event.Publisher, clock game.Clock, maxRetries int) *OutcomeCoordinator {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &OutcomeCoordinator{
		pending:    map[string]*PendingOutcome{},
		effects:    effects,
		requests:   requests,
		cast:       cast,
		events:     events,
		clock:      clock,
		maxRetries: maxRetries,
	}
}

// QueueForApproval parks a proposal and notifies the DM. Queueing the same
// resolution id again replaces the narration but keeps the attempt count,
// which is how regenerated proposals come back for review.
func (c *OutcomeCoordinator) QueueForApproval(ctx context.Context, p OutcomeProposal) *PendingOutcome {
	c.mu.Lock()
	pending, ok := c.pending[p.ResolutionID]
	if ok {
		pending.OutcomeProposal = p
		pending.Generating = false
	} else {
		pending = &PendingOutcome{
			OutcomeProposal: p,
			CreatedAt:       c.clock.Now(),
		}
		c.pending[p.ResolutionID] = pending
	}
	out := pending.clone()
	c.mu.Unlock()

	if !ok {
		c.publish(ctx, event.KindApprovalRequested, p.WorldID, p.ResolutionID, "outcome")
	}
	c.notifyDM(ctx, out)
	return out
}

// GetByID returns a snapshot of one pending outcome.
func (c *OutcomeCoordinator) GetByID(resolutionID string) (*PendingOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[resolutionID]
	if !ok {
		return nil, ErrNotFound
	}
	return p.clone(), nil
}

// PendingForWorld lists the pending outcomes of a world.
func (c *OutcomeCoordinator) PendingForWorld(worldID string) []*PendingOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*PendingOutcome
	for _, p := range c.pending {
		if p.WorldID == worldID {
			out = append(out, p.clone())
		}
	}
	return out
}

// ProcessDecision applies a DM ruling to a pending outcome. The decision
// consumes the approval except for a reject that is sent back for another
// model pass. A decision on an unknown id returns ErrNotFound, which is
// how duplicate decisions surface.
func (c *OutcomeCoordinator) ProcessDecision(ctx context.Context, resolutionID string, d game.Decision) (*OutcomeResult, error) {
	c.mu.Lock()
	p, ok := c.pending[resolutionID]
	if !ok {
		c.mu.Unlock()
		return nil, ErrNotFound
	}

	switch d.Kind {
	case game.DecisionAccept:
		delete(c.pending, resolutionID)
		out := p.clone()
		c.mu.Unlock()
		return c.applyAndBroadcast(ctx, out, out.Narration, out.Tools, "accepted")

	case game.DecisionAcceptWithModification:
		delete(c.pending, resolutionID)
		out := p.clone()
		c.mu.Unlock()

		narration := out.Narration
		if d.ModifiedContent != "" {
			narration = d.ModifiedContent
		}
		return c.applyAndBroadcast(ctx, out, narration, partitionTools(out.Tools, d), "accepted_with_modification")

	case game.DecisionTakeOver:
		delete(c.pending, resolutionID)
		out := p.clone()
		c.mu.Unlock()

		// DM-authored content replaces the proposal entirely; none of the
		// model's tool calls survive.
		return c.applyAndBroadcast(ctx, out, d.Replacement, nil, "taken_over")

	case game.DecisionReject:
		p.Attempts++
		if p.Attempts >= c.maxRetries {
			delete(c.pending, resolutionID)
			out := p.clone()
			c.mu.Unlock()

			slog.WarnContext(ctx, "outcome dropped after repeated rejection",
				"world", out.WorldID, "resolution", resolutionID, "attempts", out.Attempts)
			c.publish(ctx, event.KindApprovalDecided, out.WorldID, resolutionID, "retries_exhausted")
			return &OutcomeResult{Kind: ResultRetriesExhausted}, nil
		}
		p.Generating = true
		out := p.clone()
		c.mu.Unlock()

		if _, err := c.requests.Enqueue(ctx, game.ModelRequest{
			Kind:       game.ModelRequestSuggestion,
			WorldID:    out.WorldID,
			PCID:       out.PCID,
			Guidance:   d.Feedback,
			CallbackID: resolutionID,
		}); err != nil {
			return nil, fmt.Errorf("queueing regeneration: %w", err)
		}
		c.publish(ctx, event.KindApprovalDecided, out.WorldID, resolutionID, "rejected")
		return &OutcomeResult{Kind: ResultRegenerating}, nil

	default:
		c.mu.Unlock()
		return nil, fmt.Errorf("unknown decision kind: %s", d.Kind)
	}
}

// RequestBranches asks the model for alternative narrations of a pending
// outcome.
func (c *OutcomeCoordinator) RequestBranches(ctx context.Context, resolutionID, guidance string) error {
	c.mu.Lock()
	p, ok := c.pending[resolutionID]
	if !ok {
		c.mu.Unlock()
		return ErrNotFound
	}
	p.Generating = true
	worldID, pcID := p.WorldID, p.PCID
	c.mu.Unlock()

	_, err := c.requests.Enqueue(ctx, game.ModelRequest{
		Kind:       game.ModelRequestOutcomeBranches,
		WorldID:    worldID,
		PCID:       pcID,
		Guidance:   guidance,
		CallbackID: resolutionID,
	})
	if err != nil {
		return fmt.Errorf("queueing branch request: %w", err)
	}
	return nil
}

// SetBranches stores model-generated alternatives. Called by the model
// worker callback.
func (c *OutcomeCoordinator) SetBranches(ctx context.Context, resolutionID string, branches []string) error {
	c.mu.Lock()
	p, ok := c.pending[resolutionID]
	if !ok {
		c.mu.Unlock()
		return ErrNotFound
	}
	p.Branches = append([]string(nil), branches...)
	p.Generating = false
	out := p.clone()
	c.mu.Unlock()

	c.notifyDM(ctx, out)
	return nil
}

// SelectBranch promotes one alternative to the active narration.
func (c *OutcomeCoordinator) SelectBranch(ctx context.Context, resolutionID string, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[resolutionID]
	if !ok {
		return ErrNotFound
	}
	if index < 0 || index >= len(p.Branches) {
		return fmt.Errorf("branch index %d out of range (%d branches)", index, len(p.Branches))
	}
	p.Narration = p.Branches[index]
	return nil
}

func (c *OutcomeCoordinator) applyAndBroadcast(ctx context.Context, p *PendingOutcome, narration string, tools []game.ProposedTool, detail string) (*OutcomeResult, error) {
	effects := toolEffects(ctx, p.WorldID, tools)
	res := effect.Result{}
	if c.effects != nil && len(effects) > 0 {
		source := p.Source
		if source == "" {
			source = effect.SourceModel
		}
		res = c.effects.ExecuteEffects(ctx, p.WorldID, effects, source)
	}

	if c.cast != nil {
		data, err := json.Marshal(map[string]any{
			"type":          "challenge_outcome",
			"resolution_id": p.ResolutionID,
			"pc_id":         p.PCID,
			"challenge_id":  p.ChallengeID,
			"outcome":       p.OutcomeKind,
			"narration":     narration,
		})
		if err == nil {
			c.cast.BroadcastToWorld(ctx, p.WorldID, data)
		}
	}

	c.publish(ctx, event.KindApprovalDecided, p.WorldID, p.ResolutionID, detail)
	return &OutcomeResult{Kind: ResultBroadcast, Narration: narration, Effects: res}, nil
}

// partitionTools applies the moderator's tool ruling: an explicit approved
// list wins; otherwise everything not explicitly rejected passes.
func partitionTools(tools []game.ProposedTool, d game.Decision) []game.ProposedTool {
	if len(d.ApprovedTools) > 0 {
		approved := map[string]bool{}
		for _, id := range d.ApprovedTools {
			approved[id] = true
		}
		var out []game.ProposedTool
		for _, t := range tools {
			if approved[t.ID] {
				out = append(out, t)
			}
		}
		return out
	}

	if len(d.RejectedTools) > 0 {
		rejected := map[string]bool{}
		for _, id := range d.RejectedTools {
			rejected[id] = true
		}
		var out []game.ProposedTool
		for _, t := range tools {
			if !rejected[t.ID] {
				out = append(out, t)
			}
		}
		return out
	}

	return tools
}

// toolEffects converts proposed tool calls to effects. A tool that fails
// to convert is logged and skipped; the rest of the batch still runs.
func toolEffects(ctx context.Context, worldID string, tools []game.ProposedTool) []game.Effect {
	var out []game.Effect
	for _, t := range tools {
		eff, err := toolEffect(t)
		if err != nil {
			slog.WarnContext(ctx, "skipping tool call", "world", worldID, "tool", t.Name, "error", err)
			continue
		}
		out = append(out, eff)
	}
	return out
}

func toolEffect(t game.ProposedTool) (game.Effect, error) {
	args := t.Arguments

	switch t.Name {
	case string(game.EffectSetFlag):
		return game.Effect{
			Kind:      game.EffectSetFlag,
			FlagName:  args["flag_name"],
			FlagValue: args["value"] != "false",
		}, nil

	case string(game.EffectEnableChallenge), string(game.EffectDisableChallenge),
		string(game.EffectEnableEvent), string(game.EffectDisableEvent),
		string(game.EffectTriggerScene):
		return game.Effect{
			Kind:     game.EffectKind(t.Name),
			TargetID: args["target_id"],
		}, nil

	case string(game.EffectGiveItem), string(game.EffectTakeItem):
		qty, err := argInt(args, "quantity", 1)
		if err != nil {
			return game.Effect{}, err
		}
		return game.Effect{
			Kind:        game.EffectKind(t.Name),
			CharacterID: args["character_id"],
			ItemName:    args["item_name"],
			Quantity:    qty,
		}, nil

	case string(game.EffectModifyRelationship):
		delta, err := argInt(args, "sentiment_change", 0)
		if err != nil {
			return game.Effect{}, err
		}
		return game.Effect{
			Kind:            game.EffectModifyRelationship,
			FromCharacter:   args["from_character"],
			ToCharacter:     args["to_character"],
			SentimentChange: delta,
			Reason:          args["reason"],
		}, nil

	case string(game.EffectModifyStat):
		amount, err := argInt(args, "amount", 0)
		if err != nil {
			return game.Effect{}, err
		}
		return game.Effect{
			Kind:        game.EffectModifyStat,
			CharacterID: args["character_id"],
			StatName:    args["stat_name"],
			Amount:      amount,
		}, nil

	case string(game.EffectStartCombat):
		var participants []string
		if raw := strings.TrimSpace(args["participants"]); raw != "" {
			participants = strings.Split(raw, ",")
			for i := range participants {
				participants[i] = strings.TrimSpace(participants[i])
			}
		}
		return game.Effect{Kind: game.EffectStartCombat, Participants: participants}, nil

	case string(game.EffectRevealInformation):
		return game.Effect{
			Kind:    game.EffectRevealInformation,
			Title:   args["title"],
			Content: args["content"],
		}, nil

	case string(game.EffectAddReward):
		return game.Effect{Kind: game.EffectAddReward, Description: args["description"]}, nil

	case string(game.EffectCustom):
		return game.Effect{Kind: game.EffectCustom, Description: args["description"]}, nil

	default:
		return game.Effect{}, fmt.Errorf("unknown tool: %s", t.Name)
	}
}

func argInt(args map[string]string, key string, def int) (int, error) {
	raw, ok := args[key]
	if !ok || raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("argument %s: %w", key, err)
	}
	return n, nil
}

func (c *OutcomeCoordinator) notifyDM(ctx context.Context, p *PendingOutcome) {
	if c.cast == nil {
		return
	}
	data, err := json.Marshal(map[string]any{
		"type":    "outcome_approval",
		"outcome": p,
	})
	if err != nil {
		slog.WarnContext(ctx, "marshalling outcome notice", "error", err)
		return
	}
	if err := c.cast.SendToDM(ctx, p.WorldID, data); err != nil {
		slog.DebugContext(ctx, "outcome notice not delivered", "world", p.WorldID, "error", err)
	}
}

func (c *OutcomeCoordinator) publish(ctx context.Context, kind event.Kind, worldID, resolutionID, detail string) {
	if c.events == nil {
		return
	}
	c.events.Publish(ctx, event.New(kind, worldID, map[string]string{
		"resolution_id": resolutionID,
		"detail":        detail,
	}))
}
