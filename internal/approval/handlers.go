package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/worldsmith/engine/internal/effect"
	"github.com/worldsmith/engine/internal/game"
	"github.com/worldsmith/engine/internal/genai"
	"github.com/worldsmith/engine/internal/queue"
)

// SnapshotSource builds a world-state snapshot for trigger evaluation.
// Satisfied by the world store.
type SnapshotSource interface {
	Snapshot(ctx context.Context, worldID string) (*game.StateSnapshot, error)
}

// TriggerSource lists the authored trigger candidates of a world.
type TriggerSource interface {
	TriggersForWorld(worldID string) []game.Trigger
}

// RegionSource resolves authored region content, used for prompt context
// and for reading a region's staged presence.
type RegionSource interface {
	Get(id string) *game.Region
}

// PresenceSource reads the staged NPC presence committed for a region.
type PresenceSource interface {
	CurrentStaging(ctx context.Context, worldID, regionID string) ([]game.NPCProposal, error)
}

// EventCompleter marks a narrative event as done so its trigger never
// fires again. Satisfied by the world store.
type EventCompleter interface {
	MarkEventCompleted(ctx context.Context, worldID, eventID string) error
}

const (
	stagingSystemPrompt = `You are the scene director of a tabletop role-playing session.
Answer with a JSON array of NPC staging entries, each with character_id, name,
is_present, is_hidden_from_players, and reasoning. No prose outside the JSON.`

	outcomeSystemPrompt = `You are the narrator of a tabletop role-playing session.
Answer with a JSON object holding "narration" (the outcome text, second person)
and "tools" (an array of tool calls with id, name, and arguments). No prose
outside the JSON.`

	branchesSystemPrompt = `You are the narrator of a tabletop role-playing session.
Answer with a JSON array of 2-4 alternative narrations for the outcome. No
prose outside the JSON.`

	npcSystemPrompt = `You are playing a non-player character in a tabletop
role-playing session. Answer in character with the NPC's spoken reply only.`
)

// NewModelRequestHandler routes completed language-model calls back into the
// coordinators. A callback id that no longer matches a pending entry means
// the moderator decided before the model answered; the response is dropped
// without failing the item.
func NewModelRequestHandler(client genai.Client, staging *StagingCoordinator, outcomes *OutcomeCoordinator, regions RegionSource) queue.Handler[game.ModelRequest] {
	return func(ctx context.Context, item queue.Item[game.ModelRequest]) error {
		req := item.Payload
		switch req.Kind {
		case game.ModelRequestStagingSuggestion:
			return handleStagingSuggestion(ctx, client, staging, regions, req)
		case game.ModelRequestSuggestion:
			return handleOutcomeRegeneration(ctx, client, outcomes, req)
		case game.ModelRequestOutcomeBranches:
			return handleOutcomeBranches(ctx, client, outcomes, req)
		case game.ModelRequestNPCResponse:
			return handleNPCResponse(ctx, client, outcomes, req)
		default:
			return fmt.Errorf("unknown model request kind: %s", req.Kind)
		}
	}
}

func handleStagingSuggestion(ctx context.Context, client genai.Client, staging *StagingCoordinator, regions RegionSource, req game.ModelRequest) error {
	requestID, err := uuid.Parse(req.CallbackID)
	if err != nil {
		return fmt.Errorf("parsing callback id %q: %w", req.CallbackID, err)
	}

	// Resolve the pending approval before spending a model call; the DM
	// may already have decided.
	pending, err := staging.GetByRequestID(requestID)
	if errors.Is(err, ErrNotFound) {
		slog.InfoContext(ctx, "dropping stale staging suggestion request", "request", requestID)
		return nil
	}
	if err != nil {
		return err
	}

	req.Prompt, err = stagingPrompt(regions, pending, req.Guidance)
	if err != nil {
		return fmt.Errorf("building staging prompt: %w", err)
	}

	resp, err := chat(ctx, client, stagingSystemPrompt, req)
	if err != nil {
		return fmt.Errorf("staging suggestion call: %w", err)
	}

	var npcs []game.NPCProposal
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Content)), &npcs); err != nil {
		return fmt.Errorf("decoding staging suggestions: %w", err)
	}

	err = staging.UpdateSuggestions(ctx, requestID, npcs)
	if errors.Is(err, ErrNotFound) {
		slog.InfoContext(ctx, "dropping stale staging suggestions", "request", requestID)
		return nil
	}
	return err
}

// stagingPrompt builds the model prompt from the approval's waiting party
// and the region's authored content.
func stagingPrompt(regions RegionSource, a *StagingApproval, guidance string) (string, error) {
	data := genai.StagingPromptData{
		WorldName:   a.WorldID,
		RegionName:  a.RegionID,
		Guidance:    guidance,
		Regenerated: guidance != "",
	}
	if regions != nil {
		if r := regions.Get(a.RegionID); r != nil {
			data.RegionName = r.Name
			data.SceneNotes = r.Description
			for _, npc := range r.DefaultCast {
				data.Characters = append(data.Characters, genai.CharacterSummary{
					ID:          npc.CharacterID,
					Name:        npc.Name,
					Description: npc.Reasoning,
				})
			}
		}
	}
	for _, pc := range a.WaitingPCs {
		name := pc.Name
		if name == "" {
			name = pc.PCID
		}
		data.PartyPCs = append(data.PartyPCs, name)
	}
	return genai.RenderStagingPrompt(data)
}

func handleOutcomeRegeneration(ctx context.Context, client genai.Client, outcomes *OutcomeCoordinator, req game.ModelRequest) error {
	pending, err := outcomes.GetByID(req.CallbackID)
	if errors.Is(err, ErrNotFound) {
		slog.InfoContext(ctx, "dropping regeneration for a decided outcome", "resolution", req.CallbackID)
		return nil
	}
	if err != nil {
		return err
	}

	req.Prompt, err = outcomePrompt(pending, req.Guidance)
	if err != nil {
		return fmt.Errorf("building outcome prompt: %w", err)
	}

	resp, err := chat(ctx, client, outcomeSystemPrompt, req)
	if err != nil {
		return fmt.Errorf("outcome regeneration call: %w", err)
	}

	var parsed struct {
		Narration string              `json:"narration"`
		Tools     []game.ProposedTool `json:"tools"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Content)), &parsed); err != nil {
		return fmt.Errorf("decoding regenerated outcome: %w", err)
	}

	proposal := pending.OutcomeProposal
	proposal.Narration = parsed.Narration
	proposal.Tools = parsed.Tools
	outcomes.QueueForApproval(ctx, proposal)
	return nil
}

func handleOutcomeBranches(ctx context.Context, client genai.Client, outcomes *OutcomeCoordinator, req game.ModelRequest) error {
	pending, err := outcomes.GetByID(req.CallbackID)
	if errors.Is(err, ErrNotFound) {
		slog.InfoContext(ctx, "dropping branch request for a decided outcome", "resolution", req.CallbackID)
		return nil
	}
	if err != nil {
		return err
	}

	req.Prompt, err = outcomePrompt(pending, req.Guidance)
	if err != nil {
		return fmt.Errorf("building branch prompt: %w", err)
	}

	resp, err := chat(ctx, client, branchesSystemPrompt, req)
	if err != nil {
		return fmt.Errorf("branch call: %w", err)
	}

	var branches []string
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Content)), &branches); err != nil {
		return fmt.Errorf("decoding branches: %w", err)
	}

	err = outcomes.SetBranches(ctx, req.CallbackID, branches)
	if errors.Is(err, ErrNotFound) {
		slog.InfoContext(ctx, "dropping branches for a decided outcome", "resolution", req.CallbackID)
		return nil
	}
	return err
}

// outcomePrompt builds the narration prompt from a pending outcome's roll
// context. Names fall back to ids when the payload carried none.
func outcomePrompt(pending *PendingOutcome, guidance string) (string, error) {
	pcName := pending.PCName
	if pcName == "" {
		pcName = pending.PCID
	}
	challengeName := pending.ChallengeName
	if challengeName == "" {
		challengeName = pending.ChallengeID
	}
	return genai.RenderOutcomePrompt(genai.OutcomePromptData{
		WorldName:     pending.WorldID,
		ChallengeName: challengeName,
		PCName:        pcName,
		Roll:          pending.Roll,
		Modifier:      pending.Modifier,
		Total:         pending.Total,
		Outcome:       pending.OutcomeKind,
		Guidance:      guidance,
	})
}

func handleNPCResponse(ctx context.Context, client genai.Client, outcomes *OutcomeCoordinator, req game.ModelRequest) error {
	resp, err := chat(ctx, client, npcSystemPrompt, req)
	if err != nil {
		return fmt.Errorf("npc response call: %w", err)
	}

	// Generated dialogue goes through moderator review like everything else
	outcomes.QueueForApproval(ctx, OutcomeProposal{
		ResolutionID: req.CallbackID,
		WorldID:      req.WorldID,
		PCID:         req.PCID,
		OutcomeKind:  "npc_response",
		Narration:    resp.Content,
		Tools:        toolsFromCalls(resp.ToolCalls),
	})
	return nil
}

func chat(ctx context.Context, client genai.Client, system string, req game.ModelRequest) (*genai.ChatResponse, error) {
	messages := []genai.ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: req.Prompt},
	}
	if req.Guidance != "" {
		messages = append(messages, genai.ChatMessage{Role: "user", Content: "Moderator guidance: " + req.Guidance})
	}
	return client.Chat(ctx, genai.ChatRequest{Messages: messages, Temperature: 0.8})
}

// stripCodeFence unwraps a markdown-fenced model answer. Models regularly
// fence their JSON despite being told not to.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func toolsFromCalls(calls []genai.ToolCall) []game.ProposedTool {
	var out []game.ProposedTool
	for _, c := range calls {
		args := map[string]string{}
		if len(c.Arguments) > 0 {
			var raw map[string]any
			if err := json.Unmarshal(c.Arguments, &raw); err == nil {
				for k, v := range raw {
					switch x := v.(type) {
					case string:
						args[k] = x
					case bool:
						args[k] = strconv.FormatBool(x)
					case float64:
						args[k] = strconv.FormatFloat(x, 'f', -1, 64)
					default:
						b, _ := json.Marshal(v)
						args[k] = string(b)
					}
				}
			}
		}
		out = append(out, game.ProposedTool{ID: c.ID, Name: c.Name, Arguments: args})
	}
	return out
}

// NewDMActionHandler dispatches moderator actions from the DM queue.
func NewDMActionHandler(staging *StagingCoordinator, outcomes *OutcomeCoordinator, cast Broadcaster, triggers TriggerSource, effects EffectRunner, completer EventCompleter) queue.Handler[game.DMAction] {
	return func(ctx context.Context, item queue.Item[game.DMAction]) error {
		action := item.Payload
		switch action.Kind {
		case game.DMActionApprovalDecision:
			return handleApprovalDecision(ctx, staging, outcomes, action)
		case game.DMActionRequestBranches:
			err := outcomes.RequestBranches(ctx, action.RequestID, action.Guidance)
			if errors.Is(err, ErrNotFound) {
				slog.InfoContext(ctx, "dropping branch request for a decided outcome", "resolution", action.RequestID)
				return nil
			}
			return err
		case game.DMActionSelectBranch:
			err := outcomes.SelectBranch(ctx, action.RequestID, action.BranchIndex)
			if errors.Is(err, ErrNotFound) {
				slog.InfoContext(ctx, "dropping branch selection for a decided outcome", "resolution", action.RequestID)
				return nil
			}
			return err
		case game.DMActionDirectNPCControl:
			msg, err := json.Marshal(map[string]any{
				"type":     "npc_dialogue",
				"npc_id":   action.NPCID,
				"dialogue": action.Dialogue,
			})
			if err != nil {
				return fmt.Errorf("encoding npc dialogue: %w", err)
			}
			cast.BroadcastToWorld(ctx, action.WorldID, msg)
			return nil
		case game.DMActionTriggerEvent:
			return handleTriggerEvent(ctx, cast, triggers, effects, completer, action)
		case game.DMActionTransitionScene:
			res := effects.ExecuteEffects(ctx, action.WorldID, []game.Effect{
				{Kind: game.EffectTriggerScene, TargetID: action.SceneID},
			}, effect.SourceEngine)
			if res.Warnings != nil {
				return fmt.Errorf("transitioning to scene %s: %w", action.SceneID, res.Warnings)
			}
			msg, err := json.Marshal(map[string]any{"type": "scene_transition", "scene_id": action.SceneID})
			if err != nil {
				return fmt.Errorf("encoding scene transition: %w", err)
			}
			cast.BroadcastToWorld(ctx, action.WorldID, msg)
			return nil
		default:
			return fmt.Errorf("unknown dm action kind: %s", action.Kind)
		}
	}
}

func handleApprovalDecision(ctx context.Context, staging *StagingCoordinator, outcomes *OutcomeCoordinator, action game.DMAction) error {
	if action.Decision == nil {
		return fmt.Errorf("approval decision without a decision body")
	}

	if requestID, err := uuid.Parse(action.RequestID); err == nil {
		if _, err := staging.GetByRequestID(requestID); err == nil {
			return applyStagingDecision(ctx, staging, requestID, *action.Decision)
		}
	}

	_, err := outcomes.ProcessDecision(ctx, action.RequestID, *action.Decision)
	if errors.Is(err, ErrNotFound) {
		slog.InfoContext(ctx, "dropping duplicate decision", "request", action.RequestID)
		return nil
	}
	return err
}

func applyStagingDecision(ctx context.Context, staging *StagingCoordinator, requestID uuid.UUID, d game.Decision) error {
	switch d.Kind {
	case game.DecisionAccept:
		_, err := staging.Approve(ctx, requestID, nil)
		return err
	case game.DecisionAcceptWithModification:
		var npcs []game.NPCProposal
		if err := json.Unmarshal([]byte(d.ModifiedContent), &npcs); err != nil {
			return fmt.Errorf("decoding modified staging: %w", err)
		}
		_, err := staging.Approve(ctx, requestID, npcs)
		return err
	case game.DecisionReject:
		// Rejecting with guidance asks for another take; rejecting
		// without any discards the staging and releases the waiters.
		if d.Feedback == "" {
			return staging.Discard(ctx, requestID)
		}
		return staging.Regenerate(ctx, requestID, d.Feedback)
	case game.DecisionTakeOver:
		var npcs []game.NPCProposal
		if err := json.Unmarshal([]byte(d.Replacement), &npcs); err != nil {
			return fmt.Errorf("decoding replacement staging: %w", err)
		}
		_, err := staging.Approve(ctx, requestID, npcs)
		return err
	default:
		return fmt.Errorf("unknown decision kind: %s", d.Kind)
	}
}

func handleTriggerEvent(ctx context.Context, cast Broadcaster, triggers TriggerSource, effects EffectRunner, completer EventCompleter, action game.DMAction) error {
	var match *game.Trigger
	for _, tr := range triggers.TriggersForWorld(action.WorldID) {
		if tr.EventID == action.EventID {
			t := tr
			match = &t
			break
		}
	}
	if match == nil {
		return fmt.Errorf("unknown event: %s", action.EventID)
	}

	res := effects.ExecuteEffects(ctx, action.WorldID, match.Effects, effect.SourceEngine)
	if res.Warnings != nil {
		slog.WarnContext(ctx, "event effects partially failed",
			"world", action.WorldID, "event", action.EventID, "error", res.Warnings)
	}
	if err := completer.MarkEventCompleted(ctx, action.WorldID, action.EventID); err != nil {
		return fmt.Errorf("completing event %s: %w", action.EventID, err)
	}

	msg, err := json.Marshal(map[string]any{
		"type":       "event_triggered",
		"event_id":   match.EventID,
		"event_name": match.EventName,
	})
	if err != nil {
		return fmt.Errorf("encoding event broadcast: %w", err)
	}
	cast.BroadcastToWorld(ctx, action.WorldID, msg)
	return nil
}

// NewPlayerActionHandler processes the player action queue: the action is
// echoed to the world, entering a region resolves its NPC presence or
// requests a staging, a challenge attempt rolls its check, dialogue aimed
// at an NPC asks the model for a reply, and the state sweep queues any
// newly satisfied triggers for DM approval.
func NewPlayerActionHandler(cast Broadcaster, snapshots SnapshotSource, triggers TriggerSource, outcomes *OutcomeCoordinator, requests ModelRequester, stagings *StagingCoordinator, presence PresenceSource, rng game.Random, clock game.Clock) queue.Handler[game.PlayerAction] {
	evaluator := effect.Evaluator{}

	return func(ctx context.Context, item queue.Item[game.PlayerAction]) error {
		action := item.Payload

		msg, err := json.Marshal(map[string]any{
			"type":        "player_action",
			"pc_id":       action.PCID,
			"action_type": action.ActionType,
			"target":      action.Target,
			"dialogue":    action.Dialogue,
		})
		if err != nil {
			return fmt.Errorf("encoding player action: %w", err)
		}
		cast.BroadcastToWorld(ctx, action.WorldID, msg)

		if action.RegionID != "" {
			if err := handleRegionEntry(ctx, cast, stagings, presence, action); err != nil {
				return err
			}
		}

		if action.ChallengeID != "" {
			if err := handleChallengeAttempt(ctx, outcomes, requests, rng, clock, action); err != nil {
				return err
			}
		}

		if action.Dialogue != "" && action.Target != "" {
			_, err := requests.Enqueue(ctx, game.ModelRequest{
				Kind:       game.ModelRequestNPCResponse,
				WorldID:    action.WorldID,
				PCID:       action.PCID,
				Prompt:     fmt.Sprintf("%s says to %s: %q", action.PCID, action.Target, action.Dialogue),
				CallbackID: "npc-" + uuid.NewString(),
			})
			if err != nil {
				return fmt.Errorf("requesting npc response: %w", err)
			}
		}

		snap, err := snapshots.Snapshot(ctx, action.WorldID)
		if err != nil {
			return fmt.Errorf("building world snapshot: %w", err)
		}

		for _, d := range evaluator.Evaluate(ctx, snap, triggers.TriggersForWorld(action.WorldID)) {
			outcomes.QueueForApproval(ctx, OutcomeProposal{
				ResolutionID: "event-" + d.Trigger.EventID + "-" + uuid.NewString(),
				WorldID:      action.WorldID,
				PCID:         action.PCID,
				OutcomeKind:  "triggered_event",
				Narration:    d.Trigger.EventName,
				Tools:        toolsFromEffects(d.Trigger.EventID, d.Trigger.Effects),
				Source:       d.Source,
			})
		}
		return nil
	}
}

// handleRegionEntry resolves NPC presence for the region a PC just entered.
// An already-committed staging is announced as-is; otherwise the entry asks
// the staging coordinator, which coalesces onto any pending proposal for
// the same region.
func handleRegionEntry(ctx context.Context, cast Broadcaster, stagings *StagingCoordinator, presence PresenceSource, action game.PlayerAction) error {
	npcs, err := presence.CurrentStaging(ctx, action.WorldID, action.RegionID)
	if err != nil {
		return fmt.Errorf("reading region presence: %w", err)
	}

	if npcs != nil {
		msg, err := json.Marshal(map[string]any{
			"type":      "region_presence",
			"region_id": action.RegionID,
			"pc_id":     action.PCID,
			"npcs":      npcs,
		})
		if err != nil {
			return fmt.Errorf("encoding region presence: %w", err)
		}
		cast.BroadcastToWorld(ctx, action.WorldID, msg)
		return nil
	}

	name := action.PCName
	if name == "" {
		name = action.PCID
	}
	_, _, err = stagings.Request(ctx, action.WorldID, action.RegionID, game.WaitingPC{
		PCID:   action.PCID,
		Name:   name,
		UserID: action.PlayerID,
	})
	if err != nil {
		return fmt.Errorf("requesting region staging: %w", err)
	}
	return nil
}

// handleChallengeAttempt rolls a PC's check and parks the mechanical
// result for DM review. The model is asked for narration in parallel; its
// answer replaces the placeholder line through the regeneration path.
func handleChallengeAttempt(ctx context.Context, outcomes *OutcomeCoordinator, requests ModelRequester, rng game.Random, clock game.Clock, action game.PlayerAction) error {
	res := game.ResolveCheck(rng, clock, action.Modifier, action.Difficulty)

	name := action.PCName
	if name == "" {
		name = action.PCID
	}
	resolutionID := "check-" + uuid.NewString()
	outcomes.QueueForApproval(ctx, OutcomeProposal{
		ResolutionID:  resolutionID,
		WorldID:       action.WorldID,
		PCID:          action.PCID,
		PCName:        action.PCName,
		ChallengeID:   action.ChallengeID,
		ChallengeName: action.ChallengeName,
		Roll:          res.Roll,
		Modifier:      res.Modifier,
		Total:         res.Total,
		OutcomeKind:   res.Outcome,
		Narration:     fmt.Sprintf("%s rolled %d (total %d): %s", name, res.Roll, res.Total, res.Outcome),
	})

	_, err := requests.Enqueue(ctx, game.ModelRequest{
		Kind:       game.ModelRequestSuggestion,
		WorldID:    action.WorldID,
		PCID:       action.PCID,
		CallbackID: resolutionID,
	})
	if err != nil {
		return fmt.Errorf("requesting outcome narration: %w", err)
	}
	return nil
}

// toolsFromEffects presents authored trigger effects as proposed tool calls
// so the moderator can partition them like model proposals.
func toolsFromEffects(eventID string, effects []game.Effect) []game.ProposedTool {
	out := make([]game.ProposedTool, 0, len(effects))
	for i, eff := range effects {
		args := map[string]string{}
		switch eff.Kind {
		case game.EffectSetFlag:
			args["flag_name"] = eff.FlagName
			args["value"] = strconv.FormatBool(eff.FlagValue)
		case game.EffectEnableChallenge, game.EffectDisableChallenge,
			game.EffectEnableEvent, game.EffectDisableEvent, game.EffectTriggerScene:
			args["target_id"] = eff.TargetID
		case game.EffectGiveItem, game.EffectTakeItem:
			args["character_id"] = eff.CharacterID
			args["item_name"] = eff.ItemName
			args["quantity"] = strconv.Itoa(eff.Quantity)
		case game.EffectModifyRelationship:
			args["from_character"] = eff.FromCharacter
			args["to_character"] = eff.ToCharacter
			args["sentiment_change"] = strconv.Itoa(eff.SentimentChange)
			args["reason"] = eff.Reason
		case game.EffectModifyStat:
			args["character_id"] = eff.CharacterID
			args["stat_name"] = eff.StatName
			args["amount"] = strconv.Itoa(eff.Amount)
		case game.EffectStartCombat:
			args["participants"] = strings.Join(eff.Participants, ",")
		case game.EffectRevealInformation:
			args["title"] = eff.Title
			args["content"] = eff.Content
		default:
			args["description"] = eff.Description
		}
		out = append(out, game.ProposedTool{
			ID:          fmt.Sprintf("%s-%d", eventID, i),
			Name:        string(eff.Kind),
			Description: eff.Description,
			Arguments:   args,
		})
	}
	return out
}
