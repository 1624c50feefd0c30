// Package effect applies approved world-state mutations and evaluates
// narrative-event triggers against world state.
package effect

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pixil98/go-errors"

	"github.com/worldsmith/engine/internal/event"
	"github.com/worldsmith/engine/internal/game"
)

// Source records where a batch of effects originated.
type Source string

const (
	// SourceEngine marks effects produced by rule triggers.
	SourceEngine Source = "engine"
	// SourceModel marks effects proposed by the narrative model and
	// approved by the DM.
	SourceModel Source = "model"
)

// FlagState mutates world story flags.
type FlagState interface {
	SetFlag(ctx context.Context, worldID, name string, value bool) error
}

// ChallengeState toggles challenge availability.
type ChallengeState interface {
	SetChallengeEnabled(ctx context.Context, worldID, challengeID string, enabled bool) error
}

// EventState toggles narrative event availability.
type EventState interface {
	SetEventEnabled(ctx context.Context, worldID, eventID string, enabled bool) error
}

// Inventory grants and removes character items.
type Inventory interface {
	GiveItem(ctx context.Context, worldID, characterID, item string, quantity int) error
	TakeItem(ctx context.Context, worldID, characterID, item string, quantity int) error
}

// Relationships adjusts character-to-character sentiment.
type Relationships interface {
	AdjustRelationship(ctx context.Context, worldID, from, to string, delta int, reason string) error
}

// CharacterStats adjusts numeric character stats.
type CharacterStats interface {
	AdjustStat(ctx context.Context, worldID, characterID, stat string, amount int) error
}

// Scenes drives scene transitions and combat starts.
type Scenes interface {
	TriggerScene(ctx context.Context, worldID, sceneID string) error
	StartCombat(ctx context.Context, worldID string, participants []string) error
}

// Result summarizes one batch execution. Logged counts effects that carry
// no state mutation and are recorded for the table narrative only.
type Result struct {
	Executed int
	Logged   int
	// Warnings holds the per-effect failures. A failed effect never stops
	// the rest of the batch.
	Warnings error
}

// Executor applies effects against the world-state ports. Any nil port
// downgrades its effect kinds to log-only, so a deployment without, say,
// an inventory system still accepts give_item effects.
type Executor struct {
	Flags         FlagState
	Challenges    ChallengeState
	Events        EventState
	Inventory     Inventory
	Relationships Relationships
	Stats         CharacterStats
	Scenes        Scenes

	Publisher event.Publisher
}

// ExecuteEffects applies a batch best-effort: every effect is attempted,
// failures are collected as warnings, and the summary event is published
// at the end.
func (e *Executor) ExecuteEffects(ctx context.Context, worldID string, effects []game.Effect, source Source) Result {
	res := Result{}
	el := errors.NewErrorList()

	for _, eff := range effects {
		applied, err := e.apply(ctx, worldID, eff)
		if err != nil {
			el.Add(fmt.Errorf("applying %s: %w", eff.Kind, err))
			slog.WarnContext(ctx, "effect failed", "world", worldID, "kind", eff.Kind, "error", err)
			continue
		}
		if applied {
			res.Executed++
		} else {
			res.Logged++
			slog.InfoContext(ctx, "effect logged", "world", worldID, "kind", eff.Kind, "description", eff.Description)
		}
	}
	res.Warnings = el.Err()

	if e.Publisher != nil {
		e.Publisher.Publish(ctx, event.New(event.KindEffectsExecuted, worldID, map[string]any{
			"source":   string(source),
			"executed": res.Executed,
			"logged":   res.Logged,
			"total":    len(effects),
		}))
	}
	return res
}

// apply runs one effect. The bool reports whether state was mutated, as
// opposed to the effect being log-only.
func (e *Executor) apply(ctx context.Context, worldID string, eff game.Effect) (bool, error) {
	switch eff.Kind {
	case game.EffectSetFlag:
		if e.Flags == nil {
			return false, nil
		}
		return true, e.Flags.SetFlag(ctx, worldID, eff.FlagName, eff.FlagValue)

	case game.EffectEnableChallenge, game.EffectDisableChallenge:
		if e.Challenges == nil {
			return false, nil
		}
		return true, e.Challenges.SetChallengeEnabled(ctx, worldID, eff.TargetID, eff.Kind == game.EffectEnableChallenge)

	case game.EffectEnableEvent, game.EffectDisableEvent:
		if e.Events == nil {
			return false, nil
		}
		return true, e.Events.SetEventEnabled(ctx, worldID, eff.TargetID, eff.Kind == game.EffectEnableEvent)

	case game.EffectGiveItem:
		if e.Inventory == nil {
			return false, nil
		}
		return true, e.Inventory.GiveItem(ctx, worldID, eff.CharacterID, eff.ItemName, quantity(eff.Quantity))

	case game.EffectTakeItem:
		if e.Inventory == nil {
			return false, nil
		}
		return true, e.Inventory.TakeItem(ctx, worldID, eff.CharacterID, eff.ItemName, quantity(eff.Quantity))

	case game.EffectModifyRelationship:
		if e.Relationships == nil {
			return false, nil
		}
		return true, e.Relationships.AdjustRelationship(ctx, worldID, eff.FromCharacter, eff.ToCharacter, eff.SentimentChange, eff.Reason)

	case game.EffectModifyStat:
		if e.Stats == nil {
			return false, nil
		}
		return true, e.Stats.AdjustStat(ctx, worldID, eff.CharacterID, eff.StatName, eff.Amount)

	case game.EffectTriggerScene:
		if e.Scenes == nil {
			return false, nil
		}
		return true, e.Scenes.TriggerScene(ctx, worldID, eff.TargetID)

	case game.EffectStartCombat:
		if e.Scenes == nil {
			return false, nil
		}
		return true, e.Scenes.StartCombat(ctx, worldID, eff.Participants)

	case game.EffectRevealInformation, game.EffectAddReward, game.EffectCustom:
		// Narration-only kinds. The DM reads these from the event log.
		return false, nil

	default:
		return false, fmt.Errorf("unknown effect kind: %s", eff.Kind)
	}
}

func quantity(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}
