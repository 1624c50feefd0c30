package effect

import (
	"context"
	"log/slog"

	"github.com/worldsmith/engine/internal/game"
)

// Evaluator matches candidate triggers against a world-state snapshot.
// Evaluation is pure: callers build the snapshot, the evaluator only reads
// it, and firing the matched triggers is a separate step.
type Evaluator struct{}

// Detection is one satisfied trigger tagged with what noticed it, so the
// approval path can tell rule-detected events from model suggestions.
type Detection struct {
	Trigger game.Trigger
	Source  Source
}

// Evaluate returns the triggers whose conditions all hold in the snapshot,
// tagged SourceEngine. A trigger whose event already completed never fires
// again, and a disabled event never fires at all.
func (e Evaluator) Evaluate(ctx context.Context, snap *game.StateSnapshot, candidates []game.Trigger) []Detection {
	return e.evaluate(ctx, snap, candidates, SourceEngine)
}

// EvaluateSuggested checks model-suggested triggers against the same rules
// but tags the matches SourceModel.
func (e Evaluator) EvaluateSuggested(ctx context.Context, snap *game.StateSnapshot, candidates []game.Trigger) []Detection {
	return e.evaluate(ctx, snap, candidates, SourceModel)
}

func (Evaluator) evaluate(ctx context.Context, snap *game.StateSnapshot, candidates []game.Trigger, source Source) []Detection {
	var matched []Detection
	for _, tr := range candidates {
		if snap.HasCompletedEvent(tr.EventID) || snap.IsEventDisabled(tr.EventID) {
			continue
		}
		if conditionsHold(snap, tr.Conditions) {
			slog.DebugContext(ctx, "trigger matched", "world", snap.WorldID, "event", tr.EventID, "source", source)
			matched = append(matched, Detection{Trigger: tr, Source: source})
		}
	}
	return matched
}

func conditionsHold(snap *game.StateSnapshot, conds []game.TriggerCondition) bool {
	// An unconditioned trigger only fires by explicit DM action, never
	// from a state sweep.
	if len(conds) == 0 {
		return false
	}
	for _, c := range conds {
		if !conditionHolds(snap, c) {
			return false
		}
	}
	return true
}

func conditionHolds(snap *game.StateSnapshot, c game.TriggerCondition) bool {
	switch c.Kind {
	case game.ConditionFlagSet:
		return snap.ActiveFlags[c.FlagName] == c.FlagValue
	case game.ConditionChallengeCompleted:
		return snap.HasCompletedChallenge(c.TargetID)
	case game.ConditionEventCompleted:
		return snap.HasCompletedEvent(c.TargetID)
	case game.ConditionAtLocation:
		return snap.CurrentLocation == c.TargetID
	case game.ConditionSceneActive:
		return snap.CurrentScene == c.TargetID
	case game.ConditionStatAtLeast:
		stats, ok := snap.CharacterStats[c.CharacterID]
		if !ok {
			return false
		}
		return stats[c.StatName] >= c.Threshold
	default:
		return false
	}
}
